package image

import (
	"context"
	"net/http"
	"strconv"

	"github.com/parklens/parklens/api/server/httputils"
	"github.com/parklens/parklens/api/types"
)

// readUploadBody accepts either a multipart upload under the "file" field
// or a raw request body with the filename in the query string.
func (ir *imageRouter) readUploadBody(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(ir.maxUploadBytes); err == nil {
		file, header, ferr := r.FormFile("file")
		if ferr == nil {
			defer file.Close()
			data, rerr := httputils.ReadLimited(file, ir.maxUploadBytes)
			if rerr != nil {
				return nil, "", rerr
			}
			return data, header.Filename, nil
		}
	}
	data, err := httputils.ReadLimitedBody(r, ir.maxUploadBytes)
	if err != nil {
		return nil, "", err
	}
	return data, r.FormValue("filename"), nil
}

func (ir *imageRouter) postUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	data, filename, err := ir.readUploadBody(r)
	if err != nil {
		return err
	}
	res, err := ir.backend.UploadImage(ctx, data, filename)
	if err != nil {
		return err
	}
	code := http.StatusCreated
	if res.Status == types.UploadDuplicate {
		code = http.StatusOK
	}
	return httputils.WriteJSON(w, code, res)
}

func (ir *imageRouter) postCheckDuplicate(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	data, _, err := ir.readUploadBody(r)
	if err != nil {
		return err
	}
	check, err := ir.backend.CheckDuplicate(ctx, data)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, check)
}

func (ir *imageRouter) getList(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	limit, err := httputils.IntValueOrDefault(r, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := httputils.IntValueOrDefault(r, "offset", 0)
	if err != nil {
		return err
	}
	records, total, err := ir.backend.ListImages(ctx, types.ListImagesOptions{
		Limit:          limit,
		Offset:         offset,
		FilenameFilter: r.Form.Get("filename"),
	})
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"images": records,
		"total":  total,
	})
}

func (ir *imageRouter) getInfo(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rec, err := ir.backend.GetImageInfo(ctx, vars["hash"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, rec)
}

func (ir *imageRouter) getDownload(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	data, mimeType, err := ir.backend.ImageBytes(ctx, vars["hash"])
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, err = w.Write(data)
	return err
}

func (ir *imageRouter) deleteImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := ir.backend.DeleteImage(ctx, vars["hash"]); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
