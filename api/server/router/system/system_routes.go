package system

import (
	"context"
	"net/http"

	"github.com/parklens/parklens/api/server/httputils"
	"github.com/parklens/parklens/api/types"
)

func (sr *systemRouter) ping(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := w.Write([]byte("OK"))
	return err
}

func (sr *systemRouter) getHealth(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	visionUp := sr.backend.VisionAvailable()
	status := "healthy"
	code := http.StatusOK
	if !visionUp {
		// serving from cache only
		status = "degraded"
	}
	return httputils.WriteJSON(w, code, map[string]interface{}{
		"status":           status,
		"vision_available": visionUp,
	})
}

func (sr *systemRouter) getStats(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	return httputils.WriteJSON(w, http.StatusOK, sr.backend.Stats(ctx))
}

func (sr *systemRouter) postInvalidate(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	version, err := sr.backend.InvalidateVersion(ctx, types.Kind(vars["kind"]))
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"kind":    vars["kind"],
		"version": version,
	})
}

func (sr *systemRouter) postClear(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	removed, err := sr.backend.ClearCache(ctx, r.Form.Get("image_hash"))
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (sr *systemRouter) postCleanup(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	removed, err := sr.backend.CleanupCache(ctx)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (sr *systemRouter) postWarm(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	var req struct {
		ImageHashes []string     `json:"image_hashes"`
		Kinds       []types.Kind `json:"kinds"`
	}
	if err := httputils.ReadJSON(r, &req); err != nil {
		return err
	}
	computed, err := sr.backend.WarmCache(ctx, req.ImageHashes, req.Kinds)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"computed": computed})
}
