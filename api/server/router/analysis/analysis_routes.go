package analysis

import (
	"context"
	"net/http"
	"strconv"

	"github.com/parklens/parklens/api/server/httputils"
	"github.com/parklens/parklens/api/types"
)

func writeEnvelope(w http.ResponseWriter, env *types.Envelope) error {
	if env.Error != nil && env.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(env.Error.RetryAfterSeconds))
	}
	return httputils.WriteJSON(w, statusForEnvelope(env), env)
}

func (ar *analysisRouter) postAnalyze(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	req := types.AnalyzeRequest{Params: types.DefaultAnalyzeParams()}
	if err := httputils.ReadJSON(r, &req); err != nil {
		return err
	}
	return writeEnvelope(w, ar.backend.Analyze(ctx, req))
}

func (ar *analysisRouter) postNature(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	req := types.NatureRequest{Params: types.DefaultNatureParams()}
	if err := httputils.ReadJSON(r, &req); err != nil {
		return err
	}
	return writeEnvelope(w, ar.backend.AnalyzeNature(ctx, req))
}

func (ar *analysisRouter) postAnnotated(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	req := types.DefaultRenderRequest()
	if r.ContentLength != 0 {
		if err := httputils.ReadJSON(r, &req); err != nil {
			return err
		}
	}
	return writeEnvelope(w, ar.backend.DownloadAnnotated(ctx, vars["hash"], req))
}

func (ar *analysisRouter) postBatch(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	req := types.BatchRequest{Params: types.DefaultAnalyzeParams()}
	if err := httputils.ReadJSON(r, &req); err != nil {
		return err
	}
	res, err := ar.backend.BatchAnalyze(ctx, req)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, res)
}

func (ar *analysisRouter) getBatch(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	res, err := ar.backend.GetBatch(vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, res)
}
