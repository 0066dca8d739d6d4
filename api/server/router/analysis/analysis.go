// Package analysis wires the analysis endpoints: single-image analyses,
// natural-element analysis, annotated renders, and batch jobs.
package analysis

import (
	"net/http"

	"github.com/parklens/parklens/api/server/router"
	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
)

type analysisRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter builds the analysis router.
func NewRouter(backend Backend) router.Router {
	ar := &analysisRouter{backend: backend}
	ar.routes = []router.Route{
		router.NewPostRoute("/analyze", ar.postAnalyze),
		router.NewPostRoute("/analyze/nature", ar.postNature),
		router.NewPostRoute("/images/{hash}/annotated", ar.postAnnotated),
		router.NewPostRoute("/batch", ar.postBatch),
		router.NewGetRoute("/batch/{id}", ar.getBatch),
	}
	return ar
}

func (ar *analysisRouter) Routes() []router.Route {
	return ar.routes
}

// statusForEnvelope picks the HTTP status for a completed envelope. The
// envelope body itself is always written; failures reuse the error-kind
// status mapping.
func statusForEnvelope(env *types.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	switch env.Error.Code {
	case errdefs.CodeValidation:
		return http.StatusBadRequest
	case errdefs.CodeNotFound, errdefs.CodeImageNotFound:
		return http.StatusNotFound
	case errdefs.CodeRateLimit:
		return http.StatusTooManyRequests
	case errdefs.CodeVisionService:
		return http.StatusBadGateway
	case errdefs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errdefs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
