// Package system wires the operational endpoints: health, statistics,
// and cache administration.
package system

import (
	"context"

	"github.com/parklens/parklens/api/server/router"
	"github.com/parklens/parklens/api/types"
)

// Backend is the set of operational calls the router needs.
type Backend interface {
	Stats(ctx context.Context) *types.StatsResponse
	VisionAvailable() bool
	InvalidateVersion(ctx context.Context, kind types.Kind) (int64, error)
	ClearCache(ctx context.Context, imageHash string) (int, error)
	CleanupCache(ctx context.Context) (int, error)
	WarmCache(ctx context.Context, imageHashes []string, kinds []types.Kind) (int, error)
}

type systemRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter builds the system router.
func NewRouter(backend Backend) router.Router {
	sr := &systemRouter{backend: backend}
	sr.routes = []router.Route{
		router.NewGetRoute("/_ping", sr.ping),
		router.NewGetRoute("/healthz", sr.getHealth),
		router.NewGetRoute("/stats", sr.getStats),
		router.NewPostRoute("/cache/invalidate/{kind}", sr.postInvalidate),
		router.NewPostRoute("/cache/clear", sr.postClear),
		router.NewPostRoute("/cache/cleanup", sr.postCleanup),
		router.NewPostRoute("/cache/warm", sr.postWarm),
	}
	return sr
}

func (sr *systemRouter) Routes() []router.Route {
	return sr.routes
}
