// Package image wires the image-store endpoints: upload, duplicate
// checking, metadata, download, listing, and deletion.
package image

import "github.com/parklens/parklens/api/server/router"

type imageRouter struct {
	backend        Backend
	maxUploadBytes int64
	routes         []router.Route
}

// NewRouter builds the image router. Uploads larger than maxUploadBytes
// are rejected before they reach the store.
func NewRouter(backend Backend, maxUploadBytes int64) router.Router {
	ir := &imageRouter{backend: backend, maxUploadBytes: maxUploadBytes}
	ir.routes = []router.Route{
		router.NewPostRoute("/images/upload", ir.postUpload),
		router.NewPostRoute("/images/check-duplicate", ir.postCheckDuplicate),
		router.NewGetRoute("/images", ir.getList),
		router.NewGetRoute("/images/{hash}", ir.getInfo),
		router.NewGetRoute("/images/{hash}/download", ir.getDownload),
		router.NewDeleteRoute("/images/{hash}", ir.deleteImage),
	}
	return ir
}

func (ir *imageRouter) Routes() []router.Route {
	return ir.routes
}
