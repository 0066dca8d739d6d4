// Package router defines how the API server discovers routes: each
// feature area implements Router and contributes its routes to the mux.
package router

import "github.com/parklens/parklens/api/server/httputils"

// Router is implemented by each feature router.
type Router interface {
	Routes() []Route
}

// Route is one method and path bound to a handler.
type Route interface {
	Method() string
	Path() string
	Handler() httputils.APIFunc
}

type localRoute struct {
	method  string
	path    string
	handler httputils.APIFunc
}

func (r localRoute) Method() string             { return r.method }
func (r localRoute) Path() string               { return r.path }
func (r localRoute) Handler() httputils.APIFunc { return r.handler }

// NewRoute builds a route for an arbitrary method.
func NewRoute(method, path string, handler httputils.APIFunc) Route {
	return localRoute{method: method, path: path, handler: handler}
}

// NewGetRoute builds a GET route.
func NewGetRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("GET", path, handler)
}

// NewPostRoute builds a POST route.
func NewPostRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("POST", path, handler)
}

// NewDeleteRoute builds a DELETE route.
func NewDeleteRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("DELETE", path, handler)
}
