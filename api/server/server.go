// Package server assembles the HTTP API: it mounts every feature router
// onto one mux and owns the listener lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/containerd/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/parklens/parklens/api/server/httputils"
	"github.com/parklens/parklens/api/server/router"
	"github.com/parklens/parklens/errdefs"
)

const (
	shutdownTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one request end to end, including
	// retries against the vision provider.
	defaultRequestTimeout = 60 * time.Second
)

// Server is the parklens API server.
type Server struct {
	routers        []router.Router
	requestTimeout time.Duration
}

// New builds a Server over the given feature routers.
func New(routers ...router.Router) *Server {
	return &Server{routers: routers, requestTimeout: defaultRequestTimeout}
}

func (s *Server) makeHTTPHandler(handler httputils.APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		r = r.WithContext(ctx)
		vars := mux.Vars(r)
		if vars == nil {
			vars = make(map[string]string)
		}
		if err := handler(ctx, w, r, vars); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errdefs.IsTimeout(err) {
				err = errdefs.Timeout(errors.Wrap(err, "request deadline exceeded"))
			}
			if errdefs.IsValidation(err) || errdefs.IsNotFound(err) {
				log.G(ctx).WithFields(log.Fields{
					"method": r.Method,
					"uri":    r.RequestURI,
				}).WithError(err).Debug("request rejected")
			} else {
				log.G(ctx).WithFields(log.Fields{
					"method": r.Method,
					"uri":    r.RequestURI,
				}).WithError(err).Error("handler error")
			}
			_ = httputils.WriteError(w, err)
		}
	}
}

// CreateMux mounts every router's routes. When metricsHandler is not nil
// it is mounted at /metrics.
func (s *Server) CreateMux(metricsHandler http.Handler) *mux.Router {
	m := mux.NewRouter()
	for _, r := range s.routers {
		for _, route := range r.Routes() {
			log.L.WithFields(log.Fields{
				"method": route.Method(),
				"path":   route.Path(),
			}).Debug("registering route")
			m.Path(route.Path()).Methods(route.Method()).Handler(s.makeHTTPHandler(route.Handler()))
		}
	}
	if metricsHandler != nil {
		m.Path("/metrics").Methods("GET").Handler(metricsHandler)
	}
	m.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httputils.WriteError(w, errdefs.NotFound(errors.Errorf("page not found: %s", r.URL.Path)))
	})
	return m
}

// Serve runs the API on addr until ctx is cancelled, then drains with a
// bounded shutdown.
func (s *Server) Serve(ctx context.Context, addr string, metricsHandler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.CreateMux(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.G(ctx).WithField("addr", addr).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "API server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "draining API server")
	}
	return nil
}
