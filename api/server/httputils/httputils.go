// Package httputils provides the shared plumbing of the HTTP routers:
// request parsing helpers, JSON responses, and the single place where
// error kinds become HTTP status codes.
package httputils

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/parklens/parklens/errdefs"
)

// APIFunc is the signature of all route handlers.
type APIFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// ReadJSON decodes the request body into v, rejecting trailing garbage.
func ReadJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errdefs.Validation(errors.Wrap(err, "invalid JSON request body"))
	}
	if dec.More() {
		return errdefs.Validation(errors.New("unexpected content after JSON body"))
	}
	return nil
}

// ReadLimited reads at most limit bytes from r.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errdefs.Validation(errors.Wrap(err, "reading request body"))
	}
	if int64(len(body)) > limit {
		return nil, errdefs.Validation(errors.Errorf("request body exceeds %d bytes", limit))
	}
	return body, nil
}

// ReadLimitedBody reads at most limit bytes of the request body.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	return ReadLimited(r.Body, limit)
}

// BoolValue interprets a form value as a boolean. Empty, "0", "no",
// "false" and "none" are false, anything else is true.
func BoolValue(r *http.Request, k string) bool {
	s := strings.ToLower(strings.TrimSpace(r.FormValue(k)))
	return !(s == "" || s == "0" || s == "no" || s == "false" || s == "none")
}

// IntValueOrDefault parses a form value as an int, returning def when the
// value is absent.
func IntValueOrDefault(r *http.Request, field string, def int) (int, error) {
	if r.Form.Get(field) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(r.Form.Get(field))
	if err != nil {
		return 0, errdefs.Validation(errors.Wrapf(err, "invalid value for %s", field))
	}
	return v, nil
}

// StatusFromError maps an error kind onto its HTTP status code.
func StatusFromError(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsRateLimit(err):
		return http.StatusTooManyRequests
	case errdefs.IsVisionService(err):
		return http.StatusBadGateway
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error body, with a Retry-After header
// when the error carries a hint.
func WriteError(w http.ResponseWriter, err error) error {
	if retryAfter := errdefs.RetryAfter(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	return WriteJSON(w, StatusFromError(err), map[string]interface{}{
		"code":    errdefs.Code(err),
		"message": err.Error(),
	})
}
