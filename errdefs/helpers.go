package errdefs

import (
	"context"
	"errors"
)

type errValidation struct{ error }

func (errValidation) Validation()     {}
func (errValidation) Code() string    { return CodeValidation }
func (e errValidation) Unwrap() error { return e.error }

type errNotFound struct {
	error
	code string
}

func (errNotFound) NotFound()       {}
func (e errNotFound) Code() string  { return e.code }
func (e errNotFound) Unwrap() error { return e.error }

type errRateLimit struct {
	error
	retryAfter int
}

func (errRateLimit) RateLimit()               {}
func (errRateLimit) Code() string             { return CodeRateLimit }
func (e errRateLimit) RetryAfterSeconds() int { return e.retryAfter }
func (e errRateLimit) Unwrap() error          { return e.error }

type errVisionService struct {
	error
	transient  bool
	retryAfter int
}

func (errVisionService) VisionService()           {}
func (errVisionService) Code() string             { return CodeVisionService }
func (e errVisionService) Transient() bool        { return e.transient }
func (e errVisionService) RetryAfterSeconds() int { return e.retryAfter }
func (e errVisionService) Unwrap() error          { return e.error }

type errStorage struct {
	error
	transient bool
}

func (errStorage) Storage()          {}
func (errStorage) Code() string      { return CodeStorage }
func (e errStorage) Transient() bool { return e.transient }
func (e errStorage) Unwrap() error   { return e.error }

type errUnavailable struct {
	error
	retryAfter int
}

func (errUnavailable) Unavailable()             {}
func (errUnavailable) Code() string             { return CodeUnavailable }
func (e errUnavailable) Transient() bool        { return true }
func (e errUnavailable) RetryAfterSeconds() int { return e.retryAfter }
func (e errUnavailable) Unwrap() error          { return e.error }

type errTimeout struct{ error }

func (errTimeout) Timeout()        {}
func (errTimeout) Code() string    { return CodeTimeout }
func (errTimeout) Transient() bool { return true }
func (e errTimeout) Unwrap() error { return e.error }

type errCache struct{ error }

func (errCache) Cache()          {}
func (errCache) Code() string    { return CodeCache }
func (e errCache) Unwrap() error { return e.error }

type errProcessing struct {
	error
	operation string
}

func (errProcessing) Processing()         {}
func (errProcessing) Code() string        { return CodeProcessing }
func (e errProcessing) Unwrap() error     { return e.error }
func (e errProcessing) Operation() string { return e.operation }

// Validation wraps err so it is recognized as a validation error.
func Validation(err error) error {
	if err == nil || IsValidation(err) {
		return err
	}
	return errValidation{err}
}

// NotFound wraps err so it is recognized as a not-found error.
func NotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return errNotFound{error: err, code: CodeNotFound}
}

// ImageNotFound is NotFound with the image-specific code used by batch item
// errors and the image endpoints.
func ImageNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return errNotFound{error: err, code: CodeImageNotFound}
}

// RateLimit wraps err as a rate-limit rejection with a retry hint.
func RateLimit(err error, retryAfterSeconds int) error {
	if err == nil || IsRateLimit(err) {
		return err
	}
	return errRateLimit{error: err, retryAfter: retryAfterSeconds}
}

// VisionService wraps err as an upstream vision failure. Transient failures
// are eligible for retry.
func VisionService(err error, transient bool) error {
	if err == nil || IsVisionService(err) {
		return err
	}
	return errVisionService{error: err, transient: transient}
}

// Storage wraps err as an object-store failure.
func Storage(err error, transient bool) error {
	if err == nil || IsStorage(err) {
		return err
	}
	return errStorage{error: err, transient: transient}
}

// Unavailable wraps err as a circuit-open or collaborator-down condition.
func Unavailable(err error, retryAfterSeconds int) error {
	if err == nil || IsUnavailable(err) {
		return err
	}
	return errUnavailable{error: err, retryAfter: retryAfterSeconds}
}

// Timeout wraps err as a deadline failure.
func Timeout(err error) error {
	if err == nil || IsTimeout(err) {
		return err
	}
	return errTimeout{err}
}

// Cache wraps err as an internal cache failure.
func Cache(err error) error {
	if err == nil || IsCache(err) {
		return err
	}
	return errCache{err}
}

// Processing wraps err as an internal transform failure, recording the
// operation for diagnostics.
func Processing(err error, operation string) error {
	if err == nil || IsProcessing(err) {
		return err
	}
	return errProcessing{error: err, operation: operation}
}

func getImplementer(err error) error {
	switch err.(type) {
	case ErrValidation, ErrNotFound, ErrRateLimit, ErrVisionService,
		ErrStorage, ErrUnavailable, ErrTimeout, ErrCache, ErrProcessing:
		return err
	}
	if wrapped := errors.Unwrap(err); wrapped != nil {
		return getImplementer(wrapped)
	}
	return err
}

// IsValidation reports whether err or any of its causes is a validation error.
func IsValidation(err error) bool {
	_, ok := getImplementer(err).(ErrValidation)
	return ok
}

// IsNotFound reports whether err or any of its causes is a not-found error.
func IsNotFound(err error) bool {
	_, ok := getImplementer(err).(ErrNotFound)
	return ok
}

// IsRateLimit reports whether err or any of its causes is a rate-limit error.
func IsRateLimit(err error) bool {
	_, ok := getImplementer(err).(ErrRateLimit)
	return ok
}

// IsVisionService reports whether err or any of its causes is an upstream
// vision failure.
func IsVisionService(err error) bool {
	_, ok := getImplementer(err).(ErrVisionService)
	return ok
}

// IsStorage reports whether err or any of its causes is an object-store
// failure.
func IsStorage(err error) bool {
	_, ok := getImplementer(err).(ErrStorage)
	return ok
}

// IsUnavailable reports whether err or any of its causes signals a
// collaborator-down condition.
func IsUnavailable(err error) bool {
	_, ok := getImplementer(err).(ErrUnavailable)
	return ok
}

// IsTimeout reports whether err or any of its causes is a deadline failure.
// context.DeadlineExceeded counts as a timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	_, ok := getImplementer(err).(ErrTimeout)
	return ok
}

// IsCache reports whether err or any of its causes is a cache failure.
func IsCache(err error) bool {
	_, ok := getImplementer(err).(ErrCache)
	return ok
}

// IsProcessing reports whether err or any of its causes is an internal
// transform failure.
func IsProcessing(err error) bool {
	_, ok := getImplementer(err).(ErrProcessing)
	return ok
}

// IsTransient reports whether err belongs to a class that a retry policy may
// attempt again.
func IsTransient(err error) bool {
	if t, ok := getImplementer(err).(ErrTransient); ok {
		return t.Transient()
	}
	return IsTimeout(err)
}

// Code returns the stable code for err, or CodeUnknown when err carries none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := getImplementer(err).(Coder); ok {
		return c.Code()
	}
	if IsTimeout(err) {
		return CodeTimeout
	}
	return CodeUnknown
}

// RetryAfter returns the retry-after hint carried by err, or 0.
func RetryAfter(err error) int {
	if r, ok := getImplementer(err).(ErrRetryAfter); ok {
		return r.RetryAfterSeconds()
	}
	return 0
}
