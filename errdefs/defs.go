// Package errdefs defines the error kinds used throughout parklens and
// helpers to create and detect them. Components return plain errors wrapped
// with one of the kinds below; the API layer is the only place that turns a
// kind into an HTTP status.
package errdefs

// ErrValidation signals malformed input, out-of-range parameters or an
// unsupported format.
type ErrValidation interface {
	Validation()
}

// ErrNotFound signals that a referenced image or cache entry does not exist.
type ErrNotFound interface {
	NotFound()
}

// ErrRateLimit signals that the rate-limit collaborator rejected the request.
type ErrRateLimit interface {
	RateLimit()
}

// ErrVisionService signals a failure of the upstream vision provider.
type ErrVisionService interface {
	VisionService()
}

// ErrStorage signals an object-store failure.
type ErrStorage interface {
	Storage()
}

// ErrUnavailable signals that a required collaborator is down or its circuit
// breaker is open.
type ErrUnavailable interface {
	Unavailable()
}

// ErrTimeout signals that an operation exceeded its deadline.
type ErrTimeout interface {
	Timeout()
}

// ErrCache signals a cache backend failure. It is logged and degraded, never
// surfaced to clients.
type ErrCache interface {
	Cache()
}

// ErrProcessing is the catch-all for internal transform failures.
type ErrProcessing interface {
	Processing()
}

// ErrTransient marks an error class that a retry policy may attempt again.
type ErrTransient interface {
	Transient() bool
}

// ErrRetryAfter carries a hint for when the caller may retry.
type ErrRetryAfter interface {
	RetryAfterSeconds() int
}

// Coder is implemented by all errors created by this package. Codes are
// stable upper-snake strings, one per kind.
type Coder interface {
	Code() string
}

// Stable error codes, one per kind.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeImageNotFound = "IMAGE_NOT_FOUND"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeVisionService = "VISION_SERVICE_ERROR"
	CodeStorage       = "STORAGE_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeTimeout       = "TIMEOUT_ERROR"
	CodeCache         = "CACHE_ERROR"
	CodeProcessing    = "PROCESSING_ERROR"
	CodeUnknown       = "INTERNAL_ERROR"
)
