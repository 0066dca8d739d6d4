// Package vision wraps the remote vision provider. Calls go through a
// retry policy and a circuit breaker so a failing provider degrades the
// service instead of taking it down.
package vision

import (
	"context"

	"github.com/parklens/parklens/api/types"
)

// Feature selects one annotation family from the provider.
type Feature string

const (
	FeatureObjects    Feature = "objects"
	FeatureLabels     Feature = "labels"
	FeatureFaces      Feature = "faces"
	FeatureProperties Feature = "properties"
)

// AllFeatures lists every feature the provider supports.
func AllFeatures() []Feature {
	return []Feature{FeatureObjects, FeatureLabels, FeatureFaces, FeatureProperties}
}

// Bundle is the combined annotation response for one image. A feature that
// failed individually has an entry in Errors and its result slice empty;
// the bundle as a whole is still usable.
type Bundle struct {
	Objects []types.Detection
	Labels  []types.Label
	Faces   []types.Face
	Colors  []types.ColorInfo
	Errors  map[Feature]error
}

// FeatureErr returns the per-feature error for f, or nil.
func (b *Bundle) FeatureErr(f Feature) error {
	if b.Errors == nil {
		return nil
	}
	return b.Errors[f]
}

// Client annotates images. Implementations must be safe for concurrent use.
type Client interface {
	// Annotate runs the requested features against one image.
	Annotate(ctx context.Context, imageData []byte, features []Feature) (*Bundle, error)
}
