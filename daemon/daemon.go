// Package daemon is the request coordinator: it translates one client
// operation into calls against the image store, blob store, vision client,
// analyzer, renderer, and result cache, and assembles the uniform response
// envelope. It is the only layer that converts domain errors into
// envelopes; nothing below it formats responses.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/batch"
	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/cache"
	"github.com/parklens/parklens/daemon/config"
	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/image"
	"github.com/parklens/parklens/vision"
)

// usage tracks analysis traffic counters.
type usage struct {
	requests     atomic.Int64
	visionCalls  atomic.Int64
	batchJobs    atomic.Int64
	failures     atomic.Int64
	renders      atomic.Int64
	ingested     atomic.Int64
	deduplicated atomic.Int64
}

// Daemon coordinates all operations. All methods are safe for concurrent
// use. Returned artifacts are shared and must not be mutated by callers.
type Daemon struct {
	config *config.Config
	images *image.Store
	blobs  blobstore.Store
	vision *vision.Guard
	cache  *cache.Cache
	batch  *batch.Orchestrator
	usage  usage
}

// New assembles a Daemon from its collaborators.
func New(cfg *config.Config, images *image.Store, blobs blobstore.Store, guard *vision.Guard, resultCache *cache.Cache) *Daemon {
	d := &Daemon{
		config: cfg,
		images: images,
		blobs:  blobs,
		vision: guard,
		cache:  resultCache,
	}
	d.batch = batch.New(d.executeBatchItem, cfg.Batch.DefaultConcurrency)
	return d
}

// Cache exposes the result cache, for warm-up wiring.
func (d *Daemon) Cache() *cache.Cache {
	return d.cache
}

// VisionAvailable reports whether the vision circuit breaker admits calls.
func (d *Daemon) VisionAvailable() bool {
	return d.vision.Available()
}

// envelope assembles the uniform response wrapper. A circuit-open error
// marks the response as degraded via Enabled=false.
func (d *Daemon) envelope(start time.Time, artifact *types.Artifact, fromCache bool, err error) *types.Envelope {
	env := &types.Envelope{
		FromCache:        fromCache,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Enabled:          true,
	}
	if err != nil {
		d.usage.failures.Add(1)
		env.Success = false
		env.Error = &types.ErrorInfo{
			Code:              errdefs.Code(err),
			Message:           err.Error(),
			RetryAfterSeconds: errdefs.RetryAfter(err),
		}
		if errdefs.IsUnavailable(err) {
			env.Enabled = false
		}
		return env
	}
	env.Success = true
	env.Result = artifact
	return env
}

// validateAnalyzeParams enforces the documented field ranges.
func validateAnalyzeParams(p types.AnalyzeParams) error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return errdefs.Validation(errors.Errorf("confidence threshold %v out of range 0..1", p.ConfidenceThreshold))
	}
	if p.MaxResults < 0 {
		return errdefs.Validation(errors.Errorf("max results %d must not be negative", p.MaxResults))
	}
	return nil
}

// Stats reports cache, storage, and analysis counters.
func (d *Daemon) Stats(ctx context.Context) *types.StatsResponse {
	return &types.StatsResponse{
		Cache: d.cache.Stats(),
		Storage: types.StorageStats{
			TotalImages: int64(d.images.Count()),
			TotalBytes:  d.images.TotalBytes(),
		},
		Analysis: types.UsageStats{
			Requests:     d.usage.requests.Load(),
			VisionCalls:  d.usage.visionCalls.Load(),
			BatchJobs:    d.usage.batchJobs.Load(),
			Failures:     d.usage.failures.Load(),
			Renders:      d.usage.renders.Load(),
			Ingested:     d.usage.ingested.Load(),
			Deduplicated: d.usage.deduplicated.Load(),
		},
	}
}

// InvalidateVersion bumps the version counter for kind.
func (d *Daemon) InvalidateVersion(ctx context.Context, kind types.Kind) (int64, error) {
	if !types.ValidKind(kind) {
		return 0, errdefs.Validation(errors.Errorf("unknown analysis kind %q", kind))
	}
	return d.cache.InvalidateVersion(ctx, kind)
}

// ClearCache removes cached entries, optionally scoped to one image.
func (d *Daemon) ClearCache(ctx context.Context, imageHash string) (int, error) {
	if imageHash != "" && !image.ValidContentHash(imageHash) {
		return 0, errdefs.Validation(errors.Errorf("invalid image hash %q", imageHash))
	}
	return d.cache.Clear(ctx, imageHash)
}

// CleanupCache purges expired and version-orphaned cache entries.
func (d *Daemon) CleanupCache(ctx context.Context) (int, error) {
	return d.cache.Cleanup(ctx)
}

// WarmCache precomputes analysis entries for the given images and kinds
// with default parameters.
func (d *Daemon) WarmCache(ctx context.Context, imageHashes []string, kinds []types.Kind) (int, error) {
	var targets []cache.WarmTarget
	for _, hash := range imageHashes {
		hash := hash
		if !image.ValidContentHash(hash) {
			return 0, errdefs.Validation(errors.Errorf("invalid image hash %q", hash))
		}
		for _, kind := range kinds {
			kind := kind
			fp, compute, err := d.computePlan(hash, kind)
			if err != nil {
				return 0, err
			}
			targets = append(targets, cache.WarmTarget{
				Kind:        kind,
				ImageHash:   hash,
				Fingerprint: fp,
				Compute:     compute,
			})
		}
	}
	n := d.cache.Warm(ctx, targets)
	log.G(ctx).WithFields(log.Fields{
		"targets":  len(targets),
		"computed": n,
	}).Info("cache warm complete")
	return n, nil
}
