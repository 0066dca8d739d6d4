// Package batch fans analysis work out across (image, kind) pairs with a
// bounded worker pool. Item failures are isolated: one bad image never
// fails its peers, and cancellation yields a partial result that preserves
// everything already computed.
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/pkg/retry"
)

// Executor computes one item's artifact. The second return reports whether
// the artifact came from the cache.
type Executor func(ctx context.Context, imageHash string, kind types.Kind, params types.AnalyzeParams) (*types.Artifact, bool, error)

const (
	itemRetryAttempts = 3

	// defaultMaxJobs caps the finished-batch registry.
	defaultMaxJobs = 128
)

// DefaultConcurrency bounds the worker pool when the request does not.
func DefaultConcurrency() int {
	n := 4 * runtime.NumCPU()
	if n > 32 {
		n = 32
	}
	return n
}

// Orchestrator runs batches and keeps finished results addressable by
// batch ID.
type Orchestrator struct {
	exec        Executor
	concurrency int
	policy      retry.Policy
	maxJobs     int

	mu   sync.Mutex
	jobs map[string]*types.BatchResult
}

// New builds an Orchestrator around exec. A non-positive concurrency
// selects DefaultConcurrency.
func New(exec Executor, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = itemRetryAttempts
	policy = policy.WithRetryable(retryableItem)
	return &Orchestrator{
		exec:        exec,
		concurrency: concurrency,
		policy:      policy,
		maxJobs:     defaultMaxJobs,
		jobs:        make(map[string]*types.BatchResult),
	}
}

// retryableItem marks the transient error classes worth another attempt.
// Validation and not-found failures are terminal on first occurrence.
func retryableItem(err error) bool {
	if errdefs.IsValidation(err) || errdefs.IsNotFound(err) {
		return false
	}
	return errdefs.IsTransient(err) || errdefs.IsUnavailable(err) || errdefs.IsTimeout(err)
}

// Run executes the batch and returns the aligned result: for each image
// hash, every requested kind in request order.
func (o *Orchestrator) Run(ctx context.Context, req types.BatchRequest) *types.BatchResult {
	started := time.Now()
	result := &types.BatchResult{
		BatchID:   uuid.New().String(),
		Status:    types.BatchRunning,
		Items:     make([]types.BatchItem, 0, len(req.ImageHashes)*len(req.Kinds)),
		StartedAt: started.UTC(),
	}
	for _, hash := range req.ImageHashes {
		for _, kind := range req.Kinds {
			result.Items = append(result.Items, types.BatchItem{ImageHash: hash, Kind: kind})
		}
	}
	o.register(result)

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = o.concurrency
	}
	log.G(ctx).WithFields(log.Fields{
		"batch_id":    result.BatchID,
		"items":       len(result.Items),
		"concurrency": concurrency,
	}).Info("batch started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range result.Items {
		i := i
		g.Go(func() error {
			item := &result.Items[i]
			if gctx.Err() != nil {
				item.Error = &types.BatchItemError{
					Code:      "CANCELLED",
					Message:   "batch cancelled before item started",
					RetryHint: true,
				}
				return nil
			}
			o.runItem(gctx, item, req.Params)
			return nil
		})
	}
	g.Wait()

	o.finish(ctx, result, started)
	return result
}

func (o *Orchestrator) runItem(ctx context.Context, item *types.BatchItem, params types.AnalyzeParams) {
	var artifact *types.Artifact
	var fromCache bool
	err := o.policy.Run(ctx, "batch item", func(ctx context.Context) error {
		var err error
		artifact, fromCache, err = o.exec(ctx, item.ImageHash, item.Kind, params)
		return err
	})
	if err != nil {
		if ctx.Err() != nil && !errdefs.IsTimeout(err) {
			item.Error = &types.BatchItemError{
				Code:      "CANCELLED",
				Message:   "batch cancelled while item was running",
				RetryHint: true,
			}
			return
		}
		item.Error = &types.BatchItemError{
			Code:      errdefs.Code(err),
			Message:   err.Error(),
			RetryHint: retryableItem(err),
		}
		return
	}
	item.Artifact = artifact
	item.FromCache = fromCache
}

func (o *Orchestrator) finish(ctx context.Context, result *types.BatchResult, started time.Time) {
	summary := types.BatchSummary{
		Total:            len(result.Items),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
	cancelled := false
	for i := range result.Items {
		item := &result.Items[i]
		switch {
		case item.Error == nil && item.Artifact != nil:
			summary.Success++
			if item.FromCache {
				summary.CacheHits++
			}
		default:
			summary.Failed++
			if item.Error != nil && item.Error.Code == "CANCELLED" {
				cancelled = true
			}
		}
	}
	result.Summary = summary
	if cancelled || ctx.Err() != nil {
		result.Status = types.BatchPartial
		result.Partial = true
	} else {
		result.Status = types.BatchCompleted
	}
	o.register(result)

	log.G(ctx).WithFields(log.Fields{
		"batch_id": result.BatchID,
		"success":  summary.Success,
		"failed":   summary.Failed,
		"partial":  result.Partial,
	}).Info("batch finished")
}

// register stores an immutable snapshot of result. Workers keep writing
// the live result's items, so the registry must never alias that slice.
func (o *Orchestrator) register(result *types.BatchResult) {
	snapshot := *result
	snapshot.Items = append([]types.BatchItem(nil), result.Items...)
	o.mu.Lock()
	o.jobs[snapshot.BatchID] = &snapshot
	o.pruneLocked()
	o.mu.Unlock()
}

// pruneLocked drops the oldest finished batches once the registry
// outgrows maxJobs. Running batches are never dropped.
func (o *Orchestrator) pruneLocked() {
	for len(o.jobs) > o.maxJobs {
		var oldestID string
		var oldest time.Time
		for id, r := range o.jobs {
			if r.Status == types.BatchRunning {
				continue
			}
			if oldestID == "" || r.StartedAt.Before(oldest) {
				oldestID, oldest = id, r.StartedAt
			}
		}
		if oldestID == "" {
			return
		}
		delete(o.jobs, oldestID)
	}
}

// Lookup returns a snapshot of a previously run batch by ID.
func (o *Orchestrator) Lookup(batchID string) (*types.BatchResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.jobs[batchID]
	return r, ok
}
