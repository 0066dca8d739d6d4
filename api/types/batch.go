package types

import "time"

// BatchRequest fans one parameter set out across images and kinds.
type BatchRequest struct {
	ImageHashes []string      `json:"image_hashes"`
	Kinds       []Kind        `json:"kinds"`
	Params      AnalyzeParams `json:"params"`
	// Concurrency bounds the worker pool; 0 selects the configured default.
	Concurrency int `json:"concurrency,omitempty"`
}

// BatchItemError describes one failed batch item.
type BatchItemError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RetryHint bool   `json:"retry_hint"`
}

// BatchItem is the outcome of one (image, kind) pair. Items are returned
// aligned to the input Cartesian product: for each image, every kind in
// request order.
type BatchItem struct {
	ImageHash string          `json:"image_hash"`
	Kind      Kind            `json:"kind"`
	Artifact  *Artifact       `json:"artifact,omitempty"`
	FromCache bool            `json:"from_cache"`
	Error     *BatchItemError `json:"error,omitempty"`
}

// BatchSummary aggregates the terminal state of a batch.
type BatchSummary struct {
	Total            int   `json:"total"`
	Success          int   `json:"success"`
	Failed           int   `json:"failed"`
	CacheHits        int   `json:"cache_hit_count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// BatchStatus tracks a registered batch job's lifecycle.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchCancelled BatchStatus = "cancelled"
)

// BatchResult is the aligned outcome of a batch run. Partial is true when
// the run was cancelled before all items reached a terminal state; completed
// items are preserved.
type BatchResult struct {
	BatchID   string       `json:"batch_id"`
	Status    BatchStatus  `json:"status"`
	Partial   bool         `json:"partial"`
	Items     []BatchItem  `json:"items"`
	Summary   BatchSummary `json:"summary"`
	StartedAt time.Time    `json:"started_at"`
}
