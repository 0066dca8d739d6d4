// Package types holds the wire-level types shared by the daemon and the API
// layer: analysis kinds, the response envelope, and the artifact union.
package types

// Kind identifies one analysis result family. Each kind has its own cache
// TTL and version counter.
type Kind string

const (
	KindDetect   Kind = "detect"
	KindSegment  Kind = "segment"
	KindExtract  Kind = "extract"
	KindBatch    Kind = "batch"
	KindNature   Kind = "nature"
	KindFaces    Kind = "faces"
	KindAnnotate Kind = "annotate"
)

// Kinds lists every valid analysis kind.
func Kinds() []Kind {
	return []Kind{KindDetect, KindSegment, KindExtract, KindBatch, KindNature, KindFaces, KindAnnotate}
}

// ValidKind reports whether k names a known analysis kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindDetect, KindSegment, KindExtract, KindBatch, KindNature, KindFaces, KindAnnotate:
		return true
	}
	return false
}

// ErrorInfo is the error half of a response envelope.
type ErrorInfo struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Details           string `json:"details,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Envelope is the uniform response wrapper returned by every daemon
// operation.
type Envelope struct {
	Success          bool       `json:"success"`
	FromCache        bool       `json:"from_cache"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	Result           *Artifact  `json:"result,omitempty"`
	Error            *ErrorInfo `json:"error,omitempty"`
	// Enabled is false when the vision collaborator is down and the
	// response reflects degraded mode rather than a failure to retry.
	Enabled bool `json:"enabled"`
}

// UploadStatus discriminates the outcome of an image ingestion.
type UploadStatus string

const (
	UploadStored    UploadStatus = "stored"
	UploadDuplicate UploadStatus = "duplicate"
	UploadSimilar   UploadStatus = "similar"
)

// SimilarImage describes a perceptually close record found during ingestion
// or duplicate checking.
type SimilarImage struct {
	ImageHash       string `json:"image_hash"`
	PerceptualHash  string `json:"perceptual_hash"`
	Filename        string `json:"filename"`
	HammingDistance int    `json:"hamming_distance"`
}

// UploadResult is the response of UploadImage.
type UploadResult struct {
	ImageHash      string         `json:"image_hash"`
	PerceptualHash string         `json:"perceptual_hash"`
	Status         UploadStatus   `json:"status"`
	IsDuplicate    bool           `json:"is_duplicate"`
	BlobURL        string         `json:"blob_url,omitempty"`
	SimilarImages  []SimilarImage `json:"similar_images"`
}

// DuplicateCheck is the response of CheckDuplicate.
type DuplicateCheck struct {
	IsDuplicate   bool           `json:"is_duplicate"`
	ExactMatches  []string       `json:"exact_matches"`
	SimilarImages []SimilarImage `json:"similar_images"`
}

// StatsResponse aggregates the counters surfaced by the Stats operation.
type StatsResponse struct {
	Cache    CacheStats   `json:"cache"`
	Storage  StorageStats `json:"storage"`
	Analysis UsageStats   `json:"analysis"`
}

// CacheStats reports result-cache effectiveness.
type CacheStats struct {
	Hits      int64                    `json:"hits"`
	Misses    int64                    `json:"misses"`
	Evictions int64                    `json:"evictions"`
	Bytes     int64                    `json:"bytes"`
	Entries   int                      `json:"entries"`
	HitRate   float64                  `json:"hit_rate"`
	PerKind   map[string]KindCacheStat `json:"per_kind"`
}

// KindCacheStat is the per-kind slice of CacheStats.
type KindCacheStat struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Version int64 `json:"version"`
}

// StorageStats reports image store usage.
type StorageStats struct {
	TotalImages int64 `json:"total_images"`
	TotalBytes  int64 `json:"total_bytes"`
}

// UsageStats reports analysis traffic.
type UsageStats struct {
	Requests     int64 `json:"requests"`
	VisionCalls  int64 `json:"vision_calls"`
	BatchJobs    int64 `json:"batch_jobs"`
	Failures     int64 `json:"failures"`
	Renders      int64 `json:"renders"`
	Ingested     int64 `json:"ingested"`
	Deduplicated int64 `json:"deduplicated"`
}
