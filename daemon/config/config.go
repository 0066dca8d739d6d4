// Package config holds the daemon configuration: defaults, JSON file
// loading, and validation.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/pkg/retry"
)

// RedisConfig locates the shared result-cache backend.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// BlobConfig selects and configures the blob backend.
type BlobConfig struct {
	// Backend is "s3" or "memory".
	Backend       string `json:"backend"`
	Bucket        string `json:"bucket,omitempty"`
	Region        string `json:"region,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	PublicBaseURL string `json:"public-base-url,omitempty"`
}

// BreakerConfig tunes the vision circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32 `json:"failure-threshold"`
	RecoverySeconds  int    `json:"recovery-seconds"`
}

// VisionConfig locates the vision provider.
type VisionConfig struct {
	Endpoint       string        `json:"endpoint"`
	APIKey         string        `json:"api-key,omitempty"`
	TimeoutSeconds int           `json:"timeout-seconds"`
	CircuitBreaker BreakerConfig `json:"circuit-breaker"`
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	// MaxBytes accepts human-readable sizes ("512MiB").
	MaxBytes                  string            `json:"max-bytes"`
	SingleFlightTimeoutSecond int               `json:"single-flight-timeout-seconds"`
	TTLs                      map[string]string `json:"ttls,omitempty"`
}

// RetryConfig tunes the shared retry policy.
type RetryConfig struct {
	MaxAttempts int     `json:"max-attempts"`
	BaseMs      int     `json:"base-ms"`
	Factor      float64 `json:"factor"`
	JitterPct   int     `json:"jitter-pct"`
	MaxMs       int     `json:"max-ms"`
}

// BatchConfig tunes the batch orchestrator.
type BatchConfig struct {
	// DefaultConcurrency of 0 selects min(32, 4*num_cpus).
	DefaultConcurrency int `json:"default-concurrency"`
}

// AnalyzerConfig tunes the natural-element analyzer.
type AnalyzerConfig struct {
	ConfidenceThreshold float64 `json:"confidence-threshold"`
}

// Config is the daemon configuration.
type Config struct {
	ListenAddr string `json:"listen-addr"`
	StateDir   string `json:"state-dir"`

	MaxUploadBytes      int64    `json:"max-upload-bytes"`
	AllowedMimeTypes    []string `json:"allowed-mime-types"`
	SimilarityThreshold int      `json:"similarity-hamming-threshold"`

	Redis    RedisConfig    `json:"redis"`
	Blob     BlobConfig     `json:"blob"`
	Vision   VisionConfig   `json:"vision"`
	Cache    CacheConfig    `json:"cache"`
	Retry    RetryConfig    `json:"retry"`
	Batch    BatchConfig    `json:"batch"`
	Analyzer AnalyzerConfig `json:"analyzer"`
}

// New returns a Config with every option at its default.
func New() *Config {
	return &Config{
		ListenAddr:          "127.0.0.1:8080",
		StateDir:            "/var/lib/parklens",
		MaxUploadBytes:      10 * 1024 * 1024,
		AllowedMimeTypes:    []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/webp"},
		SimilarityThreshold: 5,
		Redis:               RedisConfig{Addr: "127.0.0.1:6379"},
		Blob:                BlobConfig{Backend: "memory"},
		Vision: VisionConfig{
			TimeoutSeconds: 15,
			CircuitBreaker: BreakerConfig{FailureThreshold: 5, RecoverySeconds: 60},
		},
		Cache: CacheConfig{
			MaxBytes:                  "512MiB",
			SingleFlightTimeoutSecond: 60,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseMs:      200,
			Factor:      2,
			JitterPct:   25,
			MaxMs:       10000,
		},
		Analyzer: AnalyzerConfig{ConfidenceThreshold: 0.3},
	}
}

// Load reads a JSON config file over the defaults. A missing path returns
// plain defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return errors.New("max-upload-bytes must be positive")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 64 {
		return errors.New("similarity-hamming-threshold must be in 0..64")
	}
	if c.Analyzer.ConfidenceThreshold < 0 || c.Analyzer.ConfidenceThreshold > 1 {
		return errors.New("analyzer.confidence-threshold must be in 0..1")
	}
	if c.Blob.Backend != "memory" && c.Blob.Backend != "s3" {
		return errors.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "s3" && c.Blob.Bucket == "" {
		return errors.New("blob.bucket is required for the s3 backend")
	}
	if _, err := c.CacheMaxBytes(); err != nil {
		return err
	}
	if _, err := c.CacheTTLs(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max-attempts must be at least 1")
	}
	return nil
}

// CacheMaxBytes parses the human-readable cache size.
func (c *Config) CacheMaxBytes() (int64, error) {
	n, err := units.RAMInBytes(c.Cache.MaxBytes)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing cache.max-bytes %q", c.Cache.MaxBytes)
	}
	return n, nil
}

// CacheTTLs parses the per-kind TTL overrides. Kinds not overridden keep
// their built-in defaults, which the cache fills in.
func (c *Config) CacheTTLs() (map[types.Kind]time.Duration, error) {
	if len(c.Cache.TTLs) == 0 {
		return nil, nil
	}
	out := make(map[types.Kind]time.Duration, len(c.Cache.TTLs))
	for kind, raw := range c.Cache.TTLs {
		if !types.ValidKind(types.Kind(kind)) {
			return nil, errors.Errorf("unknown cache ttl kind %q", kind)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing cache ttl for %s", kind)
		}
		out[types.Kind(kind)] = d
	}
	return out, nil
}

// RetryPolicy converts the retry options into a policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Base:        time.Duration(c.Retry.BaseMs) * time.Millisecond,
		Factor:      c.Retry.Factor,
		JitterPct:   c.Retry.JitterPct,
		Max:         time.Duration(c.Retry.MaxMs) * time.Millisecond,
	}
}
