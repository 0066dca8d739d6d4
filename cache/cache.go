// Package cache is the tiered analysis-result cache: a shared redis
// keyspace with per-kind TTLs and version stamping, fronted by an
// in-process LRU for hot keys. Misses are stampede-suppressed so one
// fingerprint computes at most once per instance at a time. When redis is
// unreachable the cache fails open: reads miss, writes are dropped, and
// the system degrades to uncached correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
)

const (
	// DefaultMaxBytes bounds tracked artifact bytes before eviction.
	DefaultMaxBytes = 512 * 1024 * 1024

	// evictTargetRatio is the fill level eviction drains to.
	evictTargetRatio = 0.8

	// DefaultSingleFlightTimeout bounds how long a waiter blocks on an
	// in-flight computation. The computation itself keeps running.
	DefaultSingleFlightTimeout = 60 * time.Second

	// DefaultIOTimeout bounds one redis round trip before the cache fails
	// open for that request.
	DefaultIOTimeout = 2 * time.Second

	defaultHotEntries = 4096

	versionKeyPrefix = "version:"
)

// DefaultTTLs is the per-kind expiry table.
func DefaultTTLs() map[types.Kind]time.Duration {
	return map[types.Kind]time.Duration{
		types.KindDetect:   24 * time.Hour,
		types.KindFaces:    24 * time.Hour,
		types.KindNature:   48 * time.Hour,
		types.KindAnnotate: 72 * time.Hour,
		types.KindSegment:  7 * 24 * time.Hour,
		types.KindExtract:  30 * 24 * time.Hour,
		types.KindBatch:    time.Hour,
	}
}

// defaultKindWeights orders kinds by recompute cost. Expensive results are
// protected from eviction.
func defaultKindWeights() map[types.Kind]float64 {
	return map[types.Kind]float64{
		types.KindExtract:  1.0,
		types.KindSegment:  0.9,
		types.KindNature:   0.7,
		types.KindAnnotate: 0.6,
		types.KindDetect:   0.4,
		types.KindFaces:    0.4,
		types.KindBatch:    0.1,
	}
}

// Eviction score weights.
const (
	weightTTL     = 0.3
	weightKind    = 0.4
	weightRecency = 0.3
)

// Config tunes a Cache. Zero values select documented defaults.
type Config struct {
	MaxBytes            int64
	TTLs                map[types.Kind]time.Duration
	KindWeights         map[types.Kind]float64
	SingleFlightTimeout time.Duration
	IOTimeout           time.Duration
	HotEntries          int
	Registerer          prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.TTLs == nil {
		c.TTLs = DefaultTTLs()
	}
	if c.KindWeights == nil {
		c.KindWeights = defaultKindWeights()
	}
	if c.SingleFlightTimeout == 0 {
		c.SingleFlightTimeout = DefaultSingleFlightTimeout
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.HotEntries == 0 {
		c.HotEntries = defaultHotEntries
	}
	return c
}

// storedEntry is the redis value envelope. Payload is opaque bytes, not
// necessarily JSON; encoding/json transports it base64-encoded.
type storedEntry struct {
	Payload   []byte        `json:"payload"`
	Kind      types.Kind    `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl_ns"`
}

func (e *storedEntry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// entryMeta is the in-memory bookkeeping used for scored eviction.
type entryMeta struct {
	key        string
	kind       types.Kind
	size       int64
	createdAt  time.Time
	lastAccess time.Time
	ttl        time.Duration
}

type kindCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Cache is the tiered result cache. All methods are safe for concurrent
// use.
type Cache struct {
	rdb     redis.UniversalClient
	hot     *lru.Cache[string, *storedEntry]
	group   singleflight.Group
	config  Config
	metrics *metrics

	mu         sync.Mutex
	index      map[string]*entryMeta
	totalBytes int64

	versionMu sync.RWMutex
	versions  map[types.Kind]int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	perKind   map[types.Kind]*kindCounters
}

// New builds a Cache on top of rdb and loads per-kind version counters.
func New(ctx context.Context, rdb redis.UniversalClient, config Config) (*Cache, error) {
	config = config.withDefaults()
	hot, err := lru.New[string, *storedEntry](config.HotEntries)
	if err != nil {
		return nil, errors.Wrap(err, "building hot cache")
	}
	c := &Cache{
		rdb:      rdb,
		hot:      hot,
		config:   config,
		metrics:  newMetrics(config.Registerer),
		index:    make(map[string]*entryMeta),
		versions: make(map[types.Kind]int64),
		perKind:  make(map[types.Kind]*kindCounters),
	}
	for _, k := range types.Kinds() {
		c.perKind[k] = &kindCounters{}
	}
	c.loadVersions(ctx)
	return c, nil
}

// loadVersions seeds the in-memory version table from redis. A missing
// counter is seeded to 1 in redis so later INCRs continue from the value
// this instance observed; an unreachable redis defaults to 1 locally.
func (c *Cache) loadVersions(ctx context.Context) {
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	for _, k := range types.Kinds() {
		c.versions[k] = 1
		versionKey := versionKeyPrefix + string(k)
		ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
		v, err := c.rdb.Get(ioCtx, versionKey).Int64()
		cancel()
		switch {
		case err == nil && v > 0:
			c.versions[k] = v
		case errors.Is(err, redis.Nil):
			ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
			err := c.rdb.SetNX(ioCtx, versionKey, 1, 0).Err()
			cancel()
			if err != nil {
				log.G(ctx).WithError(err).WithField("kind", k).Warn("could not seed cache version counter")
			}
		case err != nil:
			log.G(ctx).WithError(err).WithField("kind", k).Warn("could not load cache version counter")
		}
	}
}

// Version returns the current version stamp for kind.
func (c *Cache) Version(kind types.Kind) int64 {
	c.versionMu.RLock()
	defer c.versionMu.RUnlock()
	return c.versions[kind]
}

// Key builds the cache key for the current version of kind.
func (c *Cache) Key(kind types.Kind, imageHash, fingerprint string) string {
	return fmt.Sprintf("%s:v%d:%s:%s", kind, c.Version(kind), imageHash, fingerprint)
}

// TTLFor returns the configured expiry for kind.
func (c *Cache) TTLFor(kind types.Kind) time.Duration {
	if ttl, ok := c.config.TTLs[kind]; ok {
		return ttl
	}
	return 24 * time.Hour
}

// Get returns the cached payload for (kind, imageHash, fingerprint), or
// ok=false on miss. Redis failures are logged and read as a miss.
func (c *Cache) Get(ctx context.Context, kind types.Kind, imageHash, fingerprint string) ([]byte, bool) {
	key := c.Key(kind, imageHash, fingerprint)
	now := time.Now()

	if entry, ok := c.hot.Get(key); ok {
		if entry.expired(now) {
			c.hot.Remove(key)
		} else {
			c.recordHit(kind, key, now)
			return entry.Payload, true
		}
	}

	ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
	raw, err := c.rdb.Get(ioCtx, key).Bytes()
	cancel()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.G(ctx).WithError(err).WithField("key", key).Warn("cache read failed, treating as miss")
		}
		c.recordMiss(kind, key)
		return nil, false
	}
	var entry storedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.G(ctx).WithError(err).WithField("key", key).Warn("corrupt cache entry, treating as miss")
		c.recordMiss(kind, key)
		return nil, false
	}
	if entry.expired(now) {
		c.recordMiss(kind, key)
		return nil, false
	}
	c.hot.Add(key, &entry)
	c.recordHit(kind, key, now)
	return entry.Payload, true
}

// Put stores payload under (kind, imageHash, fingerprint) with the kind's
// TTL. Redis failures are logged and the write is dropped.
func (c *Cache) Put(ctx context.Context, kind types.Kind, imageHash, fingerprint string, payload []byte) {
	key := c.Key(kind, imageHash, fingerprint)
	ttl := c.TTLFor(kind)
	now := time.Now()
	entry := &storedEntry{
		Payload:   payload,
		Kind:      kind,
		CreatedAt: now,
		TTL:       ttl,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.G(ctx).WithError(err).WithField("key", key).Warn("could not encode cache entry")
		return
	}

	ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
	err = c.rdb.Set(ioCtx, key, raw, ttl).Err()
	cancel()
	if err != nil {
		log.G(ctx).WithError(err).WithField("key", key).Warn("cache write failed, dropping entry")
		return
	}
	c.hot.Add(key, entry)

	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.totalBytes -= old.size
	}
	c.index[key] = &entryMeta{
		key:        key,
		kind:       kind,
		size:       int64(len(payload)),
		createdAt:  now,
		lastAccess: now,
		ttl:        ttl,
	}
	c.totalBytes += int64(len(payload))
	evicted := c.evictLocked(ctx, now)
	entries := len(c.index)
	bytes := c.totalBytes
	c.mu.Unlock()

	c.metrics.entries.Set(float64(entries))
	c.metrics.bytes.Set(float64(bytes))
	if evicted > 0 {
		log.G(ctx).WithFields(log.Fields{
			"evicted": evicted,
			"bytes":   bytes,
		}).Info("cache eviction pass complete")
	}
}

// Touch refreshes the recency of key after an external HIT.
func (c *Cache) Touch(kind types.Kind, imageHash, fingerprint string) {
	c.touch(c.Key(kind, imageHash, fingerprint), time.Now())
}

func (c *Cache) touch(key string, now time.Time) {
	c.mu.Lock()
	if meta, ok := c.index[key]; ok {
		meta.lastAccess = now
	}
	c.mu.Unlock()
}

func (c *Cache) recordHit(kind types.Kind, key string, now time.Time) {
	c.hits.Add(1)
	if pk := c.perKind[kind]; pk != nil {
		pk.hits.Add(1)
	}
	c.metrics.hits.WithLabelValues(string(kind)).Inc()
	c.touch(key, now)
}

func (c *Cache) recordMiss(kind types.Kind, key string) {
	c.misses.Add(1)
	if pk := c.perKind[kind]; pk != nil {
		pk.misses.Add(1)
	}
	c.metrics.misses.WithLabelValues(string(kind)).Inc()
	c.mu.Lock()
	delete(c.index, key)
	c.mu.Unlock()
}

// evictLocked drains the lowest-scored entries until usage falls to the
// eviction target. Callers hold c.mu.
func (c *Cache) evictLocked(ctx context.Context, now time.Time) int {
	if c.totalBytes <= c.config.MaxBytes {
		return 0
	}
	target := int64(float64(c.config.MaxBytes) * evictTargetRatio)

	metas := make([]*entryMeta, 0, len(c.index))
	oldest, newest := now, time.Time{}
	for _, m := range c.index {
		metas = append(metas, m)
		if m.lastAccess.Before(oldest) {
			oldest = m.lastAccess
		}
		if m.lastAccess.After(newest) {
			newest = m.lastAccess
		}
	}
	span := newest.Sub(oldest)

	score := func(m *entryMeta) float64 {
		remaining := m.ttl - now.Sub(m.createdAt)
		if remaining < 0 {
			remaining = 0
		}
		ttlPart := float64(remaining) / float64(m.ttl)
		recency := 1.0
		if span > 0 {
			recency = float64(m.lastAccess.Sub(oldest)) / float64(span)
		}
		return weightTTL*ttlPart + weightKind*c.config.KindWeights[m.kind] + weightRecency*recency
	}
	sort.Slice(metas, func(i, j int) bool {
		si, sj := score(metas[i]), score(metas[j])
		if si != sj {
			return si < sj
		}
		return metas[i].key < metas[j].key
	})

	evicted := 0
	var victims []string
	for _, m := range metas {
		if c.totalBytes <= target {
			break
		}
		delete(c.index, m.key)
		c.totalBytes -= m.size
		c.hot.Remove(m.key)
		victims = append(victims, m.key)
		evicted++
	}
	if len(victims) > 0 {
		c.evictions.Add(int64(evicted))
		c.metrics.evictions.Add(float64(evicted))
		go c.deleteKeys(context.WithoutCancel(ctx), victims)
	}
	return evicted
}

func (c *Cache) deleteKeys(ctx context.Context, keys []string) {
	ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
	defer cancel()
	if err := c.rdb.Del(ioCtx, keys...).Err(); err != nil {
		log.G(ctx).WithError(err).WithField("keys", len(keys)).Warn("could not delete evicted cache keys")
	}
}

// ComputeFunc produces the artifact payload for one cache key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// GetOrCompute returns the cached payload or runs compute exactly once per
// key across concurrent callers. Waiters time out after the configured
// single-flight timeout while the computation keeps running and may still
// populate the cache. Compute errors are shared with current waiters and
// never cached.
func (c *Cache) GetOrCompute(ctx context.Context, kind types.Kind, imageHash, fingerprint string, compute ComputeFunc) ([]byte, bool, error) {
	if payload, ok := c.Get(ctx, kind, imageHash, fingerprint); ok {
		return payload, true, nil
	}
	key := c.Key(kind, imageHash, fingerprint)

	// The computation outlives any single waiter.
	computeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.metrics.computes.WithLabelValues(string(kind)).Inc()
		payload, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		c.Put(computeCtx, kind, imageHash, fingerprint, payload)
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, errdefs.Timeout(errors.Wrap(ctx.Err(), "waiting for in-flight computation"))
	case <-time.After(c.config.SingleFlightTimeout):
		return nil, false, errdefs.Timeout(errors.Errorf("computation for key %s exceeded %s waiter timeout", key, c.config.SingleFlightTimeout))
	}
}

// InvalidateVersion bumps kind's version counter, orphaning every prior
// entry of that kind. It returns the new version.
func (c *Cache) InvalidateVersion(ctx context.Context, kind types.Kind) (int64, error) {
	ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
	v, err := c.rdb.Incr(ioCtx, versionKeyPrefix+string(kind)).Result()
	cancel()
	if err != nil {
		// fail open: bump locally so this instance stops serving stale
		// entries even if the shared counter is unreachable
		log.G(ctx).WithError(err).WithField("kind", kind).Warn("version bump failed in redis, bumping locally")
		c.versionMu.Lock()
		c.versions[kind]++
		v = c.versions[kind]
		c.versionMu.Unlock()
		return v, nil
	}
	c.versionMu.Lock()
	repair := false
	if v <= c.versions[kind] {
		// the shared counter was reset underneath us; never move backwards
		v = c.versions[kind] + 1
		c.versions[kind] = v
		repair = true
	} else {
		c.versions[kind] = v
	}
	c.versionMu.Unlock()
	if repair {
		ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
		if err := c.rdb.Set(ioCtx, versionKeyPrefix+string(kind), v, 0).Err(); err != nil {
			log.G(ctx).WithError(err).WithField("kind", kind).Warn("could not repair shared version counter")
		}
		cancel()
	}
	log.G(ctx).WithFields(log.Fields{"kind": kind, "version": v}).Info("cache version bumped")
	return v, nil
}

// Cleanup purges expired and version-orphaned keys from redis and the
// local tiers. It returns the number of keys removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	for _, kind := range types.Kinds() {
		current := c.Version(kind)
		var stale []string
		iter := c.rdb.Scan(ctx, 0, string(kind)+":v*", 500).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			if v, ok := keyVersion(key); ok && v < current {
				stale = append(stale, key)
			}
		}
		if err := iter.Err(); err != nil {
			return removed, errdefs.Cache(errors.Wrapf(err, "scanning %s keys", kind))
		}
		if len(stale) > 0 {
			ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
			err := c.rdb.Del(ioCtx, stale...).Err()
			cancel()
			if err != nil {
				return removed, errdefs.Cache(errors.Wrap(err, "deleting orphaned keys"))
			}
			removed += len(stale)
		}
	}

	now := time.Now()
	c.mu.Lock()
	for key, meta := range c.index {
		if now.After(meta.createdAt.Add(meta.ttl)) {
			delete(c.index, key)
			c.totalBytes -= meta.size
			c.hot.Remove(key)
			removed++
		}
	}
	c.metrics.entries.Set(float64(len(c.index)))
	c.metrics.bytes.Set(float64(c.totalBytes))
	c.mu.Unlock()

	log.G(ctx).WithField("removed", removed).Info("cache cleanup complete")
	return removed, nil
}

// keyVersion extracts the version stamp from a cache key.
func keyVersion(key string) (int64, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || !strings.HasPrefix(parts[1], "v") {
		return 0, false
	}
	v, err := strconv.ParseInt(parts[1][1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Clear removes cached entries. An empty imageHash clears everything;
// otherwise only that image's entries go.
func (c *Cache) Clear(ctx context.Context, imageHash string) (int, error) {
	pattern := "*"
	if imageHash != "" {
		pattern = "*:" + imageHash + ":*"
	}
	var victims []string
	iter := c.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, versionKeyPrefix) {
			continue
		}
		victims = append(victims, key)
	}
	if err := iter.Err(); err != nil {
		return 0, errdefs.Cache(errors.Wrap(err, "scanning cache keys"))
	}
	if len(victims) > 0 {
		ioCtx, cancel := context.WithTimeout(ctx, c.config.IOTimeout)
		err := c.rdb.Del(ioCtx, victims...).Err()
		cancel()
		if err != nil {
			return 0, errdefs.Cache(errors.Wrap(err, "deleting cache keys"))
		}
	}

	c.mu.Lock()
	for key, meta := range c.index {
		if imageHash == "" || strings.Contains(key, ":"+imageHash+":") {
			delete(c.index, key)
			c.totalBytes -= meta.size
			c.hot.Remove(key)
		}
	}
	c.metrics.entries.Set(float64(len(c.index)))
	c.metrics.bytes.Set(float64(c.totalBytes))
	c.mu.Unlock()

	log.G(ctx).WithFields(log.Fields{
		"image_hash": imageHash,
		"removed":    len(victims),
	}).Info("cache cleared")
	return len(victims), nil
}

// WarmTarget names one entry to precompute.
type WarmTarget struct {
	Kind        types.Kind
	ImageHash   string
	Fingerprint string
	Compute     ComputeFunc
}

// Warm precomputes entries that are not already cached. It returns how
// many entries were computed; individual failures are logged and skipped.
func (c *Cache) Warm(ctx context.Context, targets []WarmTarget) int {
	computed := 0
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return computed
		}
		if _, ok := c.Get(ctx, t.Kind, t.ImageHash, t.Fingerprint); ok {
			continue
		}
		if _, _, err := c.GetOrCompute(ctx, t.Kind, t.ImageHash, t.Fingerprint, t.Compute); err != nil {
			log.G(ctx).WithError(err).WithFields(log.Fields{
				"kind":       t.Kind,
				"image_hash": t.ImageHash,
			}).Warn("cache warm target failed")
			continue
		}
		computed++
	}
	return computed
}

// Stats snapshots cache effectiveness counters.
func (c *Cache) Stats() types.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := types.CacheStats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		PerKind:   make(map[string]types.KindCacheStat, len(c.perKind)),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	c.mu.Lock()
	stats.Entries = len(c.index)
	stats.Bytes = c.totalBytes
	perKindEntries := make(map[types.Kind]int)
	perKindBytes := make(map[types.Kind]int64)
	for _, meta := range c.index {
		perKindEntries[meta.kind]++
		perKindBytes[meta.kind] += meta.size
	}
	c.mu.Unlock()

	for kind, counters := range c.perKind {
		stats.PerKind[string(kind)] = types.KindCacheStat{
			Hits:    counters.hits.Load(),
			Misses:  counters.misses.Load(),
			Entries: perKindEntries[kind],
			Bytes:   perKindBytes[kind],
			Version: c.Version(kind),
		}
	}
	return stats
}
