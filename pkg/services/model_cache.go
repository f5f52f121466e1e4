package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies a cached model. ProductID is empty for tenant-scoped entries.
type CacheKey struct {
	TenantID  string
	ProductID string
}

func (k CacheKey) String() string {
	if k.ProductID == "" {
		return k.TenantID
	}
	return k.TenantID + "/" + k.ProductID
}

// flightKey is unambiguous even when ids contain the display separator.
func (k CacheKey) flightKey() string {
	return k.TenantID + "\x00" + k.ProductID
}

// CacheSettings configures a ModelCache.
type CacheSettings struct {
	Name       string        // metrics label
	TTL        time.Duration // zero keeps entries until invalidated
	FitTimeout time.Duration // zero disables the fit deadline
}

// CacheEntry is an immutable fitted model. Entries are replaced, never mutated.
type CacheEntry[V any] struct {
	Key         CacheKey  `json:"key"`
	Value       V         `json:"-"`
	Fingerprint uint64    `json:"fingerprint"`
	FittedAt    time.Time `json:"fitted_at"`
	FitID       string    `json:"fit_id"`
}

// CacheStats is a point-in-time view of a cache.
type CacheStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Fits      uint64 `json:"fits"`
	Evictions uint64 `json:"evictions"`
}

// ManagedCache is the lifecycle surface shared by all model caches.
type ManagedCache interface {
	Name() string
	Sweep() int
	Len() int
	Stats() CacheStats
	InvalidateTenant(tenantID string) int
}

// FitFunc builds a model. It should return promptly once ctx is done.
type FitFunc[V any] func(ctx context.Context) (V, error)

// ModelCache はテナント単位で分割されたフィット済みモデルのキャッシュ。
// 読み取りは他の読み取りをブロックせず、同じキーのフィットは同時に1つまでに制限される。
type ModelCache[V any] struct {
	settings CacheSettings
	validate func(V) error
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[CacheKey]*CacheEntry[V]
	group   singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	fits      atomic.Uint64
	evictions atomic.Uint64
}

// NewModelCache 新しいモデルキャッシュを作成。validate は格納・読み出しのたびに値の不変条件を検査する（nil可）。
func NewModelCache[V any](settings CacheSettings, validate func(V) error, log zerolog.Logger) *ModelCache[V] {
	return &ModelCache[V]{
		settings: settings,
		validate: validate,
		log:      log.With().Str("component", "model_cache").Str("cache", settings.Name).Logger(),
		now:      time.Now,
		entries:  make(map[CacheKey]*CacheEntry[V]),
	}
}

// Name returns the cache's metrics label.
func (c *ModelCache[V]) Name() string {
	return c.settings.Name
}

// Get returns the fresh entry for key, or nil when there is none.
// A corrupted entry is evicted and reported, never returned.
func (c *ModelCache[V]) Get(key CacheKey) (*CacheEntry[V], error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if err := c.check(key, entry); err != nil {
		c.evict(key, entry, "corruption")
		c.log.Error().Err(err).Str("key", key.String()).Msg("Evicted corrupted cache entry")
		return nil, err
	}
	if c.expired(entry) {
		c.evict(key, entry, "ttl")
		return nil, nil
	}
	return entry, nil
}

// GetOrFit returns the cached value for key when its fingerprint matches,
// otherwise fits a new one. Concurrent callers for the same key share one fit.
// The shared fit runs detached from ctx, so it completes and is stored even
// when the caller that started it gives up. A caller whose fingerprint differs
// from the shared result fits its own value without storing it.
// The boolean result reports whether the value came from the cache.
func (c *ModelCache[V]) GetOrFit(ctx context.Context, key CacheKey, fingerprint uint64, fit FitFunc[V]) (V, bool, error) {
	var zero V

	entry, err := c.Get(key)
	if err != nil {
		return zero, false, err
	}
	if entry != nil && entry.Fingerprint == fingerprint {
		c.recordHit()
		return entry.Value, true, nil
	}
	c.misses.Add(1)
	modelCacheMissesTotal.WithLabelValues(c.settings.Name).Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.flightKey(), func() (interface{}, error) {
		// another flight may have stored this fingerprint since our lookup
		if current, err := c.Get(key); err == nil && current != nil && current.Fingerprint == fingerprint {
			return current, nil
		}
		v, err := c.runFit(detached, key, fit)
		if err != nil {
			return nil, err
		}
		return c.store(key, fingerprint, v)
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		shared, ok := res.Val.(*CacheEntry[V])
		if !ok || shared == nil {
			return zero, false, &CacheCorruptionError{Key: key, Reason: fmt.Sprintf("fit returned %T", res.Val)}
		}
		if shared.Fingerprint == fingerprint {
			return shared.Value, false, nil
		}

		v, err := c.runFit(ctx, key, fit)
		if err != nil {
			return zero, false, err
		}
		modelCacheFitsTotal.WithLabelValues(c.settings.Name, "detached").Inc()
		return v, false, nil
	}
}

// Invalidate drops the entry for key. It reports whether an entry existed.
func (c *ModelCache[V]) Invalidate(key CacheKey) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	n := len(c.entries)
	c.mu.Unlock()

	if ok {
		c.recordEviction("invalidation", n)
	}
	return ok
}

// InvalidateTenant drops every entry of a tenant and returns how many were removed.
func (c *ModelCache[V]) InvalidateTenant(tenantID string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if key.TenantID == tenantID {
			delete(c.entries, key)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		c.recordEviction("invalidation", n)
	}
	return removed
}

// Sweep evicts expired entries and returns how many were removed.
func (c *ModelCache[V]) Sweep() int {
	if c.settings.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, key)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		c.recordEviction("ttl", n)
	}
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *ModelCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns counters for the model-metrics endpoint.
func (c *ModelCache[V]) Stats() CacheStats {
	return CacheStats{
		Name:      c.settings.Name,
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fits:      c.fits.Load(),
		Evictions: c.evictions.Load(),
	}
}

// runFit runs fit under the configured deadline. A fit that ignores its
// context is abandoned at the deadline and its late result discarded.
func (c *ModelCache[V]) runFit(ctx context.Context, key CacheKey, fit FitFunc[V]) (V, error) {
	var zero V

	fitCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.settings.FitTimeout > 0 {
		fitCtx, cancel = context.WithTimeout(ctx, c.settings.FitTimeout)
	}
	defer cancel()

	type result struct {
		v   V
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fit(fitCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		modelFitDuration.WithLabelValues(c.settings.Name).Observe(time.Since(start).Seconds())
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && errors.Is(fitCtx.Err(), context.DeadlineExceeded) {
				return zero, c.timeoutError(key)
			}
			modelCacheFitsTotal.WithLabelValues(c.settings.Name, "error").Inc()
			return zero, r.err
		}
		c.fits.Add(1)
		return r.v, nil
	case <-fitCtx.Done():
		if errors.Is(fitCtx.Err(), context.DeadlineExceeded) {
			return zero, c.timeoutError(key)
		}
		return zero, fitCtx.Err()
	}
}

func (c *ModelCache[V]) timeoutError(key CacheKey) error {
	modelCacheFitsTotal.WithLabelValues(c.settings.Name, "timeout").Inc()
	c.log.Warn().Str("key", key.String()).Dur("timeout", c.settings.FitTimeout).Msg("Model fit timed out")
	return &FitTimeoutError{Key: key, Timeout: c.settings.FitTimeout}
}

// store publishes a complete entry. Invalid values are rejected, not stored.
func (c *ModelCache[V]) store(key CacheKey, fingerprint uint64, v V) (*CacheEntry[V], error) {
	entry := &CacheEntry[V]{
		Key:         key,
		Value:       v,
		Fingerprint: fingerprint,
		FittedAt:    c.now(),
		FitID:       uuid.NewString(),
	}
	if err := c.check(key, entry); err != nil {
		modelCacheFitsTotal.WithLabelValues(c.settings.Name, "error").Inc()
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry
	n := len(c.entries)
	c.mu.Unlock()

	modelCacheFitsTotal.WithLabelValues(c.settings.Name, "stored").Inc()
	modelCacheEntries.WithLabelValues(c.settings.Name).Set(float64(n))
	c.log.Debug().Str("key", key.String()).Str("fit_id", entry.FitID).Msg("Stored fitted model")
	return entry, nil
}

func (c *ModelCache[V]) check(key CacheKey, entry *CacheEntry[V]) error {
	if entry == nil {
		return &CacheCorruptionError{Key: key, Reason: "nil entry"}
	}
	if entry.Key != key {
		return &CacheCorruptionError{Key: key, Reason: fmt.Sprintf("entry filed under wrong key %s", entry.Key)}
	}
	if entry.FitID == "" || entry.FittedAt.IsZero() {
		return &CacheCorruptionError{Key: key, Reason: "entry was never completed"}
	}
	if c.validate != nil {
		if err := c.validate(entry.Value); err != nil {
			return &CacheCorruptionError{Key: key, Reason: err.Error()}
		}
	}
	return nil
}

func (c *ModelCache[V]) expired(entry *CacheEntry[V]) bool {
	return c.settings.TTL > 0 && c.now().Sub(entry.FittedAt) > c.settings.TTL
}

// evict removes entry only if it is still the one stored under key.
func (c *ModelCache[V]) evict(key CacheKey, entry *CacheEntry[V], reason string) {
	c.mu.Lock()
	current, ok := c.entries[key]
	if ok && current == entry {
		delete(c.entries, key)
	}
	n := len(c.entries)
	c.mu.Unlock()

	if ok && current == entry {
		c.recordEviction(reason, n)
	}
}

func (c *ModelCache[V]) recordHit() {
	c.hits.Add(1)
	modelCacheHitsTotal.WithLabelValues(c.settings.Name).Inc()
}

func (c *ModelCache[V]) recordEviction(reason string, remaining int) {
	c.evictions.Add(1)
	modelCacheEvictionsTotal.WithLabelValues(c.settings.Name, reason).Inc()
	modelCacheEntries.WithLabelValues(c.settings.Name).Set(float64(remaining))
}
