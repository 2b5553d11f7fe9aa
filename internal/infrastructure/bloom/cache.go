package bloom

import (
	"fmt"
	"math"
	"sync"
	"time"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// Lookup sources reported alongside membership answers.
const (
	SourceFilter   = "filter"
	SourceNoData   = "no_data"
	SourceDisabled = "bloom_disabled"
)

// Cache holds one bloom filter per user. Filters are built lazily on first
// use, persisted as opaque blobs through the meta store, and rebuilt from the
// fingerprint store when the stored blob is missing or unreadable.
type Cache struct {
	mu      sync.RWMutex
	filters map[string]*bloomfilter.Filter

	fingerprints domain.FingerprintStore
	meta         domain.MetaStore
	logger       *logging.ChanneledLogger
	enabled      bool
}

// NewCache creates the bloom filter cache.
func NewCache(fingerprints domain.FingerprintStore, meta domain.MetaStore, logger *logging.ChanneledLogger) *Cache {
	return &Cache{
		filters:      make(map[string]*bloomfilter.Filter),
		fingerprints: fingerprints,
		meta:         meta,
		logger:       logger,
		enabled:      config.BloomFilterEnabled,
	}
}

// Enabled reports whether bloom filtering is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// MightContain reports whether the fingerprint may be present, with the
// source of the answer. A false answer is definitive: either the filter
// excludes the fingerprint, or the user stores nothing at all.
func (c *Cache) MightContain(userKey, fingerprint string) (bool, string, error) {
	if !c.enabled {
		return true, SourceDisabled, nil
	}

	filter, err := c.filterFor(userKey)
	if err != nil {
		return true, SourceNoData, err
	}
	if filter == nil {
		// Empty set: nothing can be present.
		return false, SourceNoData, nil
	}

	return filter.ContainsHash(fingerprintHash(fingerprint)), SourceFilter, nil
}

// BatchMightContain splits candidates into those the filter may hold and
// those it definitively does not.
func (c *Cache) BatchMightContain(userKey string, candidates []string) (maybe []string, absent []string, source string, err error) {
	if !c.enabled {
		return candidates, nil, SourceDisabled, nil
	}

	filter, err := c.filterFor(userKey)
	if err != nil {
		return candidates, nil, SourceNoData, err
	}
	if filter == nil {
		// Empty set: every candidate is definitively absent.
		return nil, candidates, SourceNoData, nil
	}

	maybe = make([]string, 0, len(candidates))
	for _, fp := range candidates {
		if filter.ContainsHash(fingerprintHash(fp)) {
			maybe = append(maybe, fp)
		} else {
			absent = append(absent, fp)
		}
	}
	return maybe, absent, SourceFilter, nil
}

// AddFingerprints folds newly inserted fingerprints into the user's filter
// and persists the updated blob. Both steps are best effort; a lost update
// only costs extra confirmations against the store.
func (c *Cache) AddFingerprints(userKey string, fingerprints []string) {
	if !c.enabled || len(fingerprints) == 0 {
		return
	}

	c.mu.Lock()
	filter, ok := c.filters[userKey]
	if ok {
		for _, fp := range fingerprints {
			filter.AddHash(fingerprintHash(fp))
		}
	}
	c.mu.Unlock()

	if !ok {
		// No resident filter to update; the next lookup builds a fresh one
		// that already includes these inserts.
		return
	}

	if err := c.persist(userKey, filter); err != nil {
		c.logger.Bloom().Warn("Failed to persist bloom filter after insert", "userKey", userKey, "error", err.Error())
	}
}

// Clear drops the user's filter from memory. The persisted blob is the meta
// store's to remove.
func (c *Cache) Clear(userKey string) {
	c.mu.Lock()
	delete(c.filters, userKey)
	c.mu.Unlock()

	c.logger.Bloom().Debug("Cleared bloom filter", "userKey", userKey)
}

// Stats returns filter statistics for the service stats surface.
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	filters := make(map[string]any, len(c.filters))
	var totalBits uint64

	for userKey, filter := range c.filters {
		m := filter.M()
		k := filter.K()
		n := filter.N()
		totalBits += m

		filters[userKey] = map[string]any{
			"bits":            m,
			"hashFunctions":   k,
			"elements":        n,
			"estimatedFPRate": estimatedFalsePositiveRate(m, k, n),
		}
	}

	return map[string]any{
		"enabled":       c.enabled,
		"loadedFilters": len(c.filters),
		"totalBits":     totalBits,
		"filters":       filters,
	}
}

// StatsFor returns statistics for one user's resident filter.
func (c *Cache) StatsFor(userKey string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	filter, ok := c.filters[userKey]
	if !ok {
		return map[string]any{
			"enabled": c.enabled,
			"loaded":  false,
		}
	}

	m := filter.M()
	k := filter.K()
	n := filter.N()
	return map[string]any{
		"enabled":         c.enabled,
		"loaded":          true,
		"bits":            m,
		"hashFunctions":   k,
		"elements":        n,
		"estimatedFPRate": estimatedFalsePositiveRate(m, k, n),
		"memoryBytes":     m / 8,
	}
}

// filterFor returns the user's resident filter, loading or building one when
// absent. Returns nil when the user has no fingerprints yet.
func (c *Cache) filterFor(userKey string) (*bloomfilter.Filter, error) {
	c.mu.RLock()
	filter, ok := c.filters[userKey]
	c.mu.RUnlock()
	if ok {
		return filter, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another request may have built the filter while we waited.
	if filter, ok := c.filters[userKey]; ok {
		return filter, nil
	}

	filter, err := c.load(userKey)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter, err = c.build(userKey)
		if err != nil {
			return nil, err
		}
	}
	if filter == nil {
		return nil, nil
	}

	c.filters[userKey] = filter
	return filter, nil
}

// load deserializes the persisted blob, returning nil when no usable blob
// exists so the caller falls through to a rebuild.
func (c *Cache) load(userKey string) (*bloomfilter.Filter, error) {
	meta, err := c.meta.GetOrCreate(userKey)
	if err != nil {
		return nil, err
	}
	if len(meta.BloomFilter) == 0 {
		return nil, nil
	}

	filter := new(bloomfilter.Filter)
	if err := filter.UnmarshalBinary(meta.BloomFilter); err != nil {
		c.logger.Bloom().Warn("Stored bloom filter unreadable, rebuilding", "userKey", userKey, "error", err.Error())
		return nil, nil
	}

	c.logger.Bloom().Debug("Loaded bloom filter from storage", "userKey", userKey, "bits", filter.M(), "elements", filter.N())
	return filter, nil
}

// build constructs a filter from the fingerprint store. The first lookup for
// a populated user pays this cost synchronously.
func (c *Cache) build(userKey string) (*bloomfilter.Filter, error) {
	start := time.Now()

	fingerprints, err := c.fingerprints.Enumerate(userKey)
	if err != nil {
		return nil, err
	}
	if len(fingerprints) == 0 {
		return nil, nil
	}

	capacity := uint64(float64(len(fingerprints)) * config.BloomFilterBasicMultiplier)
	if minCap := uint64(config.BloomFilterMinCapacity); capacity < minCap {
		capacity = minCap
	}

	filter, err := bloomfilter.NewOptimal(capacity, config.BloomFilterFalsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create bloom filter: %w", err)
	}

	for _, fp := range fingerprints {
		filter.AddHash(fingerprintHash(fp))
	}

	if err := c.persist(userKey, filter); err != nil {
		c.logger.Bloom().Warn("Failed to persist built bloom filter", "userKey", userKey, "error", err.Error())
	}

	c.logger.Bloom().Info("Built bloom filter",
		"userKey", userKey,
		"elements", len(fingerprints),
		"capacity", capacity,
		"bits", filter.M(),
		"duration", time.Since(start))

	return filter, nil
}

// persist serializes the filter into the meta store blob.
func (c *Cache) persist(userKey string, filter *bloomfilter.Filter) error {
	blob, err := filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize bloom filter: %w", err)
	}
	return c.meta.SaveBloomFilter(userKey, blob)
}

// estimatedFalsePositiveRate computes (1 - e^(-k(n+0.5)/(m-1)))^k.
func estimatedFalsePositiveRate(m, k, n uint64) float64 {
	if m <= 1 {
		return 1.0
	}
	return math.Pow(1.0-math.Exp(-float64(k)*(float64(n)+0.5)/float64(m-1)), float64(k))
}
