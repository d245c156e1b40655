package metrics

import "sync/atomic"

// CacheMetric counts hits and misses of one cache.
type CacheMetric struct {
	name   string
	hits   atomic.Int64
	misses atomic.Int64
}

func newCacheMetric(name string) *CacheMetric {
	return &CacheMetric{name: name}
}

// Hit records a cache hit.
func (c *CacheMetric) Hit() {
	if Enabled() {
		c.hits.Add(1)
	}
}

// Miss records a cache miss.
func (c *CacheMetric) Miss() {
	if Enabled() {
		c.misses.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (c *CacheMetric) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Name: c.name, Hits: hits, Misses: misses, HitRate: rate}
}

// Reset clears the counters.
func (c *CacheMetric) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// CacheStats is a snapshot of one CacheMetric.
type CacheStats struct {
	Name    string  `json:"name"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

var (
	BaseMeshCache     = newCacheMetric("base_mesh")
	EmphasisMeshCache = newCacheMetric("emphasis_mesh")
)

// AllCacheMetrics returns every registered cache metric.
func AllCacheMetrics() []*CacheMetric {
	return []*CacheMetric{BaseMeshCache, EmphasisMeshCache}
}

// Snapshot is every metric at one point in time.
type Snapshot struct {
	Timings []TimingStats `json:"timings"`
	Caches  []CacheStats  `json:"caches"`
}

// Take returns the current values of all metrics.
func Take() Snapshot {
	s := Snapshot{Timings: AllTimingStats()}
	for _, c := range AllCacheMetrics() {
		s.Caches = append(s.Caches, c.Stats())
	}
	return s
}
