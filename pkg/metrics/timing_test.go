package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestTimingMetric_Record(t *testing.T) {
	m := newTimingMetric("test")
	m.Record(10 * time.Millisecond)
	m.Record(30 * time.Millisecond)
	m.Record(20 * time.Millisecond)

	s := m.Stats()
	if s.Count != 3 {
		t.Errorf("count = %d", s.Count)
	}
	if s.MinMs != 10 || s.MaxMs != 30 || s.AvgMs != 20 || s.TotalMs != 60 {
		t.Errorf("stats = %+v", s)
	}

	m.Reset()
	if s := m.Stats(); s.Count != 0 || s.MaxMs != 0 || s.MinMs != 0 {
		t.Errorf("after reset = %+v", s)
	}
}

func TestTimingMetric_Concurrent(t *testing.T) {
	m := newTimingMetric("concurrent")
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			m.Record(d)
		}(time.Duration(i) * time.Microsecond)
	}
	wg.Wait()

	s := m.Stats()
	if s.Count != 50 {
		t.Errorf("count = %d", s.Count)
	}
	if s.MinMs != 0.001 || s.MaxMs != 0.05 {
		t.Errorf("min/max = %v/%v", s.MinMs, s.MaxMs)
	}
}

func TestDisabled(t *testing.T) {
	SetEnabled(false)
	defer SetEnabled(true)

	m := newTimingMetric("off")
	Timer(m)()
	m.Record(time.Second)
	c := newCacheMetric("off")
	c.Hit()
	c.Miss()
	if m.Count() != 0 || c.Stats().Hits != 0 || c.Stats().Misses != 0 {
		t.Error("disabled metrics recorded samples")
	}
}

func TestCacheMetric(t *testing.T) {
	c := newCacheMetric("cache")
	if s := c.Stats(); s.HitRate != 0 {
		t.Errorf("empty hit rate = %v", s.HitRate)
	}
	c.Hit()
	c.Hit()
	c.Hit()
	c.Miss()
	if s := c.Stats(); s.Hits != 3 || s.Misses != 1 || s.HitRate != 0.75 {
		t.Errorf("stats = %+v", s)
	}
}

func TestTakeOmitsIdleTimings(t *testing.T) {
	ResetAll()
	defer ResetAll()

	Timer(Layout)()
	BaseMeshCache.Miss()

	s := Take()
	if len(s.Timings) != 1 || s.Timings[0].Name != "layout" {
		t.Errorf("timings = %+v", s.Timings)
	}
	if len(s.Caches) != len(AllCacheMetrics()) {
		t.Errorf("caches = %+v", s.Caches)
	}
	if s.Caches[0].Misses != 1 {
		t.Errorf("base mesh cache = %+v", s.Caches[0])
	}
}
