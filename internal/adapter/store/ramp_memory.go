package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
)

type cachedRate struct {
	stat      domain.RampRateStat
	expiresAt time.Time
}

// MemoryRampRateCache is used when no Redis server is configured.
type MemoryRampRateCache struct {
	now func() time.Time

	mu    sync.RWMutex
	rates map[string]cachedRate
}

// ensure interface compliance
var _ port.RampRateCache = (*MemoryRampRateCache)(nil)

func NewMemoryRampRateCache() *MemoryRampRateCache {
	return &MemoryRampRateCache{
		now:   time.Now,
		rates: make(map[string]cachedRate),
	}
}

func (c *MemoryRampRateCache) Get(_ context.Context, zoneId string, mode domain.HVACMode) (domain.RampRateStat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rates[rampKey(zoneId, mode)]
	if !ok || (!r.expiresAt.IsZero() && !c.now().Before(r.expiresAt)) {
		return domain.RampRateStat{}, domain.ErrCacheMiss
	}
	return r.stat, nil
}

func (c *MemoryRampRateCache) Set(_ context.Context, stat domain.RampRateStat, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := cachedRate{stat: stat}
	if ttl > 0 {
		r.expiresAt = c.now().Add(ttl)
	}
	c.rates[rampKey(stat.ZoneId, stat.Mode)] = r
	return nil
}

// MemoryRampHistory averages the samples recorded since startup. Zones without
// samples report the static rates of the site file.
type MemoryRampHistory struct {
	static []domain.RampRateStat

	mu      sync.Mutex
	samples []domain.RampSample
}

// ensure interface compliance
var _ port.RampHistoryRepository = (*MemoryRampHistory)(nil)

func NewMemoryRampHistory(static []domain.RampRateStat) *MemoryRampHistory {
	return &MemoryRampHistory{static: static}
}

func (h *MemoryRampHistory) AverageRampRates(_ context.Context, since time.Time) ([]domain.RampRateStat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type acc struct {
		sum float64
		n   int
	}
	sums := make(map[string]*acc)
	keys := make(map[string]domain.RampRateStat)
	kept := h.samples[:0]
	for _, s := range h.samples {
		if s.RecordedAt.Before(since) {
			continue
		}
		kept = append(kept, s)
		if s.RatePerMinute <= 0 {
			continue
		}
		k := rampKey(s.ZoneId, s.Mode)
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
			keys[k] = domain.RampRateStat{ZoneId: s.ZoneId, Mode: s.Mode}
		}
		a.sum += s.RatePerMinute
		a.n++
	}
	h.samples = kept

	var stats []domain.RampRateStat
	for k, a := range sums {
		stat := keys[k]
		stat.RatePerMinute = a.sum / float64(a.n)
		stat.Samples = a.n
		stats = append(stats, stat)
	}
	for _, s := range h.static {
		if _, ok := sums[rampKey(s.ZoneId, s.Mode)]; !ok {
			stats = append(stats, s)
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].ZoneId != stats[j].ZoneId {
			return stats[i].ZoneId < stats[j].ZoneId
		}
		return stats[i].Mode < stats[j].Mode
	})
	return stats, nil
}

func (h *MemoryRampHistory) RecordRampSample(_ context.Context, sample domain.RampSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, sample)
	return nil
}

func rampKey(zoneId string, mode domain.HVACMode) string {
	return zoneId + ":" + string(mode)
}
