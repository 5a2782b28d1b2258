package service

import (
	"sort"
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

const DEFAULT_OVERRIDE_RESET_MINUTES = 120

// OverrideBook holds the active manager overrides, one per zone.
type OverrideBook struct {
	mu        sync.RWMutex
	overrides map[string]domain.ManagerOverride
}

func NewOverrideBook() *OverrideBook {
	return &OverrideBook{
		overrides: make(map[string]domain.ManagerOverride),
	}
}

// Set starts (or restarts) an override. Offsets outside the profile bounds are rejected.
func (b *OverrideBook) Set(zoneId string, offset float64, bounds domain.OverrideBounds, now time.Time) (domain.ManagerOverride, error) {
	if offset > bounds.MaxRaise || offset < -bounds.MaxLower {
		return domain.ManagerOverride{}, domain.ErrOverrideRange
	}
	reset := bounds.ResetMinutes
	if reset <= 0 {
		reset = DEFAULT_OVERRIDE_RESET_MINUTES
	}
	o := domain.ManagerOverride{
		ZoneId:    zoneId,
		Offset:    offset,
		StartedAt: now,
		ExpiresAt: now.Add(minutes(reset)),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[zoneId] = o
	return o, nil
}

func (b *OverrideBook) Clear(zoneId string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.overrides[zoneId]
	delete(b.overrides, zoneId)
	return ok
}

// Active returns the override of a zone if it has not expired yet.
func (b *OverrideBook) Active(zoneId string, now time.Time) *domain.ManagerOverride {
	b.mu.RLock()
	o, ok := b.overrides[zoneId]
	b.mu.RUnlock()
	if !ok || !o.ActiveAt(now) {
		return nil
	}
	return &o
}

// Expire drops every override that is no longer active and returns their zones.
func (b *OverrideBook) Expire(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []string
	for zoneId, o := range b.overrides {
		if !o.ActiveAt(now) {
			expired = append(expired, zoneId)
			delete(b.overrides, zoneId)
		}
	}
	sort.Strings(expired)
	return expired
}
