package service

import (
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-06-03 is a Monday
func weekdayHours(open, close int) domain.StoreHours {
	hours := domain.StoreHours{SiteId: "s", Location: time.UTC}
	for d := range hours.Days {
		hours.Days[d] = domain.DayHours{Open: open, Close: close}
	}
	hours.Days[time.Sunday] = domain.DayHours{Closed: true}
	return hours
}

func TestPhaseOccupied(t *testing.T) {
	hours := weekdayHours(8*60, 21*60)
	phase, _, _ := ResolvePhase(hours, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC), 2*time.Hour, true)
	assert.Equal(t, domain.PHASE_OCCUPIED, phase)
}

func TestPhasePreOpen(t *testing.T) {
	hours := weekdayHours(8*60, 21*60)
	now := time.Date(2024, 6, 3, 6, 30, 0, 0, time.UTC)

	phase, next, ok := ResolvePhase(hours, now, 2*time.Hour, true)
	require.True(t, ok)
	assert.Equal(t, domain.PHASE_PRE_OPEN, phase)
	assert.Equal(t, time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), next)

	// without smart start there is no pre-open phase
	phase, _, _ = ResolvePhase(hours, now, 2*time.Hour, false)
	assert.Equal(t, domain.PHASE_UNOCCUPIED, phase)
}

func TestPhaseUnoccupiedAtNight(t *testing.T) {
	hours := weekdayHours(8*60, 21*60)
	phase, next, ok := ResolvePhase(hours, time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC), 2*time.Hour, true)
	require.True(t, ok)
	assert.Equal(t, domain.PHASE_UNOCCUPIED, phase)
	assert.Equal(t, time.Date(2024, 6, 4, 8, 0, 0, 0, time.UTC), next)
}

func TestClosedDaySkipped(t *testing.T) {
	hours := weekdayHours(8*60, 21*60)
	// Saturday night, Sunday closed, next opening is Monday
	next, ok := NextOpening(hours, time.Date(2024, 6, 8, 22, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), next)
	assert.False(t, IsOpen(hours, time.Date(2024, 6, 9, 12, 0, 0, 0, time.UTC)))
}

func TestCloseAfterMidnight(t *testing.T) {
	hours := weekdayHours(10*60, 2*60)
	// Tuesday 01:00 is still inside Monday's opening
	assert.True(t, IsOpen(hours, time.Date(2024, 6, 4, 1, 0, 0, 0, time.UTC)))
	assert.False(t, IsOpen(hours, time.Date(2024, 6, 4, 3, 0, 0, 0, time.UTC)))
	assert.True(t, IsOpen(hours, time.Date(2024, 6, 4, 23, 30, 0, 0, time.UTC)))
}

func TestPhaseUsesStoreTimezone(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	hours := weekdayHours(8*60, 21*60)
	hours.Location = loc

	// 13:00 UTC is 07:00 local
	phase, next, _ := ResolvePhase(hours, time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC), 2*time.Hour, true)
	assert.Equal(t, domain.PHASE_PRE_OPEN, phase)
	assert.True(t, next.Equal(time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)))
}

func TestAllClosed(t *testing.T) {
	hours := domain.StoreHours{}
	for d := range hours.Days {
		hours.Days[d] = domain.DayHours{Closed: true}
	}
	_, ok := NextOpening(hours, time.Now())
	assert.False(t, ok)
	phase, _, _ := ResolvePhase(hours, time.Now(), time.Hour, true)
	assert.Equal(t, domain.PHASE_UNOCCUPIED, phase)
}
