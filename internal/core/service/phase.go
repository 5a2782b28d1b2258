package service

import (
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

type openInterval struct {
	open  time.Time
	close time.Time
}

// intervals returns the opening intervals starting on local days [from, to] relative to now.
func intervals(hours domain.StoreHours, now time.Time, from, to int) []openInterval {
	loc := hours.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	var result []openInterval
	for d := from; d <= to; d++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+d, 0, 0, 0, 0, loc)
		dh := hours.Days[day.Weekday()]
		if dh.Closed {
			continue
		}
		open := day.Add(time.Duration(dh.Open) * time.Minute)
		close := day.Add(time.Duration(dh.Close) * time.Minute)
		if dh.Close <= dh.Open {
			// closes after midnight
			close = close.Add(24 * time.Hour)
		}
		result = append(result, openInterval{open: open, close: close})
	}
	return result
}

func IsOpen(hours domain.StoreHours, now time.Time) bool {
	for _, i := range intervals(hours, now, -1, 0) {
		if !now.Before(i.open) && now.Before(i.close) {
			return true
		}
	}
	return false
}

// NextOpening returns the first opening time strictly after now within a week.
func NextOpening(hours domain.StoreHours, now time.Time) (time.Time, bool) {
	for _, i := range intervals(hours, now, 0, 7) {
		if i.open.After(now) {
			return i.open, true
		}
	}
	return time.Time{}, false
}

// ResolvePhase classifies now against the store hours. The pre-open phase only exists when
// Smart Start is enabled for the zone.
func ResolvePhase(hours domain.StoreHours, now time.Time, preOpenBuffer time.Duration, smartStart bool) (domain.Phase, time.Time, bool) {
	next, hasNext := NextOpening(hours, now)
	if IsOpen(hours, now) {
		return domain.PHASE_OCCUPIED, next, hasNext
	}
	if smartStart && hasNext && next.Sub(now) <= preOpenBuffer {
		return domain.PHASE_PRE_OPEN, next, hasNext
	}
	return domain.PHASE_UNOCCUPIED, next, hasNext
}
