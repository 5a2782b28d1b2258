package service

import (
	"sync"
	"time"
)

type trendPoint struct {
	at    time.Time
	value float64
}

// TrendTracker keeps a short window of zone temperatures and reports their slope in °F/min.
type TrendTracker struct {
	mu      sync.Mutex
	window  time.Duration
	minSpan time.Duration
	points  map[string][]trendPoint
}

func NewTrendTracker(window time.Duration) *TrendTracker {
	return &TrendTracker{
		window:  window,
		minSpan: window / 4,
		points:  make(map[string][]trendPoint),
	}
}

func (t *TrendTracker) Observe(zoneId string, at time.Time, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	points := t.points[zoneId]
	if n := len(points); n > 0 && !at.After(points[n-1].at) {
		return
	}
	points = append(points, trendPoint{at: at, value: value})

	cutoff := at.Add(-t.window)
	i := 0
	for i < len(points) && points[i].at.Before(cutoff) {
		i++
	}
	t.points[zoneId] = points[i:]
}

// Slope returns the least-squares slope of the window, if it spans enough time.
func (t *TrendTracker) Slope(zoneId string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	points := t.points[zoneId]
	if len(points) < 2 {
		return 0, false
	}
	origin := points[0].at
	if points[len(points)-1].at.Sub(origin) < t.minSpan {
		return 0, false
	}

	n := float64(len(points))
	var sx, sy, sxx, sxy float64
	for _, p := range points {
		x := p.at.Sub(origin).Minutes()
		sx += x
		sy += p.value
		sxx += x * x
		sxy += x * p.value
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, false
	}
	return (n*sxy - sx*sy) / den, true
}

func (t *TrendTracker) Forget(zoneId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.points, zoneId)
}
