package service

import (
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

type rampRun struct {
	action    domain.HVACAction
	startedAt time.Time
	startTemp float64
}

// RampObserver turns heating and cooling runs into ramp-rate samples for the history store.
type RampObserver struct {
	MinRun time.Duration

	mu   sync.Mutex
	runs map[string]rampRun
}

func NewRampObserver(minRun time.Duration) *RampObserver {
	return &RampObserver{
		MinRun: minRun,
		runs:   make(map[string]rampRun),
	}
}

// Observe returns a sample when a run long enough to be meaningful just ended.
func (o *RampObserver) Observe(zoneId string, action domain.HVACAction, indoor *float64, now time.Time) *domain.RampSample {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, running := o.runs[zoneId]
	if running && run.action == action {
		return nil
	}

	var sample *domain.RampSample
	if running {
		delete(o.runs, zoneId)
		sample = o.close(zoneId, run, indoor, now)
	}
	if indoor != nil && (action == domain.HVAC_ACTION_HEATING || action == domain.HVAC_ACTION_COOLING) {
		o.runs[zoneId] = rampRun{action: action, startedAt: now, startTemp: *indoor}
	}
	return sample
}

func (o *RampObserver) close(zoneId string, run rampRun, indoor *float64, now time.Time) *domain.RampSample {
	elapsed := now.Sub(run.startedAt)
	if indoor == nil || elapsed < o.MinRun || elapsed <= 0 {
		return nil
	}
	delta := *indoor - run.startTemp
	mode := domain.HVAC_MODE_HEAT
	if run.action == domain.HVAC_ACTION_COOLING {
		delta = -delta
		mode = domain.HVAC_MODE_COOL
	}
	if delta <= 0 {
		return nil
	}
	return &domain.RampSample{
		ZoneId:        zoneId,
		Mode:          mode,
		RatePerMinute: delta / elapsed.Minutes(),
		RecordedAt:    now,
	}
}
