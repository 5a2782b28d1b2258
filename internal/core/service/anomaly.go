package service

import (
	"math"
	"sort"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

type anomalyRule func(p config.AnomalyParams, w domain.EquipmentWindow, now time.Time) (float64, bool)

type namedRule struct {
	name     string
	severity domain.Severity
	rule     anomalyRule
}

var anomalyRules = []namedRule{
	{domain.ANOMALY_SHORT_CYCLING, domain.SEVERITY_WARNING, shortCycling},
	{domain.ANOMALY_LONG_CYCLE, domain.SEVERITY_WARNING, longCycle},
	{domain.ANOMALY_COIL_FREEZE, domain.SEVERITY_CRITICAL, coilFreeze},
	{domain.ANOMALY_DELAYED_TEMP_RESPONSE, domain.SEVERITY_WARNING, delayedTempResponse},
	{domain.ANOMALY_FILTER_RESTRICTION, domain.SEVERITY_WARNING, filterRestriction},
	{domain.ANOMALY_REFRIGERANT_LOW, domain.SEVERITY_CRITICAL, refrigerantLow},
	{domain.ANOMALY_IDLE_HEAT_GAIN, domain.SEVERITY_INFO, idleHeatGain},
}

type AnomalyDetector struct {
	Config config.AnomalyConfig
	Logger *zap.Logger
}

// Detect evaluates every rule independently and returns the flags raised for this window.
func (d *AnomalyDetector) Detect(window domain.EquipmentWindow, now time.Time) []domain.AnomalyFlag {
	params := d.Config.ParamsFor(window.Equipment.Class)
	window = sortedWindow(window)

	var flags []domain.AnomalyFlag
	for _, r := range anomalyRules {
		metric, raised := r.rule(params, window, now)
		if !raised {
			continue
		}
		if d.Logger != nil {
			d.Logger.Debug("anomaly raised", zap.String("equipment", window.Equipment.Id),
				zap.String("flag", r.name), zap.Float64("metric", metric))
		}
		flags = append(flags, domain.AnomalyFlag{
			SubjectId:   window.Equipment.Id,
			Name:        r.name,
			DetectedAt:  now,
			MetricValue: metric,
			Severity:    r.severity,
		})
	}
	return flags
}

// MergeFlags keeps the original detection time of flags that are still raised.
// Flags missing from current are cleared.
func MergeFlags(previous, current []domain.AnomalyFlag) []domain.AnomalyFlag {
	merged := make([]domain.AnomalyFlag, 0, len(current))
	for _, f := range current {
		for _, p := range previous {
			if p.SubjectId == f.SubjectId && p.Name == f.Name {
				f.DetectedAt = p.DetectedAt
				break
			}
		}
		merged = append(merged, f)
	}
	return merged
}

func shortCycling(p config.AnomalyParams, w domain.EquipmentWindow, now time.Time) (float64, bool) {
	from := now.Add(-minutes(p.ShortCycleWindowMinutes))
	count := 0
	for _, c := range w.Cycles {
		if c.Timestamp.After(from) && !c.Timestamp.After(now) {
			count++
		}
	}
	return float64(count), count > p.ShortCycleMaxTransitions
}

func longCycle(p config.AnomalyParams, w domain.EquipmentWindow, now time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || !last.CompressorOn || last.Action == domain.HVAC_ACTION_IDLE {
		return 0, false
	}
	start := trailingRunStart(w.Samples, func(s domain.EquipmentSample) bool { return s.CompressorOn })
	// a cycle event may know about an earlier start than the retained samples
	for i := len(w.Cycles) - 1; i >= 0; i-- {
		if !w.Cycles[i].On {
			break
		}
		if w.Cycles[i].Timestamp.Before(start) {
			start = w.Cycles[i].Timestamp
		}
	}
	runMinutes := now.Sub(start).Minutes()
	return runMinutes, runMinutes > float64(p.LongCycleMinutes)
}

func coilFreeze(p config.AnomalyParams, w domain.EquipmentWindow, _ time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || !last.CompressorOn || last.CoilTemperature == nil {
		return 0, false
	}
	return *last.CoilTemperature, *last.CoilTemperature <= p.CoilFreezeTemperature
}

func delayedTempResponse(p config.AnomalyParams, w domain.EquipmentWindow, now time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || last.ZoneTemperature == nil {
		return 0, false
	}
	action := last.Action
	if action != domain.HVAC_ACTION_HEATING && action != domain.HVAC_ACTION_COOLING {
		return 0, false
	}
	start := trailingRunStart(w.Samples, func(s domain.EquipmentSample) bool { return s.Action == action })
	if now.Sub(start) < minutes(p.ResponseWindowMinutes) {
		return 0, false
	}
	var first *float64
	for _, s := range w.Samples {
		if !s.Timestamp.Before(start) && s.ZoneTemperature != nil {
			first = s.ZoneTemperature
			break
		}
	}
	if first == nil {
		return 0, false
	}
	change := *last.ZoneTemperature - *first
	if action == domain.HVAC_ACTION_COOLING {
		change = -change
	}
	return change, change < p.MinResponseDelta
}

func filterRestriction(p config.AnomalyParams, w domain.EquipmentWindow, _ time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || !last.FanRunning || last.SupplyTemperature == nil || last.ReturnTemperature == nil {
		return 0, false
	}
	delta := math.Abs(*last.ReturnTemperature - *last.SupplyTemperature)
	return delta, delta > p.MaxSupplyReturnDelta
}

func refrigerantLow(p config.AnomalyParams, w domain.EquipmentWindow, _ time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || !last.CompressorOn || last.CompressorCurrent == nil ||
		last.SupplyTemperature == nil || last.ReturnTemperature == nil {
		return 0, false
	}
	nominal := w.Equipment.NominalCurrent
	rated := w.Equipment.RatedDeltaT
	if nominal <= 0 || rated <= 0 {
		return 0, false
	}
	// only meaningful while the compressor draws its nominal current
	if math.Abs(*last.CompressorCurrent-nominal) > p.CurrentTolerance*nominal {
		return 0, false
	}
	efficiency := math.Abs(*last.ReturnTemperature-*last.SupplyTemperature) / rated
	return efficiency, efficiency < p.MinEfficiency
}

func idleHeatGain(p config.AnomalyParams, w domain.EquipmentWindow, now time.Time) (float64, bool) {
	last, ok := lastSample(w)
	if !ok || last.ZoneTemperature == nil || last.OutdoorTemperature == nil {
		return 0, false
	}
	from := now.Add(-minutes(p.IdleWindowMinutes))
	start := trailingRunStart(w.Samples, func(s domain.EquipmentSample) bool {
		return s.Action == domain.HVAC_ACTION_IDLE && !s.CompressorOn
	})
	if start.IsZero() || start.After(from) {
		return 0, false
	}
	var first *float64
	for _, s := range w.Samples {
		if !s.Timestamp.Before(from) && s.ZoneTemperature != nil {
			first = s.ZoneTemperature
			break
		}
	}
	if first == nil {
		return 0, false
	}
	rise := *last.ZoneTemperature - *first
	return rise, rise >= p.IdleHeatGainDelta && *last.OutdoorTemperature < *last.ZoneTemperature
}

func sortedWindow(w domain.EquipmentWindow) domain.EquipmentWindow {
	samples := append([]domain.EquipmentSample(nil), w.Samples...)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	cycles := append([]domain.CycleEvent(nil), w.Cycles...)
	sort.SliceStable(cycles, func(i, j int) bool { return cycles[i].Timestamp.Before(cycles[j].Timestamp) })
	w.Samples = samples
	w.Cycles = cycles
	return w
}

func lastSample(w domain.EquipmentWindow) (domain.EquipmentSample, bool) {
	if len(w.Samples) == 0 {
		return domain.EquipmentSample{}, false
	}
	return w.Samples[len(w.Samples)-1], true
}

// trailingRunStart returns the timestamp of the first sample of the trailing run matching pred.
func trailingRunStart(samples []domain.EquipmentSample, pred func(domain.EquipmentSample) bool) time.Time {
	var start time.Time
	for i := len(samples) - 1; i >= 0; i-- {
		if !pred(samples[i]) {
			break
		}
		start = samples[i].Timestamp
	}
	return start
}

func minutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}
