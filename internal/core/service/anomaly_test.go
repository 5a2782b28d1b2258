package service

import (
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var detector = &AnomalyDetector{
	Config: config.AnomalyConfig{
		Default: config.DefaultAnomalyParams(),
		Classes: map[string]config.AnomalyParams{
			"heat_pump": func() config.AnomalyParams {
				p := config.DefaultAnomalyParams()
				p.LongCycleMinutes = 300
				return p
			}(),
		},
	},
	Logger: zap.NewNop(),
}

var anomalyNow = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func TestShortCyclingSevenTogglesRaised(t *testing.T) {
	w := equipment("rtu")
	w.Cycles = toggles(anomalyNow, 7, 8*time.Minute)

	flags := detector.Detect(w, anomalyNow)

	f := findFlag(flags, domain.ANOMALY_SHORT_CYCLING)
	require.NotNil(t, f)
	assert.Equal(t, 7.0, f.MetricValue)
	assert.Equal(t, domain.SEVERITY_WARNING, f.Severity)
}

func TestShortCyclingThreeTogglesAbsent(t *testing.T) {
	w := equipment("rtu")
	w.Cycles = toggles(anomalyNow, 3, 15*time.Minute)

	flags := detector.Detect(w, anomalyNow)

	assert.Nil(t, findFlag(flags, domain.ANOMALY_SHORT_CYCLING))
}

func TestShortCyclingIgnoresOldToggles(t *testing.T) {
	w := equipment("rtu")
	w.Cycles = toggles(anomalyNow.Add(-2*time.Hour), 10, time.Minute)

	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_SHORT_CYCLING))
}

func TestLongCycle(t *testing.T) {
	w := equipment("rtu")
	w.Cycles = []domain.CycleEvent{{Timestamp: anomalyNow.Add(-200 * time.Minute), On: true}}
	w.Samples = []domain.EquipmentSample{
		sample(anomalyNow.Add(-10*time.Minute), true, domain.HVAC_ACTION_COOLING),
		sample(anomalyNow, true, domain.HVAC_ACTION_COOLING),
	}

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_LONG_CYCLE)
	require.NotNil(t, f)
	assert.InDelta(t, 200.0, f.MetricValue, 0.001)

	// per-class threshold
	w.Equipment.Class = "heat_pump"
	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_LONG_CYCLE))
}

func TestCoilFreeze(t *testing.T) {
	w := equipment("rtu")
	s := sample(anomalyNow, true, domain.HVAC_ACTION_COOLING)
	s.CoilTemperature = f64(31)
	w.Samples = []domain.EquipmentSample{s}

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_COIL_FREEZE)
	require.NotNil(t, f)
	assert.Equal(t, domain.SEVERITY_CRITICAL, f.Severity)

	s.CoilTemperature = f64(40)
	w.Samples = []domain.EquipmentSample{s}
	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_COIL_FREEZE))
}

func TestDelayedTempResponse(t *testing.T) {
	w := equipment("rtu")
	first := sample(anomalyNow.Add(-40*time.Minute), true, domain.HVAC_ACTION_HEATING)
	first.ZoneTemperature = f64(64)
	last := sample(anomalyNow, true, domain.HVAC_ACTION_HEATING)
	last.ZoneTemperature = f64(64.2)
	w.Samples = []domain.EquipmentSample{first, last}

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_DELAYED_TEMP_RESPONSE)
	require.NotNil(t, f)
	assert.InDelta(t, 0.2, f.MetricValue, 0.0001)

	last.ZoneTemperature = f64(66)
	w.Samples = []domain.EquipmentSample{first, last}
	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_DELAYED_TEMP_RESPONSE))
}

func TestDelayedTempResponseNeedsFullWindow(t *testing.T) {
	w := equipment("rtu")
	first := sample(anomalyNow.Add(-10*time.Minute), true, domain.HVAC_ACTION_COOLING)
	first.ZoneTemperature = f64(78)
	last := sample(anomalyNow, true, domain.HVAC_ACTION_COOLING)
	last.ZoneTemperature = f64(78)
	w.Samples = []domain.EquipmentSample{first, last}

	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_DELAYED_TEMP_RESPONSE))
}

func TestFilterRestriction(t *testing.T) {
	w := equipment("rtu")
	s := sample(anomalyNow, true, domain.HVAC_ACTION_HEATING)
	s.SupplyTemperature = f64(110)
	s.ReturnTemperature = f64(68)
	w.Samples = []domain.EquipmentSample{s}

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_FILTER_RESTRICTION)
	require.NotNil(t, f)
	assert.Equal(t, 42.0, f.MetricValue)
}

func TestRefrigerantLow(t *testing.T) {
	w := equipment("rtu")
	s := sample(anomalyNow, true, domain.HVAC_ACTION_COOLING)
	s.SupplyTemperature = f64(68)
	s.ReturnTemperature = f64(75)
	s.CompressorCurrent = f64(10.5)
	w.Samples = []domain.EquipmentSample{s}

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_REFRIGERANT_LOW)
	require.NotNil(t, f)
	assert.InDelta(t, 0.35, f.MetricValue, 0.0001)

	// off-nominal current makes the rule inconclusive
	s.CompressorCurrent = f64(20)
	w.Samples = []domain.EquipmentSample{s}
	assert.Nil(t, findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_REFRIGERANT_LOW))
}

func TestIdleHeatGain(t *testing.T) {
	w := equipment("rtu")
	var samples []domain.EquipmentSample
	for i := 0; i <= 4; i++ {
		s := sample(anomalyNow.Add(time.Duration(-40+i*10)*time.Minute), false, domain.HVAC_ACTION_IDLE)
		s.ZoneTemperature = f64(70 + float64(i)*0.5)
		s.OutdoorTemperature = f64(50)
		samples = append(samples, s)
	}
	w.Samples = samples

	f := findFlag(detector.Detect(w, anomalyNow), domain.ANOMALY_IDLE_HEAT_GAIN)
	require.NotNil(t, f)
	assert.Equal(t, domain.SEVERITY_INFO, f.Severity)
	assert.InDelta(t, 1.5, f.MetricValue, 0.0001)
}

func TestMergeFlagsKeepsDetectionTime(t *testing.T) {
	earlier := anomalyNow.Add(-time.Hour)
	previous := []domain.AnomalyFlag{
		{SubjectId: "rtu", Name: domain.ANOMALY_COIL_FREEZE, DetectedAt: earlier},
		{SubjectId: "rtu", Name: domain.ANOMALY_SHORT_CYCLING, DetectedAt: earlier},
	}
	current := []domain.AnomalyFlag{
		{SubjectId: "rtu", Name: domain.ANOMALY_COIL_FREEZE, DetectedAt: anomalyNow},
	}

	merged := MergeFlags(previous, current)

	require.Len(t, merged, 1)
	assert.Equal(t, earlier, merged[0].DetectedAt)
}

func TestNoSamplesNoFlags(t *testing.T) {
	assert.Empty(t, detector.Detect(equipment("rtu"), anomalyNow))
}

func equipment(class string) domain.EquipmentWindow {
	return domain.EquipmentWindow{
		Equipment: domain.Equipment{Id: "rtu_1", Class: class, RatedDeltaT: 20, NominalCurrent: 10},
	}
}

func sample(ts time.Time, on bool, action domain.HVACAction) domain.EquipmentSample {
	return domain.EquipmentSample{
		EquipmentId:  "rtu_1",
		Timestamp:    ts,
		CompressorOn: on,
		FanRunning:   on,
		Action:       action,
	}
}

func toggles(end time.Time, n int, spacing time.Duration) []domain.CycleEvent {
	events := make([]domain.CycleEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, domain.CycleEvent{
			Timestamp: end.Add(-time.Duration(i) * spacing),
			On:        i%2 == 0,
		})
	}
	return events
}

func findFlag(flags []domain.AnomalyFlag, name string) *domain.AnomalyFlag {
	for i := range flags {
		if flags[i].Name == name {
			return &flags[i]
		}
	}
	return nil
}

func f64(v float64) *float64 {
	return &v
}
