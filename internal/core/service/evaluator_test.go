package service

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/adapter/store"
	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/metrics"
	"github.com/berfenger/setpoint2mqtt/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type evaluatorFixture struct {
	service   *ZoneEvaluationService
	telemetry *store.TelemetryStore
	cache     *store.MemoryRampRateCache
	clock     *fakeClock
}

func newEvaluatorFixture(t *testing.T, now time.Time) evaluatorFixture {
	weekday := config.HoursDefinition{Open: "08:00", Close: "21:00"}
	site, issues, err := store.NewSiteStore(&config.SiteConfig{
		Sites: []config.SiteDefinition{{
			Id: "store_42",
			Hours: map[string]config.HoursDefinition{
				"monday": weekday, "tuesday": weekday, "wednesday": weekday,
				"thursday": weekday, "friday": weekday, "saturday": weekday,
				"sunday": {Closed: true},
			},
		}},
		Profiles: []config.ProfileDefinition{{
			Id:           "retail",
			Occupied:     config.SetpointDefinition{Heat: 68, Cool: 76},
			Unoccupied:   config.SetpointDefinition{Heat: 60, Cool: 85},
			GuardrailMin: 55,
			GuardrailMax: 90,
			Override:     config.OverrideDefinition{MaxRaise: 3, MaxLower: 3, ResetMinutes: 120},
			SmartStart:   config.LayerDefinition{Enabled: true, Max: 15},
			Occupancy:    config.LayerDefinition{Enabled: true, Max: 1},
			FeelsLike:    config.LayerDefinition{Enabled: true, Max: 2},
		}},
		Zones: []config.ZoneDefinition{
			{
				Id: "sales_floor", Site: "store_42", Profile: "retail", Equipment: "rtu_1",
				Sensors: []config.BindingDefinition{
					{Entity: "sensor.t1", Class: "temperature", Weight: 0.5},
					{Entity: "sensor.t2", Class: "temperature", Weight: 0.5},
				},
			},
			{Id: "lobby", Scope: "open", Site: "store_42", Equipment: "rtu_1"},
			{Id: "backroom", Site: "store_42", Profile: "missing"},
		},
		Equipment: []config.EquipmentDefinition{{Id: "rtu_1", Class: "rtu"}},
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	clock := &fakeClock{now: now}
	telemetry := store.NewTelemetryStore(site, 4*time.Hour)
	cache := store.NewMemoryRampRateCache()
	svc := NewZoneEvaluationService(util.LoadTestConfig(), site, telemetry, cache, clock, zap.NewNop())
	return evaluatorFixture{service: svc, telemetry: telemetry, cache: cache, clock: clock}
}

func (f evaluatorFixture) report(zoneId string, temps ...float64) {
	now := f.clock.now
	for i, v := range temps {
		v := v
		entity := []string{"sensor.t1", "sensor.t2"}[i]
		f.telemetry.RecordReading(domain.SensorReading{EntityId: entity, Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &v, Timestamp: now})
	}
	f.telemetry.RecordThermostat(domain.ThermostatState{ZoneId: zoneId, Mode: domain.HVAC_MODE_HEAT_COOL, Action: domain.HVAC_ACTION_IDLE, LastSync: now})
}

func TestEvaluateOccupiedZone(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	f.report("sales_floor", 70, 72)

	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)

	assert.True(t, ev.Managed)
	temp := ev.Aggregates[domain.DEVICE_CLASS_TEMPERATURE]
	assert.Equal(t, 71.0, temp.Value)
	assert.Equal(t, SOURCE_ZONE_AVG, temp.Source)
	require.NotNil(t, ev.Directive)
	assert.Equal(t, 68.0, ev.Directive.HeatSetpoint)
	assert.Equal(t, 76.0, ev.Directive.CoolSetpoint)
	assert.Equal(t, domain.PHASE_OCCUPIED, ev.Directive.Phase)
	assert.Equal(t, domain.FRESHNESS_LIVE, ev.Freshness)
	assert.False(t, ev.Suppressed)
	assert.Nil(t, ev.SmartStart)
}

func TestEvaluateOpenZoneHasNoDirective(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	f.report("lobby")

	ev, err := f.service.Evaluate(context.Background(), "lobby")
	require.NoError(t, err)
	assert.False(t, ev.Managed)
	assert.Nil(t, ev.Directive)
	assert.Equal(t, domain.FRESHNESS_LIVE, ev.Freshness)
}

func TestEvaluateUnknownProfileFails(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))

	_, err := f.service.Evaluate(context.Background(), "backroom")
	assert.ErrorIs(t, err, domain.ErrUnknownProfile)

	_, err = f.service.Evaluate(context.Background(), "nowhere")
	assert.ErrorIs(t, err, domain.ErrUnknownZone)
}

func TestEvaluateMissingThermostatSuppresses(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))

	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	assert.Equal(t, domain.FRESHNESS_OFFLINE, ev.Freshness)
	assert.True(t, ev.Suppressed)
	assert.False(t, ev.Aggregates[domain.DEVICE_CLASS_TEMPERATURE].HasValue)
}

func TestEvaluatePreOpenUsesCachedRampRate(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 6, 30, 0, 0, time.UTC))
	require.NoError(t, f.cache.Set(context.Background(),
		domain.RampRateStat{ZoneId: "sales_floor", Mode: domain.HVAC_MODE_HEAT, RatePerMinute: 0.2, Samples: 8}, time.Hour))
	f.report("sales_floor", 60, 60)

	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)

	require.NotNil(t, ev.SmartStart)
	assert.Equal(t, domain.RATE_SOURCE_HISTORICAL, ev.SmartStart.RateSource)
	assert.Equal(t, 40, ev.SmartStart.BaseLeadMinutes)
	assert.Equal(t, time.Date(2024, 6, 3, 7, 20, 0, 0, time.UTC), ev.SmartStart.StartAt)
	require.NotNil(t, ev.Directive)
	assert.Equal(t, domain.PHASE_PRE_OPEN, ev.Directive.Phase)
	assert.Equal(t, domain.REASON_SMART_START, ev.Directive.Reason)
	assert.Equal(t, "Smart Start scheduled for 07:20", ev.Directive.ReasonText)
}

func TestEvaluateManagerOverride(t *testing.T) {
	f := newEvaluatorFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	f.report("sales_floor", 70, 72)

	_, err := f.service.SetOverride("sales_floor", 4)
	assert.ErrorIs(t, err, domain.ErrOverrideRange)

	o, err := f.service.SetOverride("sales_floor", -2)
	require.NoError(t, err)
	assert.Equal(t, f.clock.now.Add(120*time.Minute), o.ExpiresAt)

	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	assert.Equal(t, domain.REASON_MANAGER_OVERRIDE, ev.Directive.Reason)
	assert.Equal(t, 66.0, ev.Directive.HeatSetpoint)

	f.clock.now = f.clock.now.Add(120 * time.Minute)
	f.report("sales_floor", 70, 72)
	assert.Equal(t, []string{"sales_floor"}, f.service.ExpireOverrides())
	assert.Nil(t, f.service.ActiveOverride("sales_floor"))

	ev, err = f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	assert.Equal(t, domain.REASON_OCCUPIED, ev.Directive.Reason)
}

func TestEvaluateShortCyclingFlagComesAndGoes(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	f := newEvaluatorFixture(t, now)
	f.report("lobby")

	// 8 samples alternating every 8 minutes: 7 transitions in the last hour
	for i := 7; i >= 0; i-- {
		f.telemetry.RecordEquipmentSample(domain.EquipmentSample{
			EquipmentId:  "rtu_1",
			Timestamp:    now.Add(-time.Duration(i) * 8 * time.Minute),
			CompressorOn: i%2 == 0,
		})
	}
	ev, err := f.service.Evaluate(context.Background(), "lobby")
	require.NoError(t, err)
	flag := findFlag(ev.Anomalies, domain.ANOMALY_SHORT_CYCLING)
	require.NotNil(t, flag)
	detectedAt := flag.DetectedAt

	// still raised a minute later, detection time kept
	f.clock.now = now.Add(time.Minute)
	ev, err = f.service.Evaluate(context.Background(), "lobby")
	require.NoError(t, err)
	flag = findFlag(ev.Anomalies, domain.ANOMALY_SHORT_CYCLING)
	require.NotNil(t, flag)
	assert.Equal(t, detectedAt, flag.DetectedAt)

	// an hour later the toggles have left the window
	f.clock.now = now.Add(61 * time.Minute)
	f.telemetry.RecordEquipmentSample(domain.EquipmentSample{EquipmentId: "rtu_1", Timestamp: f.clock.now, CompressorOn: true})
	ev, err = f.service.Evaluate(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Nil(t, findFlag(ev.Anomalies, domain.ANOMALY_SHORT_CYCLING))

	// the anomaly gauge belongs to the engine actor
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.ActiveAnomalies))
}

func TestEvaluateRecordsRampSample(t *testing.T) {
	start := time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC)
	f := newEvaluatorFixture(t, start)

	heat := func(temp float64, action domain.HVACAction) {
		v := temp
		f.telemetry.RecordReading(domain.SensorReading{EntityId: "sensor.t1", Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &v, Timestamp: f.clock.now})
		f.telemetry.RecordReading(domain.SensorReading{EntityId: "sensor.t2", Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &v, Timestamp: f.clock.now})
		f.telemetry.RecordThermostat(domain.ThermostatState{ZoneId: "sales_floor", Action: action, LastSync: f.clock.now})
	}

	heat(62, domain.HVAC_ACTION_HEATING)
	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	assert.Empty(t, ev.RampSamples)

	f.clock.now = start.Add(30 * time.Minute)
	heat(68, domain.HVAC_ACTION_IDLE)
	ev, err = f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	require.Len(t, ev.RampSamples, 1)
	assert.InDelta(t, 0.2, ev.RampSamples[0].RatePerMinute, 1e-9)
}

func TestEvaluateFlagsReadingsOlderThanInterval(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	record := func(f evaluatorFixture, t2Age time.Duration) {
		t1, t2 := 70.0, 72.0
		f.telemetry.RecordReading(domain.SensorReading{EntityId: "sensor.t1", Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &t1, Timestamp: now.Add(-30 * time.Second)})
		f.telemetry.RecordReading(domain.SensorReading{EntityId: "sensor.t2", Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &t2, Timestamp: now.Add(-t2Age)})
		f.telemetry.RecordThermostat(domain.ThermostatState{ZoneId: "sales_floor", Mode: domain.HVAC_MODE_HEAT_COOL, Action: domain.HVAC_ACTION_IDLE, LastSync: now})
	}

	f := newEvaluatorFixture(t, now)
	require.Equal(t, f.service.Config.Interval(), f.service.Aggregator.FreshnessHorizon)
	record(f, 30*time.Second)
	ev, err := f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	assert.True(t, ev.Aggregates[domain.DEVICE_CLASS_TEMPERATURE].Fresh)

	// 20 minutes is inside the stale window but older than one cycle
	f = newEvaluatorFixture(t, now)
	record(f, 20*time.Minute)
	ev, err = f.service.Evaluate(context.Background(), "sales_floor")
	require.NoError(t, err)
	temp := ev.Aggregates[domain.DEVICE_CLASS_TEMPERATURE]
	assert.True(t, temp.HasValue)
	assert.Equal(t, 71.0, temp.Value)
	assert.False(t, temp.Fresh)
	assert.Equal(t, domain.FRESHNESS_LIVE, ev.Freshness)
}
