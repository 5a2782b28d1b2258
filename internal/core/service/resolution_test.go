package service

import (
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	resNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	zoneA  = domain.Zone{Id: "sales_floor", Scope: domain.CONTROL_SCOPE_MANAGED, ProfileId: "retail"}
)

func newEngine() *ResolutionEngine {
	cfg := util.LoadTestConfig()
	return &ResolutionEngine{
		Config:    cfg.Engine,
		HeatIndex: NewHeatIndex(cfg.FeelsLike),
		Logger:    zap.NewNop(),
	}
}

func syncedAt(at time.Time) *domain.ThermostatState {
	return &domain.ThermostatState{ZoneId: zoneA.Id, LastSync: at}
}

func occupiedInput() ResolutionInput {
	return ResolutionInput{
		Zone:       zoneA,
		Profile:    retailProfile(),
		Phase:      domain.PHASE_OCCUPIED,
		Thermostat: syncedAt(resNow.Add(-2 * time.Minute)),
		Indoor:     f64(72),
		Humidity:   f64(35),
		Now:        resNow,
	}
}

func layerApplied(d domain.Directive, kind domain.LayerKind) bool {
	for _, l := range d.Layers {
		if l.Kind == kind {
			return l.Applied
		}
	}
	return false
}

func TestResolveOccupiedBaseline(t *testing.T) {
	res := newEngine().Resolve(occupiedInput())

	require.True(t, res.Emit)
	d := res.Directive
	assert.Equal(t, 68.0, d.HeatSetpoint)
	assert.Equal(t, 76.0, d.CoolSetpoint)
	assert.Equal(t, domain.HVAC_MODE_HEAT_COOL, d.Mode)
	assert.Equal(t, domain.REASON_OCCUPIED, d.Reason)
	assert.Equal(t, domain.FRESHNESS_LIVE, d.Freshness)
	assert.NotEmpty(t, d.Id)
	assert.Len(t, d.Layers, 7)
	assert.Equal(t, domain.LAYER_BASELINE, d.Layers[0].Kind)
	assert.Equal(t, domain.LAYER_GUARDRAIL, d.Layers[6].Kind)
	assert.Empty(t, res.Issues)
}

func TestGuardrailBeatsManagerOverride(t *testing.T) {
	in := occupiedInput()
	in.Indoor = f64(55)
	in.Override = &domain.ManagerOverride{
		ZoneId:    zoneA.Id,
		Offset:    3,
		StartedAt: resNow.Add(-10 * time.Minute),
		ExpiresAt: resNow.Add(110 * time.Minute),
	}

	d := newEngine().Resolve(in).Directive

	assert.Equal(t, domain.REASON_GUARDRAIL, d.Reason)
	assert.Equal(t, "Guardrail: forcing heat", d.ReasonText)
	assert.Equal(t, domain.HVAC_MODE_HEAT, d.Mode)
	assert.Equal(t, 57.0, d.HeatSetpoint)
	assert.True(t, layerApplied(d, domain.LAYER_MANAGER_OVERRIDE))
	assert.True(t, layerApplied(d, domain.LAYER_GUARDRAIL))
}

func TestGuardrailProjectsTrend(t *testing.T) {
	in := occupiedInput()
	in.Indoor = f64(88)
	// one minute interval in the test config
	in.Trend = f64(2.5)

	d := newEngine().Resolve(in).Directive

	assert.Equal(t, domain.REASON_GUARDRAIL, d.Reason)
	assert.Equal(t, domain.HVAC_MODE_COOL, d.Mode)
	assert.Equal(t, 88.0, d.CoolSetpoint)

	in.Trend = f64(0.5)
	d = newEngine().Resolve(in).Directive
	assert.Equal(t, domain.REASON_OCCUPIED, d.Reason)
}

func TestOccupancyRelaxesAndReverts(t *testing.T) {
	engine := newEngine()
	in := occupiedInput()
	lastMotion := resNow.Add(-45 * time.Minute)
	in.Occupancy = domain.OccupancyState{ZoneId: zoneA.Id, Known: true, Occupied: false, LastMotion: &lastMotion}

	d := engine.Resolve(in).Directive
	assert.Equal(t, 77.0, d.CoolSetpoint)
	assert.Equal(t, 67.0, d.HeatSetpoint)
	assert.Equal(t, domain.REASON_OCCUPIED, d.Reason)
	require.Len(t, d.Annotations, 1)
	assert.Contains(t, d.Annotations[0], "45 min")

	// motion resumes on the next cycle
	in.Now = resNow.Add(5 * time.Minute)
	in.Thermostat = syncedAt(in.Now)
	moved := in.Now.Add(-time.Minute)
	in.Occupancy = domain.OccupancyState{ZoneId: zoneA.Id, Known: true, Occupied: true, LastMotion: &moved}

	d = engine.Resolve(in).Directive
	assert.Equal(t, 76.0, d.CoolSetpoint)
	assert.Equal(t, 68.0, d.HeatSetpoint)
	assert.Empty(t, d.Annotations)
}

func TestOccupancyUnknownSensorIgnored(t *testing.T) {
	in := occupiedInput()
	in.Occupancy = domain.OccupancyState{ZoneId: zoneA.Id}

	d := newEngine().Resolve(in).Directive
	assert.False(t, layerApplied(d, domain.LAYER_OCCUPANCY))
	assert.Equal(t, 76.0, d.CoolSetpoint)
}

func TestFeelsLikeBoundaries(t *testing.T) {
	engine := newEngine()
	for _, c := range []struct{ t, rh float64 }{{79.9, 90}, {85, 39.9}, {60, 100}} {
		in := occupiedInput()
		in.Indoor = f64(c.t)
		in.Humidity = f64(c.rh)
		d := engine.Resolve(in).Directive
		assert.False(t, layerApplied(d, domain.LAYER_FEELS_LIKE), "t=%v rh=%v", c.t, c.rh)
		assert.Equal(t, 76.0, d.CoolSetpoint, "t=%v rh=%v", c.t, c.rh)
	}

	in := occupiedInput()
	in.Indoor = f64(85)
	in.Humidity = f64(60)
	d := engine.Resolve(in).Directive
	assert.True(t, layerApplied(d, domain.LAYER_FEELS_LIKE))
	// bounded by the profile max of 2°F
	assert.Equal(t, 74.0, d.CoolSetpoint)
	assert.Equal(t, domain.REASON_OCCUPIED, d.Reason)
	assert.Len(t, d.Annotations, 1)
}

func TestManagerOverrideExpiresExactly(t *testing.T) {
	engine := newEngine()
	book := NewOverrideBook()
	started := resNow
	_, err := book.Set(zoneA.Id, 2, retailProfile().Override, started)
	require.NoError(t, err)

	in := occupiedInput()
	in.Now = started.Add(120*time.Minute - time.Second)
	in.Thermostat = syncedAt(in.Now)
	in.Override = book.Active(zoneA.Id, in.Now)
	d := engine.Resolve(in).Directive
	assert.Equal(t, domain.REASON_MANAGER_OVERRIDE, d.Reason)
	assert.Equal(t, "Manager override active, 1 min remaining", d.ReasonText)
	assert.Equal(t, 70.0, d.HeatSetpoint)
	assert.Equal(t, 78.0, d.CoolSetpoint)

	in.Now = started.Add(120 * time.Minute)
	in.Thermostat = syncedAt(in.Now)
	in.Override = book.Active(zoneA.Id, in.Now)
	d = engine.Resolve(in).Directive
	assert.Equal(t, domain.REASON_OCCUPIED, d.Reason)
	assert.Equal(t, 68.0, d.HeatSetpoint)
	assert.Equal(t, 76.0, d.CoolSetpoint)
}

func TestManagerOverrideReasonText(t *testing.T) {
	in := occupiedInput()
	in.Override = &domain.ManagerOverride{
		Offset:    -2,
		StartedAt: resNow.Add(-75 * time.Minute),
		ExpiresAt: resNow.Add(45 * time.Minute),
	}
	d := newEngine().Resolve(in).Directive
	assert.Equal(t, "Manager override active, 45 min remaining", d.ReasonText)
	assert.Equal(t, 66.0, d.HeatSetpoint)
	assert.Equal(t, 74.0, d.CoolSetpoint)
}

func TestFreshnessClassification(t *testing.T) {
	engine := newEngine()

	for _, c := range []struct {
		age       time.Duration
		freshness domain.Freshness
		emit      bool
	}{
		{5 * time.Minute, domain.FRESHNESS_LIVE, true},
		{15 * time.Minute, domain.FRESHNESS_STALE, true},
		{30 * time.Minute, domain.FRESHNESS_OFFLINE, false},
	} {
		in := occupiedInput()
		in.Thermostat = syncedAt(resNow.Add(-c.age))
		res := engine.Resolve(in)
		assert.Equal(t, c.freshness, res.Freshness, "age %v", c.age)
		assert.Equal(t, c.emit, res.Emit, "age %v", c.age)
	}

	in := occupiedInput()
	in.Thermostat = syncedAt(resNow.Add(-15 * time.Minute))
	assert.Contains(t, engine.Resolve(in).Directive.Annotations, "Thermostat data stale, best effort")

	in.Thermostat = nil
	res := engine.Resolve(in)
	assert.Equal(t, domain.FRESHNESS_OFFLINE, res.Freshness)
	assert.False(t, res.Emit)
}

func TestSmartStartHoldThenStart(t *testing.T) {
	engine := newEngine()
	est := &domain.SmartStartEstimate{
		ZoneId:  zoneA.Id,
		StartAt: time.Date(2024, 6, 3, 7, 7, 0, 0, time.UTC),
		OpenAt:  time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
	}

	in := occupiedInput()
	in.Phase = domain.PHASE_PRE_OPEN
	in.Estimate = est
	in.Now = time.Date(2024, 6, 3, 6, 30, 0, 0, time.UTC)
	in.Thermostat = syncedAt(in.Now)
	lastMotion := in.Now.Add(-time.Hour)
	in.Occupancy = domain.OccupancyState{Known: true, LastMotion: &lastMotion}

	d := engine.Resolve(in).Directive
	assert.Equal(t, domain.REASON_SMART_START, d.Reason)
	assert.Equal(t, "Smart Start scheduled for 07:07", d.ReasonText)
	assert.Equal(t, 60.0, d.HeatSetpoint)
	assert.Equal(t, 85.0, d.CoolSetpoint)
	// occupancy only applies once the store is open
	assert.False(t, layerApplied(d, domain.LAYER_OCCUPANCY))

	in.Now = time.Date(2024, 6, 3, 7, 10, 0, 0, time.UTC)
	in.Thermostat = syncedAt(in.Now)
	d = engine.Resolve(in).Directive
	assert.Equal(t, "Smart Start pre-conditioning", d.ReasonText)
	assert.Equal(t, 68.0, d.HeatSetpoint)
	assert.Equal(t, 76.0, d.CoolSetpoint)
}

func TestOverrideComposesWithSmartStart(t *testing.T) {
	in := occupiedInput()
	in.Phase = domain.PHASE_PRE_OPEN
	in.Now = time.Date(2024, 6, 3, 6, 30, 0, 0, time.UTC)
	in.Thermostat = syncedAt(in.Now)
	in.Estimate = &domain.SmartStartEstimate{StartAt: time.Date(2024, 6, 3, 7, 7, 0, 0, time.UTC)}
	in.Override = &domain.ManagerOverride{Offset: 2, StartedAt: in.Now, ExpiresAt: in.Now.Add(2 * time.Hour)}

	d := newEngine().Resolve(in).Directive
	assert.Equal(t, domain.REASON_MANAGER_OVERRIDE, d.Reason)
	assert.Equal(t, 62.0, d.HeatSetpoint)
	assert.Equal(t, 87.0, d.CoolSetpoint)
	assert.True(t, layerApplied(d, domain.LAYER_SMART_START))
}

func TestUnoccupiedIgnoresAdjustments(t *testing.T) {
	in := occupiedInput()
	in.Phase = domain.PHASE_UNOCCUPIED
	in.Indoor = f64(85)
	in.Humidity = f64(70)
	in.Override = &domain.ManagerOverride{Offset: 3, StartedAt: resNow, ExpiresAt: resNow.Add(time.Hour)}
	in.Occupancy = domain.OccupancyState{Known: true}

	d := newEngine().Resolve(in).Directive
	assert.Equal(t, domain.REASON_UNOCCUPIED, d.Reason)
	assert.Equal(t, 60.0, d.HeatSetpoint)
	assert.Equal(t, 85.0, d.CoolSetpoint)
	for _, l := range d.Layers[1:] {
		assert.False(t, l.Applied, string(l.Kind))
	}
}

func TestDeadbandWidensNarrowProfile(t *testing.T) {
	in := occupiedInput()
	in.Profile.Occupied.Heat = 70
	in.Profile.Occupied.Cool = 71

	d := newEngine().Resolve(in).Directive
	assert.True(t, layerApplied(d, domain.LAYER_DEADBAND))
	assert.Equal(t, 69.5, d.HeatSetpoint)
	assert.Equal(t, 71.5, d.CoolSetpoint)
}

func TestNarrowGuardrailReportedAndClamped(t *testing.T) {
	in := occupiedInput()
	in.Profile.GuardrailMin = 70

	res := newEngine().Resolve(in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.ISSUE_GUARDRAIL_TOO_NARROW, res.Issues[0].Code)
	assert.Equal(t, 70.0, res.Directive.HeatSetpoint)
	assert.Equal(t, domain.REASON_OCCUPIED, res.Directive.Reason)
}

func TestGuardrailEnforcedOnDegenerateBand(t *testing.T) {
	in := occupiedInput()
	in.Profile.GuardrailMin = 55
	in.Profile.GuardrailMax = 55
	in.Indoor = f64(40)

	d := newEngine().Resolve(in).Directive
	assert.Equal(t, domain.REASON_GUARDRAIL, d.Reason)
	assert.Equal(t, domain.HVAC_MODE_HEAT, d.Mode)
	assert.Equal(t, 55.0, d.HeatSetpoint)
	assert.True(t, layerApplied(d, domain.LAYER_GUARDRAIL))

	// reversed bounds still guard the same band
	in.Profile.GuardrailMin = 90
	in.Profile.GuardrailMax = 55
	d = newEngine().Resolve(in).Directive
	assert.Equal(t, domain.REASON_GUARDRAIL, d.Reason)
	assert.Equal(t, domain.HVAC_MODE_HEAT, d.Mode)
	assert.Equal(t, 57.0, d.HeatSetpoint)
}
