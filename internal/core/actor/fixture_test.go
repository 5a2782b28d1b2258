package actor

import (
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/adapter/store"
	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/service"
	"github.com/berfenger/setpoint2mqtt/internal/util"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type testFixture struct {
	config    config.Config
	services  Services
	telemetry *store.TelemetryStore
	history   *store.MemoryRampHistory
	cache     *store.MemoryRampRateCache
	now       time.Time
	logger    *zap.Logger
}

// newTestFixture builds a two zone store on a Monday noon, with readings for
// the managed zone already recorded.
func newTestFixture(t *testing.T) testFixture {
	cfg := util.LoadTestConfig()
	cfg.Engine.IntervalSeconds = 0
	cfg.MQTT.HADiscoveryEnable = true
	cfg.MQTT.HADiscoveryTopic = "homeassistant"

	weekday := config.HoursDefinition{Open: "08:00", Close: "21:00"}
	site, _, err := store.NewSiteStore(&config.SiteConfig{
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
		},
		Equipment: []config.EquipmentDefinition{{Id: "rtu_1", Class: "rtu"}},
	})
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	clock := fixedClock{now: now}
	logger := zap.Must(zap.NewDevelopment())

	telemetry := store.NewTelemetryStore(site, 4*time.Hour)
	for i, v := range []float64{70, 72} {
		v := v
		entity := []string{"sensor.t1", "sensor.t2"}[i]
		telemetry.RecordReading(domain.SensorReading{EntityId: entity, Class: domain.DEVICE_CLASS_TEMPERATURE, Value: &v, Timestamp: now})
	}
	for _, zoneId := range []string{"sales_floor", "lobby"} {
		telemetry.RecordThermostat(domain.ThermostatState{ZoneId: zoneId, Mode: domain.HVAC_MODE_HEAT_COOL, Action: domain.HVAC_ACTION_IDLE, LastSync: now})
	}

	cache := store.NewMemoryRampRateCache()
	history := store.NewMemoryRampHistory(site.StaticRampRates())
	evaluator := service.NewZoneEvaluationService(cfg, site, telemetry, cache, clock, logger)
	runner := &service.BatchRunner{
		Evaluator:   evaluator,
		Parallelism: cfg.Engine.Parallelism,
		ZoneTimeout: cfg.Engine.ZoneTimeout(),
		Logger:      logger,
	}

	return testFixture{
		config: cfg,
		services: Services{
			Evaluator:   evaluator,
			Runner:      runner,
			Site:        site,
			RampHistory: history,
			RampCache:   cache,
			Clock:       clock,
		},
		telemetry: telemetry,
		history:   history,
		cache:     cache,
		now:       now,
		logger:    logger,
	}
}
