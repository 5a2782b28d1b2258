package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
	"github.com/berfenger/setpoint2mqtt/internal/metrics"

	"go.uber.org/zap"
)

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ensure interface compliance
var _ port.Clock = SystemClock{}
var _ port.ZoneEvaluator = (*ZoneEvaluationService)(nil)

// ZoneEvaluationService runs the whole pipeline for one zone: aggregation, anomalies,
// Smart Start and setpoint resolution.
type ZoneEvaluationService struct {
	Site       port.SiteRepository
	Telemetry  port.TelemetryRepository
	RampRates  port.RampRateCache
	Overrides  *OverrideBook
	Trends     *TrendTracker
	Ramps      *RampObserver
	Aggregator *SensorAggregator
	Detector   *AnomalyDetector
	Predictor  *SmartStartPredictor
	Engine     *ResolutionEngine
	Clock      port.Clock
	Config     config.EngineConfig
	Logger     *zap.Logger

	mu    sync.Mutex
	flags map[string][]domain.AnomalyFlag
}

func NewZoneEvaluationService(cfg config.Config, site port.SiteRepository, telemetry port.TelemetryRepository,
	rampRates port.RampRateCache, clock port.Clock, logger *zap.Logger) *ZoneEvaluationService {
	return &ZoneEvaluationService{
		Site:      site,
		Telemetry: telemetry,
		RampRates: rampRates,
		Overrides: NewOverrideBook(),
		Trends:    NewTrendTracker(minutes(cfg.Engine.TrendWindowMinutes)),
		Ramps:     NewRampObserver(minutes(cfg.Engine.MinRampRunMinutes)),
		Aggregator: &SensorAggregator{
			FreshnessHorizon: cfg.Engine.Interval(),
			WeightTolerance:  cfg.Engine.WeightTolerance,
		},
		Detector:  &AnomalyDetector{Config: cfg.Anomaly, Logger: logger},
		Predictor: &SmartStartPredictor{Config: cfg.SmartStart},
		Engine: &ResolutionEngine{
			Config:    cfg.Engine,
			HeatIndex: NewHeatIndex(cfg.FeelsLike),
			Logger:    logger,
		},
		Clock:  clock,
		Config: cfg.Engine,
		Logger: logger,
		flags:  make(map[string][]domain.AnomalyFlag),
	}
}

func (s *ZoneEvaluationService) Evaluate(ctx context.Context, zoneId string) (domain.ZoneEvaluation, error) {
	if err := ctx.Err(); err != nil {
		return domain.ZoneEvaluation{}, err
	}
	zone, err := s.Site.Zone(zoneId)
	if err != nil {
		return domain.ZoneEvaluation{}, err
	}
	now := s.Clock.Now()

	var thermostat *domain.ThermostatState
	if ts, ok := s.Telemetry.Thermostat(zone.Id); ok {
		thermostat = &ts
	}

	readings := make(map[string]domain.SensorReading, len(zone.Bindings))
	for _, b := range zone.Bindings {
		if r, ok := s.Telemetry.LatestReading(b.EntityId); ok {
			readings[b.EntityId] = r
		}
	}

	ev := domain.ZoneEvaluation{
		ZoneId:      zone.Id,
		EquipmentId: zone.EquipmentId,
		Managed:     zone.Managed(),
		Aggregates:  make(map[domain.DeviceClass]domain.AggregateReading, 2),
		EvaluatedAt: now,
	}
	for _, class := range []domain.DeviceClass{domain.DEVICE_CLASS_TEMPERATURE, domain.DEVICE_CLASS_HUMIDITY} {
		agg, issues := s.Aggregator.Aggregate(zone, class, readings, thermostat, now)
		ev.Aggregates[class] = agg
		ev.Issues = append(ev.Issues, issues...)
	}
	temperature := ev.Aggregates[domain.DEVICE_CLASS_TEMPERATURE]
	humidity := ev.Aggregates[domain.DEVICE_CLASS_HUMIDITY]

	if temperature.HasValue {
		at := temperature.Timestamp
		if at.IsZero() {
			at = now
		}
		s.Trends.Observe(zone.Id, at, temperature.Value)
	}
	var trend *float64
	if slope, ok := s.Trends.Slope(zone.Id); ok {
		trend = &slope
	}

	ev.Anomalies, ev.Issues = s.detectAnomalies(zone, now, ev.Issues)

	ev.Freshness = ClassifyFreshness(thermostat, now,
		time.Duration(s.Config.LiveMinutes*float64(time.Minute)),
		time.Duration(s.Config.StaleMinutes*float64(time.Minute)))

	if thermostat != nil {
		if sample := s.Ramps.Observe(zone.Id, thermostat.Action, temperature.Ptr(), now); sample != nil {
			ev.RampSamples = append(ev.RampSamples, *sample)
		}
	}

	if !zone.Managed() {
		// open zones are observed only
		return ev, nil
	}

	profile, err := s.Site.Profile(zone.ProfileId)
	if err != nil {
		return ev, fmt.Errorf("zone %s: %w", zone.Id, err)
	}
	hours, err := s.Site.StoreHours(zone.SiteId)
	if err != nil {
		return ev, fmt.Errorf("zone %s: %w", zone.Id, err)
	}

	phase, openAt, hasOpening := ResolvePhase(hours, now, minutes(s.Config.PreOpenBufferMinutes), profile.SmartStart.Enabled)
	occupancy := s.Telemetry.Occupancy(zone)

	if profile.SmartStart.Enabled && phase != domain.PHASE_OCCUPIED && hasOpening {
		est := s.Predictor.Estimate(SmartStartInput{
			ZoneId:            zone.Id,
			Profile:           profile,
			IndoorTemperature: temperature.Ptr(),
			Humidity:          humidity.Ptr(),
			Historical:        s.historicalRates(ctx, zone.Id),
			CurrentTrend:      trend,
			LastMotion:        occupancy.LastMotion,
			OpenAt:            openAt,
			Now:               now,
		})
		ev.SmartStart = &est
	}

	if err := ctx.Err(); err != nil {
		return ev, err
	}

	res := s.Engine.Resolve(ResolutionInput{
		Zone:       zone,
		Profile:    profile,
		Phase:      phase,
		Location:   hours.Location,
		Thermostat: thermostat,
		Indoor:     temperature.Ptr(),
		Humidity:   humidity.Ptr(),
		Trend:      trend,
		Occupancy:  occupancy,
		Override:   s.Overrides.Active(zone.Id, now),
		Estimate:   ev.SmartStart,
		Now:        now,
	})
	ev.Directive = &res.Directive
	ev.Freshness = res.Freshness
	ev.Suppressed = !res.Emit
	ev.Issues = append(ev.Issues, res.Issues...)
	return ev, nil
}

func (s *ZoneEvaluationService) detectAnomalies(zone domain.Zone, now time.Time, issues []domain.ConfigIssue) ([]domain.AnomalyFlag, []domain.ConfigIssue) {
	if zone.EquipmentId == "" {
		return nil, issues
	}
	retention := minutes(s.Config.EquipmentRetentionMinutes)
	window, ok := s.Telemetry.EquipmentWindow(zone.EquipmentId, now.Add(-retention))
	if !ok {
		if _, known := s.Site.Equipment(zone.EquipmentId); !known {
			issues = append(issues, domain.ConfigIssue{
				Subject: zone.Id,
				Code:    domain.ISSUE_UNKNOWN_EQUIPMENT,
				Detail:  "equipment " + zone.EquipmentId + " is not defined",
			})
		}
		return nil, issues
	}

	current := s.Detector.Detect(window, now)
	s.mu.Lock()
	merged := MergeFlags(s.flags[zone.EquipmentId], current)
	s.flags[zone.EquipmentId] = merged
	s.mu.Unlock()
	return merged, issues
}

func (s *ZoneEvaluationService) historicalRates(ctx context.Context, zoneId string) map[domain.HVACMode]domain.RampRateStat {
	rates := make(map[domain.HVACMode]domain.RampRateStat, 2)
	if s.RampRates == nil {
		return rates
	}
	for _, mode := range []domain.HVACMode{domain.HVAC_MODE_HEAT, domain.HVAC_MODE_COOL} {
		stat, err := s.RampRates.Get(ctx, zoneId, mode)
		switch {
		case err == nil:
			metrics.RampCacheHits.Inc()
			rates[mode] = stat
		case errors.Is(err, domain.ErrCacheMiss):
			metrics.RampCacheMisses.Inc()
		default:
			s.Logger.Warn("ramp rate lookup failed", zap.String("zone", zoneId), zap.String("mode", string(mode)), zap.Error(err))
		}
	}
	return rates
}

// SetOverride validates the offset against the zone's profile and starts the override.
func (s *ZoneEvaluationService) SetOverride(zoneId string, offset float64) (domain.ManagerOverride, error) {
	zone, err := s.Site.Zone(zoneId)
	if err != nil {
		return domain.ManagerOverride{}, err
	}
	profile, err := s.Site.Profile(zone.ProfileId)
	if err != nil {
		return domain.ManagerOverride{}, err
	}
	return s.Overrides.Set(zone.Id, offset, profile.Override, s.Clock.Now())
}

func (s *ZoneEvaluationService) ClearOverride(zoneId string) bool {
	return s.Overrides.Clear(zoneId)
}

func (s *ZoneEvaluationService) ActiveOverride(zoneId string) *domain.ManagerOverride {
	return s.Overrides.Active(zoneId, s.Clock.Now())
}

// ExpireOverrides removes every override past its reset time.
func (s *ZoneEvaluationService) ExpireOverrides() []string {
	return s.Overrides.Expire(s.Clock.Now())
}

// ZoneIds lists every zone the batch evaluates, open ones included.
func (s *ZoneEvaluationService) ZoneIds() []string {
	zones := s.Site.Zones()
	ids := make([]string, 0, len(zones))
	for _, z := range zones {
		ids = append(ids, z.Id)
	}
	return ids
}
