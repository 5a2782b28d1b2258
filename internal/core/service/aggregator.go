package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

const (
	SOURCE_ZONE_AVG   = "Zone Avg"
	SOURCE_THERMOSTAT = "Thermostat"
)

// SensorAggregator merges the readings of a zone's bound sensors into one value per device class.
type SensorAggregator struct {
	// readings older than this are still used, but the aggregate is flagged as not fresh
	FreshnessHorizon time.Duration
	WeightTolerance  float64
}

func (a *SensorAggregator) Aggregate(zone domain.Zone, class domain.DeviceClass, readings map[string]domain.SensorReading,
	thermostat *domain.ThermostatState, now time.Time) (domain.AggregateReading, []domain.ConfigIssue) {

	var issues []domain.ConfigIssue
	result := domain.AggregateReading{
		ZoneId: zone.Id,
		Class:  class,
	}

	bindings := zone.BindingsFor(class)
	if len(bindings) > 0 {
		declared := 0.0
		for _, b := range bindings {
			declared += b.Weight
		}
		if math.Abs(declared-1) > a.WeightTolerance {
			issues = append(issues, domain.ConfigIssue{
				Subject: zone.Id,
				Code:    domain.ISSUE_WEIGHTS_NOT_NORMALIZED,
				Detail:  fmt.Sprintf("%s weights sum to %.3f", class, declared),
			})
		}
	}

	sum, weightSum := 0.0, 0.0
	fresh := true
	for _, b := range bindings {
		if b.Weight <= 0 {
			continue
		}
		r, ok := readings[b.EntityId]
		if !ok || !r.HasValue() {
			continue
		}
		if r.Class != "" && r.Class != class {
			continue
		}
		sum += *r.Value * b.Weight
		weightSum += b.Weight
		result.Contributors++
		if r.Timestamp.After(result.Timestamp) {
			result.Timestamp = r.Timestamp
		}
		if a.stale(r.Timestamp, now) {
			fresh = false
		}
	}

	if weightSum > 0 {
		result.Value = sum / weightSum
		result.HasValue = true
		result.Source = SOURCE_ZONE_AVG
		result.Fresh = fresh
		return result, issues
	}

	// fall back to the thermostat built-in sensor
	result.Contributors = 0
	if value := thermostatValue(thermostat, class); value != nil {
		result.Value = *value
		result.HasValue = true
		result.Source = thermostat.Name
		if result.Source == "" {
			result.Source = SOURCE_THERMOSTAT
		}
		result.Timestamp = thermostat.LastSync
		result.Fresh = !a.stale(thermostat.LastSync, now)
	}
	return result, issues
}

func (a *SensorAggregator) stale(ts time.Time, now time.Time) bool {
	return a.FreshnessHorizon > 0 && now.Sub(ts) > a.FreshnessHorizon
}

func thermostatValue(thermostat *domain.ThermostatState, class domain.DeviceClass) *float64 {
	if thermostat == nil {
		return nil
	}
	var v *float64
	switch class {
	case domain.DEVICE_CLASS_TEMPERATURE:
		v = thermostat.Temperature
	case domain.DEVICE_CLASS_HUMIDITY:
		v = thermostat.Humidity
	}
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	return v
}
