package service

import (
	"math"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

type SmartStartPredictor struct {
	Config config.SmartStartConfig
}

type SmartStartInput struct {
	ZoneId            string
	Profile           domain.Profile
	IndoorTemperature *float64
	Humidity          *float64
	Historical        map[domain.HVACMode]domain.RampRateStat
	CurrentTrend      *float64
	LastMotion        *time.Time
	OpenAt            time.Time
	Now               time.Time
}

// Estimate computes how long before opening the zone must start conditioning.
func (p *SmartStartPredictor) Estimate(in SmartStartInput) domain.SmartStartEstimate {
	cfg := p.Config
	buffer := clampFloat(cfg.TargetBuffer, 0, 1)
	occupied := in.Profile.Occupied

	est := domain.SmartStartEstimate{
		ZoneId:     in.ZoneId,
		OpenAt:     in.OpenAt,
		ComputedAt: in.Now,
	}

	if in.IndoorTemperature == nil {
		// no indoor reading, be conservative
		est.TargetMode = domain.HVAC_MODE_HEAT
		est.TargetTemperature = occupied.Heat + buffer
		if occupied.Mode == domain.HVAC_MODE_COOL {
			est.TargetMode = domain.HVAC_MODE_COOL
			est.TargetTemperature = occupied.Cool - buffer
		}
		est.RampRate = cfg.DefaultRate
		est.RateSource = domain.RATE_SOURCE_DEFAULT
		est.BaseLeadMinutes = cfg.MaxLeadMinutes
		est.FinalLeadMinutes = cfg.MaxLeadMinutes
		est.Confidence = domain.CONFIDENCE_LOW
		est.StartAt = in.OpenAt.Add(-minutes(est.FinalLeadMinutes))
		p.applyOccupancyOverride(&est, in)
		return est
	}

	indoor := *in.IndoorTemperature
	switch {
	case indoor < occupied.Heat:
		est.TargetMode = domain.HVAC_MODE_HEAT
		est.TargetTemperature = occupied.Heat + buffer
	case indoor > occupied.Cool:
		est.TargetMode = domain.HVAC_MODE_COOL
		est.TargetTemperature = occupied.Cool - buffer
	default:
		est.TargetMode = domain.HVAC_MODE_OFF
		est.TargetTemperature = indoor
	}
	est.DeltaNeeded = math.Abs(est.TargetTemperature - indoor)

	est.RampRate, est.RateSource = p.selectRate(est.TargetMode, in)

	est.BaseLeadMinutes = p.clampLead(int(math.Round(est.DeltaNeeded / est.RampRate)))

	if in.Humidity != nil {
		base := float64(est.BaseLeadMinutes)
		var adj float64
		switch {
		case *in.Humidity > cfg.HumidityHigh:
			adj = base * cfg.HighMultiplier
		case *in.Humidity < cfg.HumidityLow:
			adj = -base * cfg.LowMultiplier
		}
		limit := math.Max(0, in.Profile.SmartStart.Max)
		est.HumidityAdjustment = clampFloat(adj, -limit, limit)
	}
	est.FinalLeadMinutes = p.clampLead(int(math.Round(float64(est.BaseLeadMinutes) + est.HumidityAdjustment)))
	est.StartAt = in.OpenAt.Add(-minutes(est.FinalLeadMinutes))

	// a historical rate without humidity is missing an input and grades low
	switch {
	case est.RateSource == domain.RATE_SOURCE_HISTORICAL && in.Humidity != nil:
		est.Confidence = domain.CONFIDENCE_HIGH
	case est.RateSource == domain.RATE_SOURCE_CURRENT:
		est.Confidence = domain.CONFIDENCE_MEDIUM
	default:
		est.Confidence = domain.CONFIDENCE_LOW
	}

	p.applyOccupancyOverride(&est, in)
	return est
}

func (p *SmartStartPredictor) selectRate(mode domain.HVACMode, in SmartStartInput) (float64, domain.RateSource) {
	if mode == domain.HVAC_MODE_HEAT || mode == domain.HVAC_MODE_COOL {
		if stat, ok := in.Historical[mode]; ok && stat.Samples >= p.Config.MinHistorySamples && stat.RatePerMinute > 0 {
			return stat.RatePerMinute, domain.RATE_SOURCE_HISTORICAL
		}
		if in.CurrentTrend != nil {
			trend := *in.CurrentTrend
			if mode == domain.HVAC_MODE_COOL {
				trend = -trend
			}
			if trend > 0 {
				return trend, domain.RATE_SOURCE_CURRENT
			}
		}
	}
	return p.Config.DefaultRate, domain.RATE_SOURCE_DEFAULT
}

func (p *SmartStartPredictor) applyOccupancyOverride(est *domain.SmartStartEstimate, in SmartStartInput) {
	if in.LastMotion == nil || !in.Now.Before(est.StartAt) {
		return
	}
	if in.Now.Sub(*in.LastMotion) <= minutes(p.Config.OccupancyLookbackMinutes) {
		est.OccupancyOverride = true
		est.StartAt = in.Now
	}
}

func (p *SmartStartPredictor) clampLead(lead int) int {
	if lead < p.Config.MinLeadMinutes {
		return p.Config.MinLeadMinutes
	}
	if lead > p.Config.MaxLeadMinutes {
		return p.Config.MaxLeadMinutes
	}
	return lead
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
