package service

import (
	"math"

	"github.com/berfenger/setpoint2mqtt/internal/config"
)

// HeatIndex evaluates the Rothfusz regression with configurable coefficients.
type HeatIndex struct {
	Coefficients   []float64
	MinTemperature float64
	MinHumidity    float64
}

func NewHeatIndex(cfg config.FeelsLikeConfig) HeatIndex {
	coefficients := cfg.Coefficients
	if len(coefficients) != 9 {
		coefficients = config.DefaultHeatIndexCoefficients()
	}
	return HeatIndex{
		Coefficients:   coefficients,
		MinTemperature: cfg.MinTemperature,
		MinHumidity:    cfg.MinHumidity,
	}
}

func (h HeatIndex) Value(t, rh float64) float64 {
	c := h.Coefficients
	return c[0] +
		c[1]*t +
		c[2]*rh +
		c[3]*t*rh +
		c[4]*t*t +
		c[5]*rh*rh +
		c[6]*t*t*rh +
		c[7]*t*rh*rh +
		c[8]*t*t*rh*rh
}

// FeelsLikeOffset is how much the cool setpoint should drop, never more than max.
// Below the temperature or humidity thresholds it is exactly zero.
func (h HeatIndex) FeelsLikeOffset(t, rh, max float64) float64 {
	if t < h.MinTemperature || rh < h.MinHumidity {
		return 0
	}
	offset := h.Value(t, rh) - t
	if offset <= 0 {
		return 0
	}
	return math.Min(offset, math.Max(0, max))
}
