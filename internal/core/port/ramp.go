package port

import (
	"context"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

// RampHistoryRepository stores observed pre-conditioning ramp rates.
type RampHistoryRepository interface {
	AverageRampRates(ctx context.Context, since time.Time) ([]domain.RampRateStat, error)
	RecordRampSample(ctx context.Context, sample domain.RampSample) error
}

// RampRateCache holds the aggregated ramp rate per zone and mode.
// Get returns domain.ErrCacheMiss when nothing is cached.
type RampRateCache interface {
	Get(ctx context.Context, zoneId string, mode domain.HVACMode) (domain.RampRateStat, error)
	Set(ctx context.Context, stat domain.RampRateStat, ttl time.Duration) error
}
