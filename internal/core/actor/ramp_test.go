package actor

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/adapter/store"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/service"
	"github.com/berfenger/setpoint2mqtt/internal/util"
	"github.com/berfenger/setpoint2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRampRateActor(t *testing.T) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	history := store.NewMemoryRampHistory([]domain.RampRateStat{
		{ZoneId: "sales_floor", Mode: domain.HVAC_MODE_HEAT, RatePerMinute: 0.2, Samples: 5},
	})
	cache := store.NewMemoryRampRateCache()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewRampRateActor(&cfg, history, cache, service.SystemClock{}, logger)
	})
	pid := as.Root.Spawn(props)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)

	now := time.Now()
	res, err = as.Root.RequestFuture(pid, domain.RecordRampSamplesRequest{Samples: []domain.RampSample{
		{ZoneId: "sales_floor", Mode: domain.HVAC_MODE_COOL, RatePerMinute: 0.1, RecordedAt: now},
		{ZoneId: "sales_floor", Mode: domain.HVAC_MODE_COOL, RatePerMinute: 0.3, RecordedAt: now},
	}}, 2*time.Second).Result()
	require.NoError(t, err)
	recorded := res.(domain.RecordRampSamplesResponse)
	require.NoError(t, recorded.GetResponseError())
	assert.Equal(t, 2, recorded.Recorded)

	res, err = as.Root.RequestFuture(pid, domain.RefreshRampRatesRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	refreshed := res.(domain.RefreshRampRatesResponse)
	require.NoError(t, refreshed.GetResponseError())
	assert.Equal(t, 2, refreshed.Updated)

	stat, err := cache.Get(context.Background(), "sales_floor", domain.HVAC_MODE_COOL)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, stat.RatePerMinute, 1e-9)
	assert.Equal(t, 2, stat.Samples)

	stat, err = cache.Get(context.Background(), "sales_floor", domain.HVAC_MODE_HEAT)
	require.NoError(t, err)
	assert.Equal(t, 5, stat.Samples)
}

func TestRampCacheTTL(t *testing.T) {
	cfg := util.LoadTestConfig()
	act := NewRampRateActor(&cfg, nil, nil, service.SystemClock{}, zap.NewNop())
	assert.Equal(t, 2*time.Hour, act.cacheTTL())

	cfg.Redis.TTLMinutes = 30
	assert.Equal(t, 30*time.Minute, act.cacheTTL())

	cfg.SmartStart.HistoryDays = 0
	assert.Equal(t, 30, act.historyDays())
}
