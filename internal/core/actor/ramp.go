package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
	. "github.com/berfenger/setpoint2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	RAMP_REFRESH_TIMEOUT = 30 * time.Second
	RAMP_RECORD_TIMEOUT  = 5 * time.Second
)

// RampRateActor keeps the ramp rate cache fed from the historical store and
// records the samples observed by the engine.
type RampRateActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config  *config.Config
	history port.RampHistoryRepository
	cache   port.RampRateCache
	clock   port.Clock

	lastRefresh time.Time
	lastErr     error

	logger *zap.Logger
}

type rampRefreshTick struct {
}

type rampRefreshed struct {
	Updated int
	Err     error
	ReplyTo *actor.PID
}

type rampRecorded struct {
	Recorded int
	Err      error
	ReplyTo  *actor.PID
}

func NewRampRateActor(config *config.Config, history port.RampHistoryRepository, cache port.RampRateCache, clock port.Clock, logger *zap.Logger) *RampRateActor {
	act := &RampRateActor{
		config:   config,
		history:  history,
		cache:    cache,
		clock:    clock,
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		logger:   ActorLogger(domain.ACTOR_ID_RAMP_RATE, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *RampRateActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *RampRateActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("ramprate@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		// warm the cache right away
		ctx.Send(ctx.Self(), rampRefreshTick{})
	case domain.ActorHealthRequest:
		state.logger.Debug("ramprate@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_RAMP_RATE,
			Healthy: state.lastErr == nil,
			State:   "idle",
		})
	case rampRefreshTick:
		state.logger.Debug("ramprate@default tick")
		state.startRefresh(ctx, nil)
		if interval := state.refreshInterval(); interval > 0 {
			state.scheduler.RequestOnce(interval, ctx.Self(), rampRefreshTick{})
		}
	case domain.RefreshRampRatesRequest:
		state.logger.Debug("ramprate@default RefreshRampRatesRequest")
		state.startRefresh(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.RecordRampSamplesRequest:
		state.recordSamples(ctx, msg)
	case rampRecorded:
		state.handleRecorded(ctx, msg)
	default:
		state.logger.Debug("ramprate@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// RefreshingReceive is stacked while the history is being aggregated.
func (state *RampRateActor) RefreshingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("ramprate@refreshing ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_RAMP_RATE,
			Healthy: state.lastErr == nil,
			State:   "refreshing",
		})
	case rampRefreshTick:
		state.logger.Debug("ramprate@refreshing tick skipped")
		if interval := state.refreshInterval(); interval > 0 {
			state.scheduler.RequestOnce(interval, ctx.Self(), rampRefreshTick{})
		}
	case rampRefreshed:
		state.lastErr = msg.Err
		if msg.Err != nil {
			state.logger.Error("ramprate@refreshing refresh failed", zap.Error(msg.Err))
		} else {
			state.lastRefresh = state.clock.Now()
			state.logger.Info("ramprate@refreshing ramp rates refreshed", zap.Int("updated", msg.Updated))
		}
		RespondTo(ctx, msg.ReplyTo, domain.RefreshRampRatesResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.Err},
			Updated:            msg.Updated,
		})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.RecordRampSamplesRequest:
		state.recordSamples(ctx, msg)
	case rampRecorded:
		state.handleRecorded(ctx, msg)
	default:
		state.logger.Debug("ramprate@refreshing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *RampRateActor) startRefresh(ctx actor.Context, replyTo *actor.PID) {
	history := state.history
	cache := state.cache
	since := state.clock.Now().AddDate(0, 0, -state.historyDays())
	ttl := state.cacheTTL()

	NewBackgroundTaskNoError(ctx, func() *rampRefreshed {
		rctx, cancel := context.WithTimeout(context.Background(), RAMP_REFRESH_TIMEOUT)
		defer cancel()
		updated, err := refreshRampRates(rctx, history, cache, since, ttl)
		return &rampRefreshed{Updated: updated, Err: err, ReplyTo: replyTo}
	}).WithTimeout(RAMP_REFRESH_TIMEOUT).Recover(func(err error) rampRefreshed {
		return rampRefreshed{Err: err, ReplyTo: replyTo}
	}).PipeTo(ctx.Self())

	state.behavior.BecomeStacked(state.RefreshingReceive)
}

func (state *RampRateActor) recordSamples(ctx actor.Context, msg domain.RecordRampSamplesRequest) {
	state.logger.Debug("ramprate@default RecordRampSamplesRequest", zap.Int("samples", len(msg.Samples)))
	history := state.history
	samples := msg.Samples
	replyTo := ForRequest(msg).ReplyTo(ctx)

	NewBackgroundTaskNoError(ctx, func() *rampRecorded {
		rctx, cancel := context.WithTimeout(context.Background(), RAMP_RECORD_TIMEOUT)
		defer cancel()
		recorded := 0
		var errs []error
		for _, sample := range samples {
			if err := history.RecordRampSample(rctx, sample); err != nil {
				errs = append(errs, fmt.Errorf("zone %s: %w", sample.ZoneId, err))
				continue
			}
			recorded++
		}
		return &rampRecorded{Recorded: recorded, Err: errors.Join(errs...), ReplyTo: replyTo}
	}).WithTimeout(RAMP_RECORD_TIMEOUT).Recover(func(err error) rampRecorded {
		return rampRecorded{Err: err, ReplyTo: replyTo}
	}).PipeTo(ctx.Self())
}

func (state *RampRateActor) handleRecorded(ctx actor.Context, msg rampRecorded) {
	if msg.Err != nil {
		state.logger.Warn("ramprate@default could not record ramp samples", zap.Error(msg.Err))
	}
	RespondTo(ctx, msg.ReplyTo, domain.RecordRampSamplesResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.Err},
		Recorded:           msg.Recorded,
	})
}

func refreshRampRates(ctx context.Context, history port.RampHistoryRepository, cache port.RampRateCache, since time.Time, ttl time.Duration) (int, error) {
	stats, err := history.AverageRampRates(ctx, since)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, stat := range stats {
		if err := cache.Set(ctx, stat, ttl); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (state *RampRateActor) refreshInterval() time.Duration {
	return time.Duration(state.config.SmartStart.RefreshIntervalMinutes) * time.Minute
}

func (state *RampRateActor) historyDays() int {
	if state.config.SmartStart.HistoryDays <= 0 {
		return 30
	}
	return state.config.SmartStart.HistoryDays
}

// cacheTTL outlives two refresh periods unless configured explicitly.
func (state *RampRateActor) cacheTTL() time.Duration {
	if state.config.Redis.TTLMinutes > 0 {
		return time.Duration(state.config.Redis.TTLMinutes) * time.Minute
	}
	if interval := state.refreshInterval(); interval > 0 {
		return 2 * interval
	}
	return time.Hour
}
