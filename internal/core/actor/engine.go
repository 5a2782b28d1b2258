package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/events"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
	"github.com/berfenger/setpoint2mqtt/internal/core/service"
	"github.com/berfenger/setpoint2mqtt/internal/metrics"
	. "github.com/berfenger/setpoint2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	DIRECTIVE_SINK_TIMEOUT = 5 * time.Second
)

// EngineActor owns the evaluation cycle. Batches run in the background and their
// results come back as messages, so zone state is only touched from the actor.
type EngineActor struct {
	behavior   actor.Behavior
	stash      *Stash
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc

	config      *config.Config
	evaluator   *service.ZoneEvaluationService
	runner      *service.BatchRunner
	sink        port.DirectiveSink
	rampActor   *actor.PID
	eventStream *eventstream.EventStream
	latest      map[string]domain.ZoneEvaluation

	logger *zap.Logger
}

type engineTick struct {
}

type batchCompleted struct {
	Result  domain.BatchResult
	ReplyTo *actor.PID
}

type zoneEvaluated struct {
	ZoneId     string
	Evaluation domain.ZoneEvaluation
	Err        error
	ReplyTo    *actor.PID
}

type directivePublished struct {
	ZoneId string
	Err    error
}

func NewEngineActor(config *config.Config, evaluator *service.ZoneEvaluationService, runner *service.BatchRunner,
	sink port.DirectiveSink, rampActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *EngineActor {
	act := &EngineActor{
		config:      config,
		evaluator:   evaluator,
		runner:      runner,
		sink:        sink,
		rampActor:   rampActor,
		eventStream: eventStream,
		latest:      make(map[string]domain.ZoneEvaluation),
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_ENGINE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *EngineActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *EngineActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("engine@starting started")

		interval := state.config.Engine.Interval()
		if interval > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.cancelTick = state.scheduler.RequestRepeatedly(interval, interval, ctx.Self(), engineTick{})
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("engine@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EngineActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("engine@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ENGINE,
			Healthy: true,
			State:   "idle",
		})
	case engineTick:
		state.logger.Debug("engine@default tick")
		state.startBatch(ctx, nil)
	case domain.EvaluateAllRequest:
		state.logger.Debug("engine@default EvaluateAllRequest")
		state.startBatch(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.EvaluateZoneRequest:
		state.logger.Debug("engine@default EvaluateZoneRequest", zap.String("zone", msg.ZoneId))
		state.evaluateZone(ctx, msg.ZoneId, ForRequest(msg).ReplyTo(ctx))
	case domain.SetManagerOverrideRequest:
		state.logger.Debug("engine@default SetManagerOverrideRequest", zap.String("zone", msg.ZoneId), zap.Float64("offset", msg.Offset))
		override, err := state.evaluator.SetOverride(msg.ZoneId, msg.Offset)
		resp := domain.SetManagerOverrideResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		if err == nil {
			resp.Override = &override
			state.publish(events.OverrideToUpdateEvents(msg.ZoneId, &override))
			state.evaluateZone(ctx, msg.ZoneId, nil)
		} else {
			state.logger.Warn("engine@default override rejected", zap.String("zone", msg.ZoneId), zap.Error(err))
		}
		ForRequest(msg).Respond(ctx, resp)
	case domain.ClearManagerOverrideRequest:
		state.logger.Debug("engine@default ClearManagerOverrideRequest", zap.String("zone", msg.ZoneId))
		resp := domain.ClearManagerOverrideResponse{}
		if _, err := state.evaluator.Site.Zone(msg.ZoneId); err != nil {
			resp.ResponseError = err
		} else {
			resp.Cleared = state.evaluator.ClearOverride(msg.ZoneId)
			state.publish(events.OverrideToUpdateEvents(msg.ZoneId, nil))
			state.evaluateZone(ctx, msg.ZoneId, nil)
		}
		ForRequest(msg).Respond(ctx, resp)
	case domain.GetZoneStatusRequest:
		state.respondZoneStatus(ctx, msg)
	case zoneEvaluated:
		state.handleZoneEvaluated(ctx, msg)
	case directivePublished:
		state.handleDirectivePublished(msg)
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("engine@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// EvaluatingReceive is stacked while a batch runs. Overlapping ticks are dropped.
func (state *EngineActor) EvaluatingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("engine@evaluating ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ENGINE,
			Healthy: true,
			State:   "evaluating",
		})
	case engineTick:
		state.logger.Warn("engine@evaluating tick skipped, previous batch still running")
	case batchCompleted:
		state.handleBatch(ctx, msg)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.GetZoneStatusRequest:
		state.respondZoneStatus(ctx, msg)
	case zoneEvaluated:
		state.handleZoneEvaluated(ctx, msg)
	case directivePublished:
		state.handleDirectivePublished(msg)
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("engine@evaluating stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EngineActor) startBatch(ctx actor.Context, replyTo *actor.PID) {
	for _, zoneId := range state.evaluator.ExpireOverrides() {
		state.logger.Info("engine@default manager override expired", zap.String("zone", zoneId))
		state.publish(events.OverrideToUpdateEvents(zoneId, nil))
	}

	zoneIds := state.evaluator.ZoneIds()
	runner := state.runner
	timeout := state.batchTimeout()
	started := time.Now()

	NewBackgroundTaskNoError(ctx, func() *batchCompleted {
		bctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return &batchCompleted{
			Result:  runner.Run(bctx, zoneIds),
			ReplyTo: replyTo,
		}
	}).WithTimeout(timeout).Recover(func(err error) batchCompleted {
		failures := make([]domain.ZoneFailure, 0, len(zoneIds))
		for _, id := range zoneIds {
			failures = append(failures, domain.ZoneFailure{ZoneId: id, Err: err})
		}
		return batchCompleted{
			Result:  domain.BatchResult{Failures: failures, StartedAt: started, Duration: time.Since(started)},
			ReplyTo: replyTo,
		}
	}).PipeTo(ctx.Self())

	state.behavior.BecomeStacked(state.EvaluatingReceive)
}

func (state *EngineActor) evaluateZone(ctx actor.Context, zoneId string, replyTo *actor.PID) {
	evaluator := state.evaluator
	timeout := state.config.Engine.ZoneTimeout()
	NewBackgroundTask(ctx, func() (*zoneEvaluated, error) {
		zctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ev, err := evaluator.Evaluate(zctx, zoneId)
		return &zoneEvaluated{ZoneId: zoneId, Evaluation: ev, Err: err, ReplyTo: replyTo}, nil
	}).WithTimeout(timeout).Recover(func(err error) zoneEvaluated {
		return zoneEvaluated{ZoneId: zoneId, Err: err, ReplyTo: replyTo}
	}).PipeTo(ctx.Self())
}

func (state *EngineActor) handleBatch(ctx actor.Context, msg batchCompleted) {
	result := msg.Result
	metrics.ObserveBatch(result)
	state.logger.Info("engine@evaluating batch completed",
		zap.Int("evaluated", len(result.Evaluations)),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("duration", result.Duration))

	for _, f := range result.Failures {
		state.logger.Warn("engine@evaluating zone failed", zap.String("zone", f.ZoneId), zap.Error(f.Err))
	}
	for _, ev := range result.Evaluations {
		state.applyEvaluation(ctx, ev)
	}
	if msg.ReplyTo != nil {
		ctx.Send(msg.ReplyTo, domain.EvaluateAllResponse{
			Evaluated: len(result.Evaluations),
			Failed:    len(result.Failures),
		})
	}
}

func (state *EngineActor) handleZoneEvaluated(ctx actor.Context, msg zoneEvaluated) {
	if msg.Err != nil {
		state.logger.Warn("engine@default zone evaluation failed", zap.String("zone", msg.ZoneId), zap.Error(msg.Err))
		metrics.ZoneEvaluations.WithLabelValues("failed").Inc()
	} else {
		metrics.ObserveEvaluation(msg.Evaluation)
		state.applyEvaluation(ctx, msg.Evaluation)
	}
	if msg.ReplyTo != nil {
		resp := domain.EvaluateZoneResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.Err}}
		if msg.Err == nil {
			ev := msg.Evaluation
			resp.Evaluation = &ev
		}
		ctx.Send(msg.ReplyTo, resp)
	}
}

// applyEvaluation stores the snapshot and fans it out: state events, the directive
// and any completed ramp samples.
func (state *EngineActor) applyEvaluation(ctx actor.Context, ev domain.ZoneEvaluation) {
	state.latest[ev.ZoneId] = ev

	state.publish(events.ZoneEvaluationToUpdateEvents(&ev))
	if ev.EquipmentId != "" {
		state.publish(events.AnomalyFlagsToUpdateEvents(ev.EquipmentId, ev.Anomalies))
		metrics.ObserveAnomalies(ev.EquipmentId, ev.Anomalies)
	}
	state.eventStream.Publish(domain.ZoneEvaluatedEvent{Evaluation: ev})

	if ev.Directive != nil && !ev.Suppressed {
		state.eventStream.Publish(domain.DirectiveIssuedEvent{Directive: *ev.Directive})
		state.pushDirective(ctx, *ev.Directive)
	} else if ev.Suppressed {
		state.logger.Debug("engine@default directive suppressed", zap.String("zone", ev.ZoneId), zap.String("freshness", string(ev.Freshness)))
	}

	if len(ev.RampSamples) > 0 && state.rampActor != nil {
		ctx.Send(state.rampActor, domain.RecordRampSamplesRequest{Samples: ev.RampSamples})
	}
}

func (state *EngineActor) pushDirective(ctx actor.Context, directive domain.Directive) {
	if state.sink == nil {
		return
	}
	sink := state.sink
	NewBackgroundTaskNoError(ctx, func() *directivePublished {
		sctx, cancel := context.WithTimeout(context.Background(), DIRECTIVE_SINK_TIMEOUT)
		defer cancel()
		return &directivePublished{ZoneId: directive.ZoneId, Err: sink.Publish(sctx, directive)}
	}).WithTimeout(DIRECTIVE_SINK_TIMEOUT).Recover(func(err error) directivePublished {
		return directivePublished{ZoneId: directive.ZoneId, Err: err}
	}).PipeTo(ctx.Self())
}

func (state *EngineActor) handleDirectivePublished(msg directivePublished) {
	if msg.Err != nil {
		state.logger.Error("engine@default directive push failed", zap.String("zone", msg.ZoneId), zap.Error(msg.Err))
	}
}

func (state *EngineActor) respondZoneStatus(ctx actor.Context, msg domain.GetZoneStatusRequest) {
	resp := domain.GetZoneStatusResponse{}
	if _, err := state.evaluator.Site.Zone(msg.ZoneId); err != nil {
		resp.ResponseError = err
	} else {
		if ev, ok := state.latest[msg.ZoneId]; ok {
			resp.Evaluation = &ev
		}
		resp.Override = state.evaluator.ActiveOverride(msg.ZoneId)
	}
	ForRequest(msg).Respond(ctx, resp)
}

func (state *EngineActor) publish(evs []any) {
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}

func (state *EngineActor) batchTimeout() time.Duration {
	timeout := state.config.Engine.Interval()
	if timeout <= 0 {
		timeout = time.Minute
	}
	return timeout
}

func (state *EngineActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}
