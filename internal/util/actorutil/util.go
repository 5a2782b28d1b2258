package actorutil

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

var ErrUnknownCommand = errors.New("unknown command")

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a number command to an engine request.
// A zero manager override offset clears the override.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.EngineRequest, error) {
	suffix := domain.ENTITY_ID_SEPARATOR + domain.INPUT_NUMBER_FIELD_OVERRIDE
	if cmd.Command != mqtt.COMMAND_NUMBER || !strings.HasSuffix(cmd.DeviceId, suffix) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.DeviceId)
	}
	zoneId := strings.TrimSuffix(cmd.DeviceId, suffix)
	if zoneId == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.DeviceId)
	}
	value, err := strconv.ParseFloat(cmd.Payload, 64)
	if err != nil {
		return nil, err
	}
	if value == 0 {
		return domain.ClearManagerOverrideRequest{ZoneId: zoneId}, nil
	}
	return domain.SetManagerOverrideRequest{ZoneId: zoneId, Offset: value}, nil
}
