package port

import (
	"context"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

type ZoneEvaluator interface {
	Evaluate(ctx context.Context, zoneId string) (domain.ZoneEvaluation, error)
}

// DirectiveSink hands directives to the command-push mechanism.
type DirectiveSink interface {
	Publish(ctx context.Context, directive domain.Directive) error
	Close() error
}
