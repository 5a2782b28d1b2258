package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// BatchRunner evaluates zones in parallel. A failing, panicking or slow zone only
// affects its own result.
type BatchRunner struct {
	Evaluator   port.ZoneEvaluator
	Parallelism int
	ZoneTimeout time.Duration
	Logger      *zap.Logger
}

type zoneOutcome struct {
	evaluation domain.ZoneEvaluation
	err        error
}

func (b *BatchRunner) Run(ctx context.Context, zoneIds []string) domain.BatchResult {
	started := time.Now()
	parallelism := b.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	outcomes := make([]zoneOutcome, len(zoneIds))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, zoneId := range zoneIds {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, zoneId string) {
			defer wg.Done()
			defer func() { <-sem }()
			ev, err := b.evaluateOne(ctx, zoneId)
			outcomes[i] = zoneOutcome{evaluation: ev, err: err}
		}(i, zoneId)
	}
	wg.Wait()

	result := domain.BatchResult{StartedAt: started}
	for i, o := range outcomes {
		if o.err != nil {
			b.Logger.Warn("zone evaluation failed", zap.String("zone", zoneIds[i]), zap.Error(o.err))
			result.Failures = append(result.Failures, domain.ZoneFailure{ZoneId: zoneIds[i], Err: o.err})
			continue
		}
		result.Evaluations = append(result.Evaluations, o.evaluation)
	}
	sort.Slice(result.Evaluations, func(i, j int) bool {
		return result.Evaluations[i].ZoneId < result.Evaluations[j].ZoneId
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].ZoneId < result.Failures[j].ZoneId
	})
	result.Duration = time.Since(started)
	return result
}

func (b *BatchRunner) evaluateOne(ctx context.Context, zoneId string) (domain.ZoneEvaluation, error) {
	if b.ZoneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.ZoneTimeout)
		defer cancel()
	}

	done := make(chan zoneOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- zoneOutcome{err: fmt.Errorf("zone %s panicked: %v", zoneId, r)}
			}
		}()
		ev, err := b.Evaluator.Evaluate(ctx, zoneId)
		done <- zoneOutcome{evaluation: ev, err: err}
	}()

	select {
	case o := <-done:
		return o.evaluation, o.err
	case <-ctx.Done():
		return domain.ZoneEvaluation{}, fmt.Errorf("zone %s: %w", zoneId, ctx.Err())
	}
}
