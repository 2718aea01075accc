package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

// StageOutcome says which implementation produced Value and how it was chosen.
type StageOutcome[T any] struct {
	Value    T
	Mode     domain.CutoverMode
	Variant  domain.RunVariant
	FellBack bool
	Drift    []string
}

type StageFunc[T any] func(ctx context.Context) (T, error)

// DiffFunc summarizes structural differences between the legacy and new output.
type DiffFunc[T any] func(legacy, next T) []string

// RunStage applies the cutover protocol for one stage and entity:
// OLD runs legacy only; NEW_ONLY runs new only and surfaces its failure;
// PREFER_NEW falls back to legacy when new fails; SHADOW runs both and
// always returns the legacy value.
func RunStage[T any](
	ctx context.Context,
	gate ports.ModeResolver,
	metrics ports.Metrics,
	stage, entityID string,
	legacy, next StageFunc[T],
	diff DiffFunc[T],
) (StageOutcome[T], error) {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	mode := domain.ModeOld
	if gate != nil {
		mode = gate.GetMode(stage, entityID)
	}
	metrics.ObserveCutover(stage, mode)

	switch mode {
	case domain.ModeNewOnly:
		value, err := next(ctx)
		return StageOutcome[T]{Value: value, Mode: mode, Variant: domain.VariantNew}, err

	case domain.ModePreferNew:
		value, err := next(ctx)
		if err == nil {
			return StageOutcome[T]{Value: value, Mode: mode, Variant: domain.VariantNew}, nil
		}
		if ctx.Err() != nil || errors.Is(err, domain.ErrRunCancelled) {
			return StageOutcome[T]{Mode: mode, Variant: domain.VariantNew}, err
		}
		slog.Warn("cutover_prefer_new_fallback",
			"stage", stage,
			"entity_id", entityID,
			"error", err,
			"error_class", domain.ErrorClass(err),
		)
		value, err = legacy(ctx)
		return StageOutcome[T]{Value: value, Mode: mode, Variant: domain.VariantOld, FellBack: true}, err

	case domain.ModeShadow:
		return runShadow(ctx, metrics, stage, entityID, legacy, next, diff)

	default:
		value, err := legacy(ctx)
		return StageOutcome[T]{Value: value, Mode: domain.ModeOld, Variant: domain.VariantOld}, err
	}
}

func runShadow[T any](
	ctx context.Context,
	metrics ports.Metrics,
	stage, entityID string,
	legacy, next StageFunc[T],
	diff DiffFunc[T],
) (StageOutcome[T], error) {
	var (
		wg      sync.WaitGroup
		nextVal T
		nextErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		nextVal, nextErr = next(ctx)
	}()
	legacyVal, legacyErr := legacy(ctx)
	wg.Wait()

	outcome := StageOutcome[T]{Value: legacyVal, Mode: domain.ModeShadow, Variant: domain.VariantOld}
	switch {
	case nextErr != nil:
		slog.Warn("cutover_shadow_new_failed",
			"stage", stage,
			"entity_id", entityID,
			"error", nextErr,
			"error_class", domain.ErrorClass(nextErr),
		)
	case legacyErr != nil:
		slog.Warn("cutover_shadow_legacy_failed", "stage", stage, "entity_id", entityID, "error", legacyErr)
	case diff != nil:
		outcome.Drift = diff(legacyVal, nextVal)
		metrics.ObserveShadow(stage, len(outcome.Drift) > 0)
		if len(outcome.Drift) > 0 {
			slog.Info("cutover_shadow_drift",
				"stage", stage,
				"entity_id", entityID,
				"differences", len(outcome.Drift),
				"summary", summarizeDrift(outcome.Drift, 10),
			)
		} else {
			slog.Debug("cutover_shadow_match", "stage", stage, "entity_id", entityID)
		}
	}
	return outcome, legacyErr
}
