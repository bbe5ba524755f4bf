package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/reeval"
)

// Reevaluate runs one reevaluation pass against the current snapshot's
// knob values. The pass proposes only; nothing here writes the store.
func (a *App) Reevaluate(ctx context.Context) (reeval.Report, error) {
	rep, err := a.reevaluate(ctx)
	if a.metrics != nil {
		a.metrics.RecordPass("reevaluate", err)
	}
	return rep, err
}

func (a *App) reevaluate(ctx context.Context) (reeval.Report, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return reeval.Report{}, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return reeval.Report{}, err
	}

	engine := reeval.NewEngine(
		a.cfg.EngineConfig(),
		a.clock,
		a.reader,
		reg,
		a.cfg.Regime,
		reeval.NewPolicy(a.cfg.Policy),
		a.reports,
	)

	rep, err := engine.RunOnce(ctx, snap.Version)
	if err != nil {
		return reeval.Report{}, err
	}

	if a.metrics != nil {
		a.metrics.SetRegime(rep.Regime)
		a.metrics.SnapshotVersion.Set(float64(snap.Version))
		if rep.Window.SkippedRecords > 0 {
			a.metrics.TelemetrySkipped.Add(float64(rep.Window.SkippedRecords))
		}
		for _, p := range rep.Proposals {
			a.metrics.RecordProposal(p.Accepted, string(p.Reason))
		}
	}
	return rep, nil
}

// ReevaluateLoop runs reevaluation passes on the configured cadence
// until the context ends. The first pass runs immediately.
func (a *App) ReevaluateLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Reevaluation.Cadence.Std())
	defer ticker.Stop()

	for {
		if _, err := a.Reevaluate(ctx); err != nil {
			log.Error().Err(err).Msg("reevaluation pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResolveLoop runs resolve passes on the configured cadence until the
// context ends.
func (a *App) ResolveLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Reevaluation.Cadence.Std())
	defer ticker.Stop()

	for {
		if _, err := a.Resolve(ctx); err != nil {
			log.Error().Err(err).Msg("resolve pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
