package application

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/state"
)

// ApplyResult summarizes an apply action.
type ApplyResult struct {
	ReportID        string            `json:"report_id"`
	SnapshotVersion int               `json:"snapshot_version"`
	Committed       []layers.Proposal `json:"committed,omitempty"`
	Skipped         []string          `json:"skipped,omitempty"`
}

// Apply commits accepted proposals from a recorded report. An empty
// reportID means the latest report; an empty knob filter commits every
// accepted proposal in it. This is the only path that changes live
// knob values.
func (a *App) Apply(ctx context.Context, reportID string, knobIDs []string) (ApplyResult, error) {
	rep, found, err := a.reports.Latest()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("read reports: %w", err)
	}
	if reportID != "" {
		all, err := a.reports.List()
		if err != nil {
			return ApplyResult{}, fmt.Errorf("read reports: %w", err)
		}
		found = false
		for _, r := range all {
			if r.ID == reportID {
				rep, found = r, true
				break
			}
		}
	}
	if !found {
		return ApplyResult{}, fmt.Errorf("no report to apply (id %q)", reportID)
	}

	wanted := make(map[string]bool, len(knobIDs))
	for _, id := range knobIDs {
		wanted[id] = true
	}

	snap, err := a.store.Load(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return ApplyResult{}, err
	}

	result := ApplyResult{ReportID: rep.ID}
	for _, p := range rep.Accepted() {
		if len(wanted) > 0 && !wanted[p.KnobID] {
			continue
		}
		if err := reg.Commit(p.KnobID, p.NewValue); err != nil {
			// The knob moved or locked since the report was written.
			log.Warn().Str("knob", p.KnobID).Err(err).Msg("recorded proposal no longer committable")
			result.Skipped = append(result.Skipped, p.KnobID)
			continue
		}
		result.Committed = append(result.Committed, p)
	}

	if len(result.Committed) == 0 {
		return result, fmt.Errorf("report %s: nothing committed", rep.ID)
	}

	next, err := a.saveWith(ctx, snap, reg.Values(), reg.GoLive())
	if err != nil {
		return ApplyResult{}, err
	}
	result.SnapshotVersion = next.Version

	log.Info().Str("report_id", rep.ID).Int("version", next.Version).
		Int("committed", len(result.Committed)).Int("skipped", len(result.Skipped)).
		Msg("proposals applied")
	return result, nil
}

// SetGoLive flips the L4 enablement flag and persists it. Until this
// runs, every L4 knob stays pinned to its no-op value.
func (a *App) SetGoLive(ctx context.Context, live bool) (int, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return 0, err
	}
	reg.SetGoLive(live)

	next, err := a.saveWith(ctx, snap, reg.Values(), live)
	if err != nil {
		return 0, err
	}
	log.Info().Bool("live", live).Int("version", next.Version).Msg("execution adaptation flag changed")
	return next.Version, nil
}

// Decay scales every feature penalty toward zero by the configured
// factor. It is the explicit slow-trust-rebuild maintenance action;
// no pass runs it automatically.
func (a *App) Decay(ctx context.Context) (int, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return 0, err
	}
	lrn, err := buildLearner(a.cfg, reg, snap)
	if err != nil {
		return 0, err
	}

	lrn.Decay(a.cfg.Learner.DecayFactor)

	snap.FeaturePenalties = lrn.FeaturePenalties()
	next, err := a.saveWith(ctx, snap, reg.Values(), reg.GoLive())
	if err != nil {
		return 0, err
	}
	log.Info().Float64("factor", a.cfg.Learner.DecayFactor).Int("version", next.Version).
		Msg("feature penalties decayed")
	return next.Version, nil
}

// Knobs returns the live knob records and the go-live flag.
func (a *App) Knobs(ctx context.Context) ([]layers.Knob, bool, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return nil, false, err
	}
	return reg.Knobs(), reg.GoLive(), nil
}

// Snapshot returns the current persisted state for the state CLI.
func (a *App) Snapshot(ctx context.Context) (state.Snapshot, error) {
	return a.store.Load(ctx)
}

// saveWith persists snap as version+1 with updated knob state.
func (a *App) saveWith(ctx context.Context, snap state.Snapshot, knobs map[string]float64, goLive bool) (state.Snapshot, error) {
	next := snap
	next.Version = snap.Version + 1
	next.SavedAt = a.clock.Now().UTC()
	next.Knobs = knobs
	next.GoLive = goLive

	if err := a.store.Save(ctx, next); err != nil {
		return state.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	if a.metrics != nil {
		a.metrics.SnapshotVersion.Set(float64(next.Version))
	}
	return next, nil
}
