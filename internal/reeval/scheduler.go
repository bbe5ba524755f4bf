package reeval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/regime"
	"github.com/sawpanic/tradetune/internal/telemetry"
)

// Clock supplies the current time so passes are testable without
// waiting for wall-clock cadence.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Config drives the window shape and the sample gate. Cadence lives
// with the caller that owns the loop.
type Config struct {
	WindowDuration time.Duration `yaml:"window_duration" default:"168h" validate:"gt=0"`

	// Sample gate: a pass proposes nothing unless the window holds at
	// least MinResolvedCalls resolutions OR MinPlansGenerated plans.
	MinResolvedCalls  int `yaml:"min_resolved_calls" default:"6" validate:"gte=0"`
	MinPlansGenerated int `yaml:"min_plans_generated" default:"6" validate:"gte=0"`
}

// Engine executes reevaluation passes. It reads telemetry, classifies,
// and validates policy deltas through the registry; it never commits a
// value and never touches L0 or locked L4 knobs (the policy table has
// no entries for them).
type Engine struct {
	cfg        Config
	clock      Clock
	reader     *telemetry.Reader
	registry   *layers.Registry
	thresholds regime.Thresholds
	policy     Policy
	reports    *ReportLog
}

// NewEngine wires an engine. A nil clock means the system clock.
func NewEngine(cfg Config, clock Clock, reader *telemetry.Reader, registry *layers.Registry, th regime.Thresholds, policy Policy, reports *ReportLog) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		cfg:        cfg,
		clock:      clock,
		reader:     reader,
		registry:   registry,
		thresholds: th,
		policy:     policy,
		reports:    reports,
	}
}

// RunOnce executes a single pass. The window's upper bound is fixed at
// pass start; telemetry appended afterward waits for the next pass.
// Insufficient samples and rejected proposals are report outcomes; only
// telemetry read failures and report persistence failures are errors.
func (e *Engine) RunOnce(ctx context.Context, snapshotVersion int) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	asOf := e.clock.Now().UTC()
	from := asOf.Add(-e.cfg.WindowDuration)

	window, err := e.reader.BuildWindow(from, asOf)
	if err != nil {
		return Report{}, fmt.Errorf("build window: %w", err)
	}

	rep := Report{
		ID:              newReportID(),
		GeneratedAt:     asOf,
		Window:          window,
		SnapshotVersion: snapshotVersion,
	}

	rep.SampleSufficient = window.ResolvedCalls >= e.cfg.MinResolvedCalls ||
		window.PlansGenerated >= e.cfg.MinPlansGenerated

	// Gated passes still record their classification in the report.
	class := regime.Classify(window, e.thresholds)
	rep.Regime = class.Regime
	rep.LowConfidence = class.LowConfidence

	if rep.SampleSufficient {
		deltas := e.policy.Deltas(class, window)
		for _, id := range sortedKnobIDs(deltas) {
			rep.Proposals = append(rep.Proposals, e.registry.Propose(id, deltas[id]))
		}
	}

	if e.reports != nil {
		if err := e.reports.Append(rep); err != nil {
			return Report{}, fmt.Errorf("record report: %w", err)
		}
	}

	accepted := len(rep.Accepted())
	log.Info().
		Str("report_id", rep.ID).
		Str("regime", string(rep.Regime)).
		Bool("low_confidence", rep.LowConfidence).
		Bool("sample_sufficient", rep.SampleSufficient).
		Int("resolved_calls", window.ResolvedCalls).
		Int("plans_generated", window.PlansGenerated).
		Int("proposals", len(rep.Proposals)).
		Int("accepted", accepted).
		Msg("reevaluation pass complete")

	return rep, nil
}

func sortedKnobIDs(deltas map[string]float64) []string {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
