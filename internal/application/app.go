// Package application wires the packages into the operations the CLI
// exposes: the resolve pass, the reevaluation pass, and the explicit
// out-of-band actions (apply, go-live, decay). Each operation loads
// the snapshot, works on in-memory state, and either saves version+1
// atomically or leaves the store untouched.
package application

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/tradetune/internal/config"
	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/learner"
	"github.com/sawpanic/tradetune/internal/memory"
	"github.com/sawpanic/tradetune/internal/metrics"
	"github.com/sawpanic/tradetune/internal/reeval"
	"github.com/sawpanic/tradetune/internal/state"
	"github.com/sawpanic/tradetune/internal/telemetry"
)

// App bundles the wired dependencies for every operation.
type App struct {
	cfg     config.Config
	store   state.Store
	reader  *telemetry.Reader
	reports *reeval.ReportLog
	metrics *metrics.Registry
	clock   reeval.Clock
}

// New wires an App. A nil clock means the system clock; a nil metrics
// registry records nothing.
func New(cfg config.Config, store state.Store, clock reeval.Clock, m *metrics.Registry) *App {
	if clock == nil {
		clock = reeval.SystemClock()
	}
	return &App{
		cfg:   cfg,
		store: store,
		reader: telemetry.NewReader(
			cfg.Telemetry.JournalPath,
			cfg.Telemetry.PortfolioPath,
			cfg.Telemetry.CyclesPath,
		),
		reports: reeval.NewReportLog(cfg.Telemetry.ReportsPath),
		metrics: m,
		clock:   clock,
	}
}

// Reports exposes the report log for the report CLI.
func (a *App) Reports() *reeval.ReportLog { return a.reports }

// OpenStore builds the snapshot store the configuration selects.
func OpenStore(cfg config.Config) (state.Store, error) {
	switch cfg.State.Backend {
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.State.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return state.NewPostgresStore(db, cfg.State.Timeout.Std()), nil
	default:
		return state.NewFileStore(cfg.State.Path), nil
	}
}

// buildRegistry reconstructs the knob registry from a snapshot. The
// go-live flag restores first so persisted L4 values survive a
// restart once live.
func buildRegistry(snap state.Snapshot) (*layers.Registry, error) {
	reg, err := layers.NewRegistry(layers.DefaultKnobs())
	if err != nil {
		return nil, err
	}
	reg.SetGoLive(snap.GoLive)
	reg.Restore(snap.Knobs)
	return reg, nil
}

// buildLearner reconstructs the learner, feeding the live L3 knob
// rates into its step configuration.
func buildLearner(cfg config.Config, reg *layers.Registry, snap state.Snapshot) (*learner.Learner, error) {
	decisionRate, err := reg.Get(layers.KnobDecisionRate)
	if err != nil {
		return nil, err
	}
	sourceRate, err := reg.Get(layers.KnobSourceRate)
	if err != nil {
		return nil, err
	}

	l := learner.New(learner.Config{
		LearningRate:           decisionRate,
		MaxFeaturePenalty:      cfg.Learner.MaxFeaturePenalty,
		MaterialityThreshold:   cfg.Learner.MaterialityThreshold,
		SourceLearningRate:     sourceRate,
		MaxSourceBias:          cfg.Learner.MaxSourceBias,
		MarketReactionStrength: cfg.Learner.MarketReactionStrength,
		ReturnUnit:             cfg.Learner.ReturnUnit,
	})
	l.Restore(snap.FeaturePenalties, snap.SourceBias, snap.MarketObservations, snap.AppliedEvents)
	return l, nil
}

// buildMemory reconstructs the conviction book.
func buildMemory(snap state.Snapshot) *memory.Book {
	b := memory.NewBook()
	b.Restore(snap.Memory)
	return b
}
