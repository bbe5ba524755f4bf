// Package state persists the full tuning state as versioned snapshots.
// Every save carries version = current + 1; a mismatch means another
// writer got there first and the save fails closed. Telemetry-derived
// aggregates are deliberately absent: windows are rebuilt from logs.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/tradetune/internal/calls"
	"github.com/sawpanic/tradetune/internal/learner"
	"github.com/sawpanic/tradetune/internal/memory"
)

var (
	// ErrVersionMismatch means the snapshot's version is not exactly
	// one above the store's current version.
	ErrVersionMismatch = errors.New("snapshot version mismatch")

	// ErrCorrupt means the stored snapshot could not be decoded. The
	// caller must stop rather than continue on partial state.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Snapshot is the complete persisted tuning state.
type Snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`

	Knobs  map[string]float64 `json:"knobs"`
	GoLive bool               `json:"go_live"`

	FeaturePenalties   map[string]float64                   `json:"feature_penalties,omitempty"`
	SourceBias         map[string]float64                   `json:"source_bias,omitempty"`
	MarketObservations map[string]learner.MarketObservation `json:"market_observations,omitempty"`
	AppliedEvents      []string                             `json:"applied_events,omitempty"`

	Memory map[string]memory.State `json:"memory,omitempty"`

	OpenCalls map[string]*calls.Call `json:"open_calls,omitempty"`
}

// Empty returns the version-0 snapshot a fresh deployment starts from.
func Empty() Snapshot {
	return Snapshot{
		Version:            0,
		Knobs:              make(map[string]float64),
		FeaturePenalties:   make(map[string]float64),
		SourceBias:         make(map[string]float64),
		MarketObservations: make(map[string]learner.MarketObservation),
		Memory:             make(map[string]memory.State),
		OpenCalls:          make(map[string]*calls.Call),
	}
}

// Store loads and saves snapshots. Load on an empty store returns the
// version-0 snapshot, not an error; corruption returns ErrCorrupt.
// Save rejects any snapshot whose version is not current + 1.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
