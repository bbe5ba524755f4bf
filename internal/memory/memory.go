// Package memory keeps the long-horizon per-symbol conviction scores.
// Each scored cycle folds the fresh signal into an exponential moving
// average whose smoothing constant is the live L2 knob, so conviction
// survives across cycles whether or not a trade happened.
package memory

import (
	"sort"
	"time"
)

// State is the persisted conviction record for one symbol.
type State struct {
	Score     float64   `json:"score"`
	Alpha     float64   `json:"alpha"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Book holds the conviction state for every tracked symbol.
type Book struct {
	states map[string]State
}

// NewBook returns an empty conviction book.
func NewBook() *Book {
	return &Book{states: make(map[string]State)}
}

// Update folds a fresh score into a symbol's EMA using the supplied
// alpha (the L2 memory_alpha knob at pass time). The first observation
// seeds the EMA directly.
func (b *Book) Update(symbol string, score, alpha float64, now time.Time) State {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	prev, ok := b.states[symbol]
	next := State{Alpha: alpha, UpdatedAt: now.UTC()}
	if !ok {
		next.Score = score
	} else {
		next.Score = alpha*score + (1-alpha)*prev.Score
	}
	b.states[symbol] = next
	return next
}

// Get returns a symbol's conviction state.
func (b *Book) Get(symbol string) (State, bool) {
	s, ok := b.states[symbol]
	return s, ok
}

// Symbols lists tracked symbols in sorted order.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.states))
	for s := range b.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// States returns a copy of the full book for snapshot persistence.
func (b *Book) States() map[string]State {
	out := make(map[string]State, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// Restore loads persisted states.
func (b *Book) Restore(states map[string]State) {
	for k, v := range states {
		b.states[k] = v
	}
}
