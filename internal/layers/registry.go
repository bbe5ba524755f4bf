package layers

import (
	"fmt"
	"math"
	"sort"
)

// Layer identifies the adjustment tier a knob belongs to. Lower layers
// carry stricter adjustment policy: L0 is never tunable, L4 stays at
// its no-op value until an explicit go-live.
type Layer int

const (
	L0 Layer = iota // hard guardrails, immutable
	L1              // plan trust gate
	L2              // thesis memory
	L3              // cross-symbol learning
	L4              // execution adaptation, deferred
)

// String returns the canonical layer label ("L0".."L4").
func (l Layer) String() string {
	return fmt.Sprintf("L%d", int(l))
}

// Knob is a named, bounded decision parameter.
type Knob struct {
	ID      string  `json:"id" yaml:"id"`
	Layer   Layer   `json:"layer" yaml:"layer"`
	Value   float64 `json:"value" yaml:"value"`
	Lower   float64 `json:"lower" yaml:"lower"`
	Upper   float64 `json:"upper" yaml:"upper"`
	StepCap float64 `json:"step_cap" yaml:"step_cap"`
	Tunable bool    `json:"tunable" yaml:"tunable"`

	// NoOp is the locked value for L4 knobs. Zero for other layers.
	NoOp float64 `json:"noop,omitempty" yaml:"noop,omitempty"`
}

// RejectReason explains why a proposal was not accepted.
type RejectReason string

const (
	RejectUnknownKnob RejectReason = "unknown_knob"
	RejectLayerLocked RejectReason = "layer_locked"
	RejectNotLive     RejectReason = "not_live"
	RejectStepCap     RejectReason = "step_cap_exceeded"
	RejectOutOfBounds RejectReason = "out_of_bounds"
)

// Proposal is the outcome of a single Propose call. Accepted proposals
// carry the clamped new value; nothing is committed either way.
type Proposal struct {
	KnobID   string       `json:"knob_id"`
	Layer    Layer        `json:"layer"`
	Delta    float64      `json:"delta"`
	Accepted bool         `json:"accepted"`
	NewValue float64      `json:"new_value,omitempty"`
	Reason   RejectReason `json:"reason,omitempty"`
}

// Registry holds the current values and legal bounds for every knob.
// Propose validates without committing; Commit is the only path that
// changes a live value and is reserved for the explicit apply action.
type Registry struct {
	knobs  map[string]*Knob
	goLive bool
}

// NewRegistry builds a registry from a knob set. Knob IDs must be
// unique; L0 knobs are forced non-tunable regardless of input.
func NewRegistry(knobs []Knob) (*Registry, error) {
	r := &Registry{knobs: make(map[string]*Knob, len(knobs))}
	for i := range knobs {
		k := knobs[i]
		if k.ID == "" {
			return nil, fmt.Errorf("knob %d has empty id", i)
		}
		if _, dup := r.knobs[k.ID]; dup {
			return nil, fmt.Errorf("duplicate knob id: %s", k.ID)
		}
		if k.Lower > k.Upper {
			return nil, fmt.Errorf("knob %s: lower %.4f above upper %.4f", k.ID, k.Lower, k.Upper)
		}
		if k.Layer == L0 {
			k.Tunable = false
		}
		if k.Layer == L4 {
			// Locked layers start at their no-op value.
			k.Value = k.NoOp
		}
		r.knobs[k.ID] = &k
	}
	return r, nil
}

// SetGoLive flips the L4 enablement flag. The reevaluation loop never
// calls this; it exists for the explicit out-of-band action only.
func (r *Registry) SetGoLive(live bool) {
	r.goLive = live
}

// GoLive reports whether L4 adaptation has been enabled.
func (r *Registry) GoLive() bool {
	return r.goLive
}

// Get returns the current value of a knob.
func (r *Registry) Get(id string) (float64, error) {
	k, ok := r.knobs[id]
	if !ok {
		return 0, fmt.Errorf("unknown knob: %s", id)
	}
	return k.Value, nil
}

// Lookup returns a copy of the full knob record.
func (r *Registry) Lookup(id string) (Knob, bool) {
	k, ok := r.knobs[id]
	if !ok {
		return Knob{}, false
	}
	return *k, true
}

// Knobs returns copies of all knobs sorted by ID.
func (r *Registry) Knobs() []Knob {
	out := make([]Knob, 0, len(r.knobs))
	for _, k := range r.knobs {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Propose validates a delta against layer, lock, step-cap and bound
// rules. It rejects unconditionally for L0 knobs, for L4 knobs that
// would leave the no-op value while go-live is unset, for deltas above
// the step cap, and for results outside [lower, upper]. On acceptance
// the clamped new value is returned without being committed.
func (r *Registry) Propose(id string, delta float64) Proposal {
	k, ok := r.knobs[id]
	if !ok {
		return Proposal{KnobID: id, Delta: delta, Reason: RejectUnknownKnob}
	}

	p := Proposal{KnobID: id, Layer: k.Layer, Delta: delta}

	if k.Layer == L0 || !k.Tunable {
		p.Reason = RejectLayerLocked
		return p
	}
	next := k.Value + delta
	if k.Layer == L4 && !r.goLive && next != k.NoOp {
		p.Reason = RejectNotLive
		return p
	}
	if math.Abs(delta) > k.StepCap {
		p.Reason = RejectStepCap
		return p
	}
	if next < k.Lower || next > k.Upper {
		p.Reason = RejectOutOfBounds
		return p
	}

	p.Accepted = true
	p.NewValue = clamp(next, k.Lower, k.Upper)
	return p
}

// Commit sets a knob to an explicit value. It enforces the same layer
// and bound rules as Propose but not the step cap relative to the
// current value: the caller is expected to commit a value previously
// returned by an accepted proposal.
func (r *Registry) Commit(id string, value float64) error {
	k, ok := r.knobs[id]
	if !ok {
		return fmt.Errorf("unknown knob: %s", id)
	}
	if k.Layer == L0 || !k.Tunable {
		return fmt.Errorf("knob %s: layer %s is locked", id, k.Layer)
	}
	if k.Layer == L4 && !r.goLive && value != k.NoOp {
		return fmt.Errorf("knob %s: execution adaptation not live", id)
	}
	if value < k.Lower || value > k.Upper {
		return fmt.Errorf("knob %s: value %.4f outside [%.4f, %.4f]", id, value, k.Lower, k.Upper)
	}
	k.Value = value
	return nil
}

// Values returns the current value of every knob keyed by ID, for
// snapshot persistence.
func (r *Registry) Values() map[string]float64 {
	out := make(map[string]float64, len(r.knobs))
	for id, k := range r.knobs {
		out[id] = k.Value
	}
	return out
}

// Restore overwrites knob values from a persisted snapshot. Values for
// non-tunable layers are ignored: a snapshot can never move L0, and L4
// stays pinned to no-op while go-live is unset. Unknown IDs are
// ignored so old snapshots survive knob-set changes.
func (r *Registry) Restore(values map[string]float64) {
	for id, v := range values {
		k, ok := r.knobs[id]
		if !ok {
			continue
		}
		if k.Layer == L0 || !k.Tunable {
			continue
		}
		if k.Layer == L4 && !r.goLive {
			continue
		}
		k.Value = clamp(v, k.Lower, k.Upper)
	}
}

// clamp restricts a value to be within [min, max]
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
