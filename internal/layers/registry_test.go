package layers

import (
	"math"
	"testing"
)

func TestRegistry_ProposeRejectsL0(t *testing.T) {
	r, err := NewRegistry(DefaultKnobs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	deltas := []float64{-1.0, -0.01, 0.0, 0.001, 0.5}
	for _, id := range []string{KnobMaxDrawdownHalt, KnobMaxPositionRisk, KnobDailyLossLimit} {
		before, _ := r.Get(id)
		for _, d := range deltas {
			p := r.Propose(id, d)
			if p.Accepted {
				t.Errorf("Propose(%s, %v) accepted, want rejection", id, d)
			}
			if p.Reason != RejectLayerLocked {
				t.Errorf("Propose(%s, %v) reason = %s, want %s", id, d, p.Reason, RejectLayerLocked)
			}
		}
		after, _ := r.Get(id)
		if before != after {
			t.Errorf("L0 knob %s moved from %v to %v", id, before, after)
		}
	}
}

func TestRegistry_L4LockedUntilGoLive(t *testing.T) {
	r, err := NewRegistry(DefaultKnobs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p := r.Propose(KnobExecAdaptation, 0.05)
	if p.Accepted {
		t.Fatalf("L4 proposal accepted while go-live unset")
	}
	if p.Reason != RejectNotLive {
		t.Fatalf("reason = %s, want %s", p.Reason, RejectNotLive)
	}

	// A zero delta leaves the no-op value and is fine.
	if p := r.Propose(KnobExecAdaptation, 0.0); !p.Accepted {
		t.Fatalf("zero-delta L4 proposal rejected: %s", p.Reason)
	}

	r.SetGoLive(true)
	p = r.Propose(KnobExecAdaptation, 0.05)
	if !p.Accepted {
		t.Fatalf("L4 proposal rejected after go-live: %s", p.Reason)
	}
	if p.NewValue != 0.05 {
		t.Fatalf("NewValue = %v, want 0.05", p.NewValue)
	}
}

func TestRegistry_Propose(t *testing.T) {
	tests := []struct {
		name       string
		knob       string
		delta      float64
		wantAccept bool
		wantReason RejectReason
	}{
		{
			name:       "within cap and bounds",
			knob:       KnobPlanTrustGate,
			delta:      -0.03,
			wantAccept: true,
		},
		{
			name:       "step cap exceeded",
			knob:       KnobPlanTrustGate,
			delta:      0.04,
			wantReason: RejectStepCap,
		},
		{
			name:       "negative step cap exceeded",
			knob:       KnobDecisionRate,
			delta:      -0.05,
			wantReason: RejectStepCap,
		},
		{
			name:       "unknown knob",
			knob:       "nonsense",
			delta:      0.01,
			wantReason: RejectUnknownKnob,
		},
		{
			name:       "zero delta accepted",
			knob:       KnobMemoryAlpha,
			delta:      0.0,
			wantAccept: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(DefaultKnobs())
			if err != nil {
				t.Fatalf("NewRegistry: %v", err)
			}
			p := r.Propose(tt.knob, tt.delta)
			if p.Accepted != tt.wantAccept {
				t.Fatalf("accepted = %v, want %v (reason %s)", p.Accepted, tt.wantAccept, p.Reason)
			}
			if !tt.wantAccept && p.Reason != tt.wantReason {
				t.Fatalf("reason = %s, want %s", p.Reason, tt.wantReason)
			}
		})
	}
}

func TestRegistry_ProposeOutOfBounds(t *testing.T) {
	r, err := NewRegistry([]Knob{
		{ID: "gate", Layer: L1, Value: 0.26, Lower: 0.25, Upper: 0.85, StepCap: 0.03, Tunable: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p := r.Propose("gate", -0.03)
	if p.Accepted {
		t.Fatalf("proposal leaving [lower, upper] accepted, value %v", p.NewValue)
	}
	if p.Reason != RejectOutOfBounds {
		t.Fatalf("reason = %s, want %s", p.Reason, RejectOutOfBounds)
	}
}

func TestRegistry_BoundedStepProperty(t *testing.T) {
	r, err := NewRegistry(DefaultKnobs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	deltas := []float64{-0.04, -0.03, -0.02, -0.01, -0.005, 0, 0.005, 0.01, 0.02, 0.03, 0.04}
	for _, k := range r.Knobs() {
		for _, d := range deltas {
			p := r.Propose(k.ID, d)
			if !p.Accepted {
				continue
			}
			if math.Abs(p.NewValue-k.Value) > k.StepCap+1e-12 {
				t.Errorf("knob %s: |%v - %v| exceeds step cap %v", k.ID, p.NewValue, k.Value, k.StepCap)
			}
			if p.NewValue < k.Lower || p.NewValue > k.Upper {
				t.Errorf("knob %s: accepted value %v outside [%v, %v]", k.ID, p.NewValue, k.Lower, k.Upper)
			}
		}
	}
}

func TestRegistry_CommitRules(t *testing.T) {
	r, err := NewRegistry(DefaultKnobs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := r.Commit(KnobMaxDrawdownHalt, 0.50); err == nil {
		t.Fatalf("Commit on L0 knob succeeded")
	}
	if err := r.Commit(KnobExecAdaptation, 0.10); err == nil {
		t.Fatalf("Commit on locked L4 knob succeeded")
	}
	if err := r.Commit(KnobPlanTrustGate, 0.99); err == nil {
		t.Fatalf("Commit outside bounds succeeded")
	}

	if err := r.Commit(KnobPlanTrustGate, 0.57); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, _ := r.Get(KnobPlanTrustGate)
	if v != 0.57 {
		t.Fatalf("value after commit = %v, want 0.57", v)
	}
}

func TestRegistry_RestoreSkipsLockedLayers(t *testing.T) {
	r, err := NewRegistry(DefaultKnobs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Restore(map[string]float64{
		KnobMaxDrawdownHalt: 0.90,
		KnobExecAdaptation:  0.40,
		KnobPlanTrustGate:   0.45,
		"stale_knob":        1.23,
	})

	if v, _ := r.Get(KnobMaxDrawdownHalt); v != 0.20 {
		t.Errorf("L0 knob restored to %v", v)
	}
	if v, _ := r.Get(KnobExecAdaptation); v != 0.0 {
		t.Errorf("locked L4 knob restored to %v", v)
	}
	if v, _ := r.Get(KnobPlanTrustGate); v != 0.45 {
		t.Errorf("tunable knob not restored, got %v", v)
	}
}
