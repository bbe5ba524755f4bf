package layers

// Well-known knob IDs. The reevaluation policy table and the live
// decision path both address knobs through these names.
const (
	KnobMaxDrawdownHalt  = "max_drawdown_halt_pct"
	KnobMaxPositionRisk  = "max_position_risk_pct"
	KnobDailyLossLimit   = "daily_loss_limit_pct"
	KnobPlanTrustGate    = "plan_trust_gate"
	KnobMemoryAlpha      = "memory_alpha"
	KnobDecisionRate     = "decision_learning_rate"
	KnobSourceRate       = "source_learning_rate"
	KnobResearchWeight   = "research_weight"
	KnobResearchFeedback = "research_feedback_strength"
	KnobExecAdaptation   = "execution_adaptation_strength"
)

// DefaultKnobs returns the stock knob set. Bounds and step caps match
// config/tradetune.yaml; NewRegistry enforces the L0/L4 rules on top.
func DefaultKnobs() []Knob {
	return []Knob{
		// L0: hard guardrails. Values are visible to readers of the
		// state snapshot but no code path in this module changes them.
		{ID: KnobMaxDrawdownHalt, Layer: L0, Value: 0.20, Lower: 0.20, Upper: 0.20},
		{ID: KnobMaxPositionRisk, Layer: L0, Value: 0.05, Lower: 0.05, Upper: 0.05},
		{ID: KnobDailyLossLimit, Layer: L0, Value: 0.03, Lower: 0.03, Upper: 0.03},

		// L1: how much weight AI-generated plans carry. Tightening is
		// a negative delta.
		{ID: KnobPlanTrustGate, Layer: L1, Value: 0.60, Lower: 0.25, Upper: 0.85, StepCap: 0.03, Tunable: true},

		// L2: EMA smoothing for per-symbol conviction memory.
		{ID: KnobMemoryAlpha, Layer: L2, Value: 0.10, Lower: 0.02, Upper: 0.25, StepCap: 0.01, Tunable: true},

		// L3: cross-symbol learning speeds and research weighting.
		{ID: KnobDecisionRate, Layer: L3, Value: 0.12, Lower: 0.03, Upper: 0.20, StepCap: 0.01, Tunable: true},
		{ID: KnobSourceRate, Layer: L3, Value: 0.12, Lower: 0.03, Upper: 0.20, StepCap: 0.01, Tunable: true},
		{ID: KnobResearchWeight, Layer: L3, Value: 0.25, Lower: 0.10, Upper: 0.45, StepCap: 0.02, Tunable: true},
		{ID: KnobResearchFeedback, Layer: L3, Value: 0.12, Lower: 0.05, Upper: 0.25, StepCap: 0.01, Tunable: true},

		// L4: pinned at 0.0 until go-live.
		{ID: KnobExecAdaptation, Layer: L4, Value: 0.0, Lower: 0.0, Upper: 0.50, StepCap: 0.05, Tunable: true, NoOp: 0.0},
	}
}
