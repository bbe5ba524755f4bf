// Package reeval runs the periodic reevaluation pass: build the
// telemetry window, classify the regime, and turn the classification
// into bounded knob proposals. The pass proposes only; committing is
// the explicit apply action's job.
package reeval

import (
	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/regime"
)

// PolicyConfig holds the per-regime step magnitudes and the mixed-regime
// trigger thresholds. Steps are upper bounds on intent; the registry's
// step caps and bounds still validate every delta.
type PolicyConfig struct {
	TrustGateStep        float64 `yaml:"trust_gate_step" default:"0.02" validate:"gt=0"`
	MemoryAlphaStep      float64 `yaml:"memory_alpha_step" default:"0.005" validate:"gt=0"`
	LearnerRateStep      float64 `yaml:"learner_rate_step" default:"0.01" validate:"gt=0"`
	ResearchWeightStep   float64 `yaml:"research_weight_step" default:"0.02" validate:"gt=0"`
	ResearchFeedbackStep float64 `yaml:"research_feedback_step" default:"0.01" validate:"gt=0"`

	// Mixed-regime triggers. A nudge fires only on a clear
	// single-direction signal; otherwise mixed proposes nothing.
	MixedBadRateTrigger   float64 `yaml:"mixed_bad_rate_trigger" default:"0.40" validate:"gt=0,lt=1"`
	MixedNoTradeTrigger   float64 `yaml:"mixed_no_trade_trigger" default:"0.70" validate:"gt=0,lte=1"`
	MixedBadRateTolerable float64 `yaml:"mixed_bad_rate_tolerable" default:"0.25" validate:"gte=0,lt=1"`
}

// Policy maps a regime classification to knob deltas. Only L1–L3 knobs
// appear in its output; guardrails and locked layers have no entry to
// begin with.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy builds a policy from configured magnitudes.
func NewPolicy(cfg PolicyConfig) Policy {
	return Policy{cfg: cfg}
}

// Deltas returns the proposed delta per knob ID for one pass. The
// trust gate is oriented so a negative delta tightens (raises the bar
// relative to plan confidence); stressed regimes tighten and slow
// learning, stable regimes do the opposite at the same magnitudes, and
// mixed regimes nudge at half magnitude only when the window shows one
// unambiguous signal. A low-confidence classification proposes nothing.
func (p Policy) Deltas(c regime.Classification, w regime.Window) map[string]float64 {
	if c.LowConfidence {
		return nil
	}

	switch c.Regime {
	case regime.Stressed:
		return map[string]float64{
			layers.KnobPlanTrustGate:    -p.cfg.TrustGateStep,
			layers.KnobMemoryAlpha:      -p.cfg.MemoryAlphaStep,
			layers.KnobDecisionRate:     -p.cfg.LearnerRateStep,
			layers.KnobSourceRate:       -p.cfg.LearnerRateStep,
			layers.KnobResearchWeight:   -p.cfg.ResearchWeightStep,
			layers.KnobResearchFeedback: -p.cfg.ResearchFeedbackStep,
		}
	case regime.Stable:
		return map[string]float64{
			layers.KnobPlanTrustGate:    p.cfg.TrustGateStep,
			layers.KnobMemoryAlpha:      p.cfg.MemoryAlphaStep,
			layers.KnobDecisionRate:     p.cfg.LearnerRateStep,
			layers.KnobSourceRate:       p.cfg.LearnerRateStep,
			layers.KnobResearchWeight:   p.cfg.ResearchWeightStep,
			layers.KnobResearchFeedback: p.cfg.ResearchFeedbackStep,
		}
	case regime.Mixed:
		return p.mixedDeltas(w)
	}
	return nil
}

// mixedDeltas handles the ambiguous middle. Two signals are considered,
// mutually exclusive by construction: an elevated bad-call rate
// tightens, a very high no-trade ratio with a tolerable bad rate
// loosens. Anything else holds every knob.
func (p Policy) mixedDeltas(w regime.Window) map[string]float64 {
	badRate, haveBad := w.BadCallRate()
	noTrade, haveNoTrade := w.NoTradeRatio()

	if haveBad && badRate >= p.cfg.MixedBadRateTrigger {
		return map[string]float64{
			layers.KnobPlanTrustGate: -p.cfg.TrustGateStep / 2,
			layers.KnobSourceRate:    -p.cfg.LearnerRateStep / 2,
		}
	}
	if haveNoTrade && noTrade >= p.cfg.MixedNoTradeTrigger &&
		(!haveBad || badRate <= p.cfg.MixedBadRateTolerable) {
		return map[string]float64{
			layers.KnobPlanTrustGate: p.cfg.TrustGateStep / 2,
			layers.KnobDecisionRate:  p.cfg.LearnerRateStep / 2,
		}
	}
	return nil
}
