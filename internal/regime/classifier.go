package regime

import (
	"time"
)

// Regime is the coarse performance classification steering adaptation
// policy for a reevaluation window.
type Regime string

const (
	Stressed Regime = "stressed"
	Stable   Regime = "stable"
	Mixed    Regime = "mixed"
)

// Window aggregates the rolling metrics a reevaluation pass computes
// from raw telemetry. It is recomputed each cycle and never persisted.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	WindowReturn float64 `json:"window_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`

	ResolvedCalls int `json:"resolved_calls"`
	GoodCalls     int `json:"good_calls"`
	BadCalls      int `json:"bad_calls"`

	PlansGenerated int `json:"plans_generated"`
	PlansUsed      int `json:"plans_used"`
	PlanFallbacks  int `json:"plan_fallbacks"`

	TradeCycles   int `json:"trade_cycles"`
	NoTradeCycles int `json:"no_trade_cycles"`

	// SkippedRecords counts malformed telemetry rows dropped while
	// building the window; surfaced in the report, never fatal.
	SkippedRecords int `json:"skipped_records"`
}

// BadCallRate returns the share of resolved calls classified bad, and
// whether enough evidence exists to compute it.
func (w Window) BadCallRate() (float64, bool) {
	if w.ResolvedCalls == 0 {
		return 0, false
	}
	return float64(w.BadCalls) / float64(w.ResolvedCalls), true
}

// GoodCallRate returns the share of resolved calls classified good.
func (w Window) GoodCallRate() (float64, bool) {
	if w.ResolvedCalls == 0 {
		return 0, false
	}
	return float64(w.GoodCalls) / float64(w.ResolvedCalls), true
}

// NoTradeRatio returns the share of trade-capable cycles that proposed
// no orders, and whether any trade-capable cycles were observed.
func (w Window) NoTradeRatio() (float64, bool) {
	if w.TradeCycles == 0 {
		return 0, false
	}
	return float64(w.NoTradeCycles) / float64(w.TradeCycles), true
}

// Thresholds parameterize classification. All values are configuration
// (config/tradetune.yaml), not constants.
type Thresholds struct {
	// MaterialLoss is the window return at or below which performance
	// counts as materially negative (e.g. -0.03).
	MaterialLoss float64 `yaml:"material_loss" default:"-0.03" validate:"lte=0"`
	// DrawdownCeiling marks stressed territory when exceeded.
	DrawdownCeiling float64 `yaml:"drawdown_ceiling" default:"0.15" validate:"gte=0"`
	// DrawdownTightBand is the ceiling for a stable window.
	DrawdownTightBand float64 `yaml:"drawdown_tight_band" default:"0.05" validate:"gte=0"`
	// BadDominanceMargin: bad rate must exceed good rate by this much
	// to force stressed on call quality alone.
	BadDominanceMargin float64 `yaml:"bad_dominance_margin" default:"0.20" validate:"gte=0"`
	// GoodDominanceMargin: good rate must exceed bad rate by this much
	// for a window to count as stable.
	GoodDominanceMargin float64 `yaml:"good_dominance_margin" default:"0.10" validate:"gte=0"`
}

// DefaultThresholds mirror the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaterialLoss:        -0.03,
		DrawdownCeiling:     0.15,
		DrawdownTightBand:   0.05,
		BadDominanceMargin:  0.20,
		GoodDominanceMargin: 0.10,
	}
}

// Classification is the classifier output. LowConfidence marks windows
// where evidence was missing (no resolved calls); such windows always
// classify mixed rather than failing.
type Classification struct {
	Regime        Regime `json:"regime"`
	LowConfidence bool   `json:"low_confidence"`
}

// Classify maps a window to a regime. It is a pure function: the same
// window and thresholds always produce the same classification, and no
// ordering of metric insertion can change the result.
func Classify(w Window, th Thresholds) Classification {
	badRate, haveBad := w.BadCallRate()
	goodRate, _ := w.GoodCallRate()

	if !haveBad {
		// Zero resolved calls: not enough evidence for either extreme.
		return Classification{Regime: Mixed, LowConfidence: true}
	}

	lossStress := w.WindowReturn <= th.MaterialLoss && w.MaxDrawdown > th.DrawdownCeiling
	qualityStress := badRate >= goodRate+th.BadDominanceMargin
	if lossStress || qualityStress {
		return Classification{Regime: Stressed}
	}

	stable := w.WindowReturn >= 0 &&
		w.MaxDrawdown <= th.DrawdownTightBand &&
		goodRate >= badRate+th.GoodDominanceMargin
	if stable {
		return Classification{Regime: Stable}
	}

	return Classification{Regime: Mixed}
}
