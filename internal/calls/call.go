package calls

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked decision. A call opens
// once and transitions to exactly one resolved state.
type Status string

const (
	StatusOpen            Status = "open"
	StatusResolvedGood    Status = "resolved_good"
	StatusResolvedBad     Status = "resolved_bad"
	StatusResolvedNeutral Status = "resolved_neutral"
)

// Kind distinguishes the instrument focus of a call.
type Kind string

const (
	KindEquity Kind = "equity"
	KindOption Kind = "option"
)

// Feature driver names scored at entry. These keys index both the
// entry feature profile and the learned penalty table.
const (
	FeatureMomentum20d    = "momentum_20d"
	FeatureMomentum5d     = "momentum_5d"
	FeatureTrend20d       = "trend_20d"
	FeatureNewsScore      = "news_score"
	FeatureMacroScore     = "macro_score"
	FeatureAIShortTerm    = "ai_short_term"
	FeatureAILongTerm     = "ai_long_term"
	FeatureVolatilityRisk = "volatility_risk"
)

// FeatureKeys lists every known feature driver in stable order.
var FeatureKeys = []string{
	FeatureMomentum20d,
	FeatureMomentum5d,
	FeatureTrend20d,
	FeatureNewsScore,
	FeatureMacroScore,
	FeatureAIShortTerm,
	FeatureAILongTerm,
	FeatureVolatilityRisk,
}

// SourceStats captures an information source's aggregate contribution
// to a scoring cycle: net sentiment in [-1, 1] and item count.
type SourceStats struct {
	Sentiment float64 `json:"sentiment"`
	Count     float64 `json:"count"`
}

// Driver is one ranked entry in a call's rationale.
type Driver struct {
	Name         string  `json:"driver"`
	Contribution float64 `json:"contribution"`
}

// Call is a tracked trading decision awaiting outcome resolution. It
// is owned by the resolver; other components read it only.
type Call struct {
	ID             string                 `json:"id"`
	Symbol         string                 `json:"symbol"`
	Kind           Kind                   `json:"kind"`
	OpenedAt       time.Time              `json:"opened_at"`
	EntryPrice     float64                `json:"entry_price"`
	SignalScore    float64                `json:"signal_score"`
	FeatureProfile map[string]float64     `json:"feature_profile"`
	SourceProfile  map[string]SourceStats `json:"source_profile,omitempty"`
	Rationale      []Driver               `json:"rationale,omitempty"`

	Status         Status     `json:"status"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	RealizedReturn *float64   `json:"realized_return,omitempty"`
}

// NewCall opens a call for a freshly entered position. The rationale
// (top contributing drivers) is captured from the entry profile so a
// later bad resolution can be explained.
func NewCall(symbol string, kind Kind, entryPrice, signalScore float64, features map[string]float64, sources map[string]SourceStats, openedAt time.Time) *Call {
	profile := make(map[string]float64, len(features))
	for k, v := range features {
		profile[k] = v
	}
	return &Call{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Kind:           kind,
		OpenedAt:       openedAt.UTC(),
		EntryPrice:     entryPrice,
		SignalScore:    signalScore,
		FeatureProfile: profile,
		SourceProfile:  sources,
		Rationale:      Rationale(profile, 3),
		Status:         StatusOpen,
	}
}

// Resolved reports whether the call has reached a terminal state.
func (c *Call) Resolved() bool {
	return c.Status != StatusOpen
}

// Rationale ranks the positive feature contributions at entry,
// excluding the volatility risk term, and returns the top maxItems.
func Rationale(profile map[string]float64, maxItems int) []Driver {
	ranked := make([]Driver, 0, len(profile))
	for name, value := range profile {
		if name == FeatureVolatilityRisk || value <= 0 {
			continue
		}
		ranked = append(ranked, Driver{Name: name, Contribution: value})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Contribution != ranked[j].Contribution {
			return ranked[i].Contribution > ranked[j].Contribution
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}
	return ranked
}

// Failure tags attached to bad resolutions.
const (
	TagNewsOverreaction  = "news_overreaction"
	TagMomentumReversal  = "momentum_reversal"
	TagAIThesisMiss      = "ai_thesis_miss"
	TagMacroPolicyMiss   = "macro_policy_miss"
	TagHighVolRegime     = "high_volatility_regime"
	TagGeneralPrediction = "general_prediction_error"
)

// FailureTags names the likely failure modes of a losing call based on
// which drivers led its entry rationale. Non-negative returns produce
// no tags.
func FailureTags(profile map[string]float64, realizedReturn float64) []string {
	if realizedReturn >= 0 {
		return nil
	}

	var tags []string
	drivers := make(map[string]bool, 2)
	for _, d := range Rationale(profile, 2) {
		drivers[d.Name] = true
	}

	if drivers[FeatureNewsScore] {
		tags = append(tags, TagNewsOverreaction)
	}
	if drivers[FeatureMomentum20d] || drivers[FeatureMomentum5d] {
		tags = append(tags, TagMomentumReversal)
	}
	if drivers[FeatureAIShortTerm] || drivers[FeatureAILongTerm] {
		tags = append(tags, TagAIThesisMiss)
	}
	if drivers[FeatureMacroScore] {
		tags = append(tags, TagMacroPolicyMiss)
	}
	if profile[FeatureVolatilityRisk] > 0.09 {
		tags = append(tags, TagHighVolRegime)
	}
	if len(tags) == 0 {
		tags = append(tags, TagGeneralPrediction)
	}
	return tags
}
