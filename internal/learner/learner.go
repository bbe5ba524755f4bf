package learner

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/calls"
)

// Known source types. Unrecognized sources learn under their own key;
// "unknown" is the fallback for unlabeled items.
const (
	SourceNews       = "news"
	SourceFiling     = "sec_filing"
	SourceTranscript = "earnings_transcript"
	SourceSocial     = "social"
	SourceAnalyst    = "analyst_rating"
	SourceUnknown    = "unknown"
)

// DefaultSourceTypes seeds the bias table so reports always show the
// primary channels even before any learning happened.
var DefaultSourceTypes = []string{
	SourceNews, SourceFiling, SourceTranscript, SourceSocial, SourceAnalyst, SourceUnknown,
}

// Config bounds every learning step. Rates are fed from the live L3
// knob values at pass start; the clamps and thresholds come from the
// static configuration.
type Config struct {
	LearningRate           float64 // per-event feature penalty step scale
	MaxFeaturePenalty      float64 // penalty magnitude ceiling
	MaterialityThreshold   float64 // minimum exposure for a feature to be penalized
	SourceLearningRate     float64 // per-event source bias step scale
	MaxSourceBias          float64 // bias magnitude ceiling
	MarketReactionStrength float64 // channel weight for no-trade observations
	ReturnUnit             float64 // return magnitude treated as one severity unit
}

// MarketObservation is the stored prior cycle used by the
// market-reaction path: last price and the source sentiment that
// accompanied it.
type MarketObservation struct {
	Timestamp     time.Time                    `json:"timestamp"`
	Price         float64                      `json:"price"`
	SourceProfile map[string]calls.SourceStats `json:"source_profile,omitempty"`
}

// Update summarizes the table changes one event produced.
type Update struct {
	EventID        string             `json:"event_id"`
	FeatureDeltas  map[string]float64 `json:"feature_deltas,omitempty"`
	SourceDeltas   map[string]float64 `json:"source_deltas,omitempty"`
	RealizedReturn float64            `json:"realized_return"`
}

// Learner maintains the bounded feature-penalty and source-bias
// tables. All mutation paths share the same clamps; replayed events
// are no-ops keyed by event ID.
type Learner struct {
	cfg Config

	featurePenalties map[string]float64
	sourceBias       map[string]float64
	observations     map[string]MarketObservation
	applied          map[string]bool
}

// New builds a learner with zeroed tables.
func New(cfg Config) *Learner {
	if cfg.ReturnUnit <= 0 {
		cfg.ReturnUnit = 0.05
	}
	l := &Learner{
		cfg:              cfg,
		featurePenalties: make(map[string]float64, len(calls.FeatureKeys)),
		sourceBias:       make(map[string]float64, len(DefaultSourceTypes)),
		observations:     make(map[string]MarketObservation),
		applied:          make(map[string]bool),
	}
	for _, k := range calls.FeatureKeys {
		l.featurePenalties[k] = 0
	}
	for _, s := range DefaultSourceTypes {
		l.sourceBias[s] = 0
	}
	return l
}

// severity scales a realized return into a bounded step multiplier.
func (l *Learner) severity(realizedReturn float64) float64 {
	return math.Min(math.Abs(realizedReturn)/l.cfg.ReturnUnit, 2.0)
}

// ApplyResolution folds one resolution event into the tables. Only bad
// outcomes increase feature penalties; good and neutral outcomes leave
// them untouched (trust is rebuilt by the explicit decay operation,
// not by wins). Source bias updates on every outcome since the
// realized direction is informative either way. Returns false when the
// event was already applied.
func (l *Learner) ApplyResolution(res calls.Resolution) (Update, bool) {
	if l.applied[res.EventID] {
		return Update{}, false
	}
	l.applied[res.EventID] = true

	up := Update{EventID: res.EventID, RealizedReturn: res.RealizedReturn}

	if res.Outcome == calls.StatusResolvedBad {
		up.FeatureDeltas = l.penalizeFeatures(res.FeatureProfile, res.RealizedReturn)
	}
	up.SourceDeltas = l.updateSourceBias(res.SourceProfile, res.RealizedReturn, 1.0)

	if len(up.FeatureDeltas) > 0 || len(up.SourceDeltas) > 0 {
		log.Info().Str("event_id", res.EventID).Str("outcome", string(res.Outcome)).
			Int("feature_updates", len(up.FeatureDeltas)).
			Int("source_updates", len(up.SourceDeltas)).
			Msg("learning tables updated")
	}
	return up, true
}

// penalizeFeatures bumps the penalty of every feature that contributed
// above the materiality threshold, clamped to the ceiling.
func (l *Learner) penalizeFeatures(profile map[string]float64, realizedReturn float64) map[string]float64 {
	sev := l.severity(realizedReturn)
	changed := make(map[string]float64)

	for _, key := range calls.FeatureKeys {
		exposure := math.Max(0, profile[key])
		if exposure <= l.cfg.MaterialityThreshold {
			continue
		}
		before := l.featurePenalties[key]
		after := clamp(before+l.cfg.LearningRate*sev*exposure, 0, l.cfg.MaxFeaturePenalty)
		if after != before {
			l.featurePenalties[key] = after
			changed[key] = after - before
		}
	}
	return changed
}

// updateSourceBias applies one bounded bias step per source. Sentiment
// aligned with the realized move strengthens a source; opposed
// sentiment weakens it. Both learning paths share this step and clamp.
func (l *Learner) updateSourceBias(profile map[string]calls.SourceStats, realizedReturn, channelWeight float64) map[string]float64 {
	if len(profile) == 0 {
		return nil
	}
	signal := clamp(realizedReturn/l.cfg.ReturnUnit, -2.0, 2.0)
	if signal == 0 {
		return nil
	}

	totalCount := 0.0
	for _, row := range profile {
		totalCount += math.Max(0, row.Count)
	}
	if totalCount <= 0 {
		return nil
	}

	changed := make(map[string]float64)
	for source, row := range profile {
		sentiment := clamp(row.Sentiment, -1.0, 1.0)
		count := math.Max(0, row.Count)
		if count == 0 || sentiment == 0 {
			continue
		}
		influence := math.Min(1.0, math.Abs(sentiment)) * (count / totalCount)
		delta := l.cfg.SourceLearningRate * channelWeight * signal * sentiment * influence
		if delta == 0 {
			continue
		}
		before := l.sourceBias[source]
		after := clamp(before+delta, -l.cfg.MaxSourceBias, l.cfg.MaxSourceBias)
		if after != before {
			l.sourceBias[source] = after
			changed[source] = after - before
		}
	}
	return changed
}

// ObserveMarket records the current price and source sentiment for a
// symbol and, when a prior observation exists, learns source
// reliability from the price move since then. This path runs whether
// or not a trade happened, so sources are graded on symbols the agent
// declined to act on.
func (l *Learner) ObserveMarket(symbol string, price float64, profile map[string]calls.SourceStats, now time.Time) map[string]float64 {
	if symbol == "" || price <= 0 {
		return nil
	}

	var deltas map[string]float64
	if prior, ok := l.observations[symbol]; ok && prior.Price > 0 && len(prior.SourceProfile) > 0 {
		realized := price/prior.Price - 1.0
		deltas = l.updateSourceBias(prior.SourceProfile, realized, l.cfg.MarketReactionStrength)
		if len(deltas) > 0 {
			log.Debug().Str("symbol", symbol).Float64("realized_return", realized).
				Int("source_updates", len(deltas)).Msg("market reaction learned")
		}
	}

	l.observations[symbol] = MarketObservation{
		Timestamp:     now.UTC(),
		Price:         price,
		SourceProfile: profile,
	}
	return deltas
}

// Decay scales every feature penalty toward zero. It is the explicit
// slow-trust-rebuild operation; no pass invokes it automatically.
func (l *Learner) Decay(factor float64) {
	if factor < 0 || factor >= 1 {
		return
	}
	for key, v := range l.featurePenalties {
		l.featurePenalties[key] = v * factor
	}
}

// Adjustment is the score adjustment the live decision path applies
// for a candidate with the given feature profile: each learned penalty
// subtracts in proportion to the candidate's exposure to that feature.
func (l *Learner) Adjustment(profile map[string]float64) float64 {
	adj := 0.0
	for key, penalty := range l.featurePenalties {
		adj -= penalty * math.Max(0, profile[key])
	}
	return adj
}

// SourceMultiplier maps a source's learned bias to a bounded sentiment
// magnitude multiplier.
func (l *Learner) SourceMultiplier(sourceType string) float64 {
	if sourceType == "" {
		sourceType = SourceUnknown
	}
	return clamp(1.0+l.sourceBias[sourceType], 0.25, 2.0)
}

// FeaturePenalties returns a copy of the penalty table.
func (l *Learner) FeaturePenalties() map[string]float64 {
	return copyFloats(l.featurePenalties)
}

// SourceBias returns a copy of the bias table.
func (l *Learner) SourceBias() map[string]float64 {
	return copyFloats(l.sourceBias)
}

// Observations returns a copy of the stored market observations.
func (l *Learner) Observations() map[string]MarketObservation {
	out := make(map[string]MarketObservation, len(l.observations))
	for k, v := range l.observations {
		out[k] = v
	}
	return out
}

// AppliedEvents returns the IDs of resolution events already folded in.
func (l *Learner) AppliedEvents() []string {
	out := make([]string, 0, len(l.applied))
	for id := range l.applied {
		out = append(out, id)
	}
	return out
}

// Restore loads persisted tables, re-applying the shared clamps so a
// snapshot written under looser limits cannot exceed today's.
func (l *Learner) Restore(featurePenalties, sourceBias map[string]float64, observations map[string]MarketObservation, appliedEvents []string) {
	for key, v := range featurePenalties {
		l.featurePenalties[key] = clamp(v, 0, l.cfg.MaxFeaturePenalty)
	}
	for key, v := range sourceBias {
		l.sourceBias[key] = clamp(v, -l.cfg.MaxSourceBias, l.cfg.MaxSourceBias)
	}
	for key, obs := range observations {
		l.observations[key] = obs
	}
	for _, id := range appliedEvents {
		l.applied[id] = true
	}
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
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
