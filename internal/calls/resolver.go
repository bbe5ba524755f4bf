package calls

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Resolution is the event emitted when a call reaches a terminal
// state. EventID is derived from the call ID so replays of the same
// resolution dedupe downstream.
type Resolution struct {
	EventID        string                 `json:"event_id"`
	CallID         string                 `json:"call_id"`
	Symbol         string                 `json:"symbol"`
	Outcome        Status                 `json:"outcome"`
	OpenedAt       time.Time              `json:"opened_at"`
	ResolvedAt     time.Time              `json:"resolved_at"`
	EntryPrice     float64                `json:"entry_price"`
	ResolvedPrice  float64                `json:"resolved_price"`
	RealizedReturn float64                `json:"realized_return"`
	FeatureProfile map[string]float64     `json:"feature_profile"`
	SourceProfile  map[string]SourceStats `json:"source_profile,omitempty"`
	Rationale      []Driver               `json:"why_call_made,omitempty"`
	FailureTags    []string               `json:"why_bad,omitempty"`
}

// PriceLookup returns the latest observed price for a symbol.
type PriceLookup func(symbol string) (float64, bool)

// Resolver classifies open calls into terminal outcomes once their
// evaluation horizon has elapsed.
type Resolver struct {
	Horizon       time.Duration
	BadThreshold  float64 // resolve bad at or below this return
	GoodThreshold float64 // resolve good at or above this return
}

// NewResolver validates thresholds and builds a resolver.
func NewResolver(horizon time.Duration, badThreshold, goodThreshold float64) (*Resolver, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("evaluation horizon must be positive, got %v", horizon)
	}
	if badThreshold >= goodThreshold {
		return nil, fmt.Errorf("bad threshold %.4f must be below good threshold %.4f", badThreshold, goodThreshold)
	}
	return &Resolver{Horizon: horizon, BadThreshold: badThreshold, GoodThreshold: goodThreshold}, nil
}

// Resolve attempts to resolve a single call as of the pass's fixed
// timestamp. It returns nil when the call is already resolved (replay
// no-op), younger than the horizon, or the price is unusable.
func (r *Resolver) Resolve(call *Call, currentPrice float64, asOf time.Time) *Resolution {
	if call == nil || call.Resolved() {
		return nil
	}
	if asOf.Sub(call.OpenedAt) < r.Horizon {
		return nil
	}
	if currentPrice <= 0 || call.EntryPrice <= 0 {
		log.Warn().Str("call_id", call.ID).Str("symbol", call.Symbol).
			Float64("entry", call.EntryPrice).Float64("current", currentPrice).
			Msg("unresolvable call: non-positive price")
		return nil
	}

	realized := currentPrice/call.EntryPrice - 1.0

	outcome := StatusResolvedNeutral
	switch {
	case realized <= r.BadThreshold:
		outcome = StatusResolvedBad
	case realized >= r.GoodThreshold:
		outcome = StatusResolvedGood
	}

	resolvedAt := asOf.UTC()
	call.Status = outcome
	call.ResolvedAt = &resolvedAt
	call.RealizedReturn = &realized

	res := &Resolution{
		EventID:        "resolve:" + call.ID,
		CallID:         call.ID,
		Symbol:         call.Symbol,
		Outcome:        outcome,
		OpenedAt:       call.OpenedAt,
		ResolvedAt:     resolvedAt,
		EntryPrice:     call.EntryPrice,
		ResolvedPrice:  currentPrice,
		RealizedReturn: realized,
		FeatureProfile: call.FeatureProfile,
		SourceProfile:  call.SourceProfile,
		Rationale:      call.Rationale,
	}
	if outcome == StatusResolvedBad {
		res.FailureTags = FailureTags(call.FeatureProfile, realized)
	}

	log.Info().Str("call_id", call.ID).Str("symbol", call.Symbol).
		Str("outcome", string(outcome)).Float64("realized_return", realized).
		Msg("call resolved")
	return res
}

// Pass resolves every eligible open call against current prices,
// returning resolutions in deterministic (symbol, id) order. Calls
// without a price stay open for the next pass.
func (r *Resolver) Pass(open map[string]*Call, prices PriceLookup, asOf time.Time) []Resolution {
	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var resolutions []Resolution
	for _, id := range ids {
		call := open[id]
		price, ok := prices(call.Symbol)
		if !ok {
			continue
		}
		if res := r.Resolve(call, price, asOf); res != nil {
			resolutions = append(resolutions, *res)
		}
	}
	return resolutions
}
