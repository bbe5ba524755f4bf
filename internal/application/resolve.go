package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/calls"
	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/telemetry"
)

// noLowerBound reads a stream from its beginning.
var noLowerBound time.Time

// ResolveResult summarizes one resolve pass.
type ResolveResult struct {
	SnapshotVersion int                `json:"snapshot_version"`
	CallsIngested   int                `json:"calls_ingested"`
	OpenCalls       int                `json:"open_calls"`
	Resolutions     []calls.Resolution `json:"resolutions,omitempty"`
}

// Resolve executes one resolve pass: ingest newly opened calls from
// the decision journal, fold scored cycles into conviction memory and
// the market-reaction learner, resolve calls past their horizon, and
// persist the next snapshot. The journal is read up to a bound fixed
// at pass start. Every mutation path is replay-safe, so rerunning a
// pass over the same journal resolves nothing twice.
func (a *App) Resolve(ctx context.Context) (ResolveResult, error) {
	res, err := a.resolve(ctx)
	if a.metrics != nil {
		a.metrics.RecordPass("resolve", err)
	}
	return res, err
}

func (a *App) resolve(ctx context.Context) (ResolveResult, error) {
	asOf := a.clock.Now().UTC()

	snap, err := a.store.Load(ctx)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("load snapshot: %w", err)
	}
	reg, err := buildRegistry(snap)
	if err != nil {
		return ResolveResult{}, err
	}
	lrn, err := buildLearner(a.cfg, reg, snap)
	if err != nil {
		return ResolveResult{}, err
	}
	book := buildMemory(snap)

	open := make(map[string]*calls.Call, len(snap.OpenCalls))
	for id, c := range snap.OpenCalls {
		open[id] = c
	}

	journal, skipped, err := a.reader.ReadJournal(noLowerBound, asOf)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("read journal: %w", err)
	}
	if a.metrics != nil && skipped > 0 {
		a.metrics.TelemetrySkipped.Add(float64(skipped))
	}

	applied := make(map[string]bool)
	for _, id := range lrn.AppliedEvents() {
		applied[id] = true
	}

	result := ResolveResult{}

	// Ingest calls the agent opened since the last pass. A call whose
	// resolution was already applied stays closed on replay.
	for _, ev := range journal {
		if ev.Event != telemetry.EventCallOpened || ev.Call == nil || ev.Call.ID == "" {
			continue
		}
		if ev.Call.Resolved() || open[ev.Call.ID] != nil || applied["resolve:"+ev.Call.ID] {
			continue
		}
		c := *ev.Call
		open[c.ID] = &c
		result.CallsIngested++
	}

	// Fold scored cycles into memory and the market-reaction learner.
	// Per-symbol timestamps gate replays: only events newer than the
	// stored state advance it.
	alpha, err := reg.Get(layers.KnobMemoryAlpha)
	if err != nil {
		return ResolveResult{}, err
	}
	scored := make([]telemetry.JournalEvent, 0)
	for _, ev := range journal {
		if ev.Event == telemetry.EventSymbolScored && ev.Symbol != "" {
			scored = append(scored, ev)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Timestamp.Before(scored[j].Timestamp) })

	observations := lrn.Observations()
	for _, ev := range scored {
		if st, ok := book.Get(ev.Symbol); !ok || ev.Timestamp.After(st.UpdatedAt) {
			book.Update(ev.Symbol, ev.Score, alpha, ev.Timestamp)
		}
		if obs, ok := observations[ev.Symbol]; !ok || ev.Timestamp.After(obs.Timestamp) {
			lrn.ObserveMarket(ev.Symbol, ev.Price, ev.SourceProfile, ev.Timestamp)
			observations = lrn.Observations()
		}
	}

	// Resolve calls past their horizon against the latest prices.
	prices, err := a.reader.LatestPrices(asOf)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("latest prices: %w", err)
	}
	resolver, err := calls.NewResolver(a.cfg.Resolver.Horizon.Std(), a.cfg.Resolver.BadThreshold, a.cfg.Resolver.GoodThreshold)
	if err != nil {
		return ResolveResult{}, err
	}
	lookup := func(symbol string) (float64, bool) {
		p, ok := prices[symbol]
		return p, ok
	}

	resolutions := resolver.Pass(open, lookup, asOf)
	for _, r := range resolutions {
		if _, ok := lrn.ApplyResolution(r); !ok {
			continue
		}
		delete(open, r.CallID)
		result.Resolutions = append(result.Resolutions, r)
	}

	next := snap
	next.Version = snap.Version + 1
	next.SavedAt = asOf
	next.Knobs = reg.Values()
	next.GoLive = reg.GoLive()
	next.FeaturePenalties = lrn.FeaturePenalties()
	next.SourceBias = lrn.SourceBias()
	next.MarketObservations = lrn.Observations()
	next.AppliedEvents = lrn.AppliedEvents()
	next.Memory = book.States()
	next.OpenCalls = open

	if err := a.store.Save(ctx, next); err != nil {
		return ResolveResult{}, fmt.Errorf("save snapshot: %w", err)
	}

	// Journal rows are written only once the snapshot committed. A save
	// that fails closed leaves the journal untouched, so the retry pass
	// resolves the same calls without duplicating their rows.
	for _, r := range result.Resolutions {
		if err := a.reader.AppendJournal(telemetry.JournalEvent{
			Event:          telemetry.EventCallResolved,
			Timestamp:      r.ResolvedAt,
			CallID:         r.CallID,
			Outcome:        string(r.Outcome),
			RealizedReturn: r.RealizedReturn,
		}); err != nil {
			log.Warn().Str("call_id", r.CallID).Err(err).Msg("resolution journal append failed")
			continue
		}
		if a.metrics != nil {
			a.metrics.RecordResolution(string(r.Outcome))
		}
	}

	result.SnapshotVersion = next.Version
	result.OpenCalls = len(open)
	if a.metrics != nil {
		a.metrics.SnapshotVersion.Set(float64(next.Version))
		a.metrics.OpenCalls.Set(float64(len(open)))
	}

	log.Info().
		Int("version", next.Version).
		Int("ingested", result.CallsIngested).
		Int("resolved", len(result.Resolutions)).
		Int("open", result.OpenCalls).
		Msg("resolve pass complete")
	return result, nil
}
