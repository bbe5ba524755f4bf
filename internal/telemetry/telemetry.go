// Package telemetry reads the append-only logs external collaborators
// produce: the decision journal, portfolio snapshots, and per-cycle
// plan metadata. Each pass reads with a fixed upper timestamp bound
// taken at pass start, so logs growing mid-read cannot skew a window.
// Malformed rows are skipped and counted, never fatal.
package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradetune/internal/calls"
	"github.com/sawpanic/tradetune/internal/regime"
)

// Journal event kinds.
const (
	EventCallOpened   = "decision_call_opened"
	EventCallResolved = "decision_call_resolved"
	EventSymbolScored = "symbol_scored"
)

// JournalEvent is one decision-journal row. Fields beyond Event and
// Timestamp are populated per kind.
type JournalEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	// decision_call_opened
	Call *calls.Call `json:"call,omitempty"`

	// decision_call_resolved
	CallID         string  `json:"call_id,omitempty"`
	Outcome        string  `json:"outcome,omitempty"`
	RealizedReturn float64 `json:"realized_return,omitempty"`

	// symbol_scored
	Symbol        string                       `json:"symbol,omitempty"`
	Price         float64                      `json:"price,omitempty"`
	Score         float64                      `json:"score,omitempty"`
	SourceProfile map[string]calls.SourceStats `json:"source_profile,omitempty"`
}

// PortfolioSnapshot is one row of the portfolio stream.
type PortfolioSnapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Equity    float64    `json:"account_equity"`
	Cash      float64    `json:"cash"`
	Positions []Position `json:"positions,omitempty"`
}

// Position is a held instrument inside a portfolio snapshot.
type Position struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
}

// CycleRecord is one row of the plan-generation telemetry stream.
type CycleRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ExecuteOrders  bool      `json:"execute_orders"`
	OrdersProposed int       `json:"orders_proposed"`
	PlanGenerated  bool      `json:"plan_generated"`
	PlanUsed       bool      `json:"plan_used"`
	PlanConfidence *float64  `json:"plan_confidence,omitempty"`
}

// Reader loads the three telemetry streams from JSONL files. Missing
// files read as empty streams: a fresh deployment has no history yet.
type Reader struct {
	JournalPath   string
	PortfolioPath string
	CyclesPath    string
}

// NewReader builds a reader over the configured log paths.
func NewReader(journalPath, portfolioPath, cyclesPath string) *Reader {
	return &Reader{JournalPath: journalPath, PortfolioPath: portfolioPath, CyclesPath: cyclesPath}
}

// readJSONL feeds every non-empty line of a JSONL file to handle and
// counts the rows handle rejects as malformed. A missing file is an
// empty stream, not an error.
func readJSONL(path string, handle func(line []byte) bool) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !handle(line) {
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("read %s: %w", path, err)
	}
	return skipped, nil
}

// ReadJournal returns journal events within [from, to].
func (r *Reader) ReadJournal(from, to time.Time) ([]JournalEvent, int, error) {
	var events []JournalEvent
	skipped, err := readJSONL(r.JournalPath, func(line []byte) bool {
		var ev JournalEvent
		if json.Unmarshal(line, &ev) != nil || ev.Event == "" || ev.Timestamp.IsZero() {
			return false
		}
		if inRange(ev.Timestamp, from, to) {
			events = append(events, ev)
		}
		return true
	})
	return events, skipped, err
}

// ReadPortfolio returns portfolio snapshots within [from, to] in file
// order (the stream is append-only, hence time-ordered).
func (r *Reader) ReadPortfolio(from, to time.Time) ([]PortfolioSnapshot, int, error) {
	var snaps []PortfolioSnapshot
	skipped, err := readJSONL(r.PortfolioPath, func(line []byte) bool {
		var s PortfolioSnapshot
		if json.Unmarshal(line, &s) != nil || s.Timestamp.IsZero() || s.Equity < 0 {
			return false
		}
		if inRange(s.Timestamp, from, to) {
			snaps = append(snaps, s)
		}
		return true
	})
	return snaps, skipped, err
}

// ReadCycles returns plan-cycle records within [from, to].
func (r *Reader) ReadCycles(from, to time.Time) ([]CycleRecord, int, error) {
	var cycles []CycleRecord
	skipped, err := readJSONL(r.CyclesPath, func(line []byte) bool {
		var c CycleRecord
		if json.Unmarshal(line, &c) != nil || c.Timestamp.IsZero() {
			return false
		}
		if inRange(c.Timestamp, from, to) {
			cycles = append(cycles, c)
		}
		return true
	})
	return cycles, skipped, err
}

// BuildWindow aggregates the streams into the rolling metrics the
// regime classifier and sample gate consume. The window is recomputed
// from raw logs every pass and never persisted.
func (r *Reader) BuildWindow(from, to time.Time) (regime.Window, error) {
	w := regime.Window{Start: from.UTC(), End: to.UTC()}

	snaps, skippedPortfolio, err := r.ReadPortfolio(from, to)
	if err != nil {
		return w, err
	}
	journal, skippedJournal, err := r.ReadJournal(from, to)
	if err != nil {
		return w, err
	}
	cycles, skippedCycles, err := r.ReadCycles(from, to)
	if err != nil {
		return w, err
	}
	w.SkippedRecords = skippedPortfolio + skippedJournal + skippedCycles

	if len(snaps) > 0 {
		start := snaps[0].Equity
		end := snaps[len(snaps)-1].Equity
		if start > 0 {
			w.WindowReturn = end/start - 1.0
		}
		peak := start
		for _, s := range snaps {
			if s.Equity > peak {
				peak = s.Equity
			}
			if peak > 0 {
				dd := (peak - s.Equity) / peak
				if dd > w.MaxDrawdown {
					w.MaxDrawdown = dd
				}
			}
		}
	}

	for _, ev := range journal {
		if ev.Event != EventCallResolved {
			continue
		}
		switch calls.Status(ev.Outcome) {
		case calls.StatusResolvedGood:
			w.ResolvedCalls++
			w.GoodCalls++
		case calls.StatusResolvedBad:
			w.ResolvedCalls++
			w.BadCalls++
		case calls.StatusResolvedNeutral:
			w.ResolvedCalls++
		}
	}

	for _, c := range cycles {
		if c.ExecuteOrders {
			w.TradeCycles++
			if c.OrdersProposed == 0 {
				w.NoTradeCycles++
			}
		}
		if c.PlanGenerated {
			w.PlansGenerated++
			if c.PlanUsed {
				w.PlansUsed++
			} else {
				w.PlanFallbacks++
			}
		}
	}

	if w.SkippedRecords > 0 {
		log.Warn().Int("skipped", w.SkippedRecords).
			Time("from", from).Time("to", to).
			Msg("malformed telemetry rows skipped while building window")
	}
	return w, nil
}

// LatestPrices returns the newest observed price per symbol at or
// before asOf, merging portfolio positions and scoring events.
func (r *Reader) LatestPrices(asOf time.Time) (map[string]float64, error) {
	prices := make(map[string]float64)
	seen := make(map[string]time.Time)

	snaps, _, err := r.ReadPortfolio(time.Time{}, asOf)
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		for _, p := range s.Positions {
			if p.Price > 0 && !s.Timestamp.Before(seen[p.Symbol]) {
				prices[p.Symbol] = p.Price
				seen[p.Symbol] = s.Timestamp
			}
		}
	}

	journal, _, err := r.ReadJournal(time.Time{}, asOf)
	if err != nil {
		return nil, err
	}
	for _, ev := range journal {
		if ev.Event != EventSymbolScored || ev.Price <= 0 {
			continue
		}
		if !ev.Timestamp.Before(seen[ev.Symbol]) {
			prices[ev.Symbol] = ev.Price
			seen[ev.Symbol] = ev.Timestamp
		}
	}
	return prices, nil
}

// AppendJournal appends one event to the decision journal. The
// journal is the append-only record both the dashboard and later
// window builds read, so rows are written whole, one per line.
func (r *Reader) AppendJournal(ev JournalEvent) error {
	if err := os.MkdirAll(filepath.Dir(r.JournalPath), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(r.JournalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
