package reeval

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/regime"
)

// Report is the full record of one reevaluation pass: the window it
// saw, the classification it reached, and what it proposed. Rejected
// proposals stay in the report with their reasons; they are outcomes,
// not errors.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`

	Window        regime.Window `json:"window"`
	Regime        regime.Regime `json:"regime"`
	LowConfidence bool          `json:"low_confidence"`

	// SampleSufficient is false when the pass hit the sample gate; the
	// window and classification are still recorded but nothing was
	// proposed.
	SampleSufficient bool `json:"sample_sufficient"`

	SnapshotVersion int `json:"snapshot_version"`

	Proposals []layers.Proposal `json:"proposals,omitempty"`
}

// Accepted returns the accepted subset of the report's proposals.
func (r Report) Accepted() []layers.Proposal {
	var out []layers.Proposal
	for _, p := range r.Proposals {
		if p.Accepted {
			out = append(out, p)
		}
	}
	return out
}

// ReportLog appends reports to a JSONL file and reads them back for
// the report CLI. History is append-only.
type ReportLog struct {
	path string
}

// NewReportLog builds a log over the given path.
func NewReportLog(path string) *ReportLog {
	return &ReportLog{path: path}
}

// Append writes one report as a single JSONL row.
func (l *ReportLog) Append(rep Report) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open report log: %w", err)
	}
	defer f.Close()

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

// List returns all recorded reports in append order. A missing log is
// an empty history.
func (l *ReportLog) List() ([]Report, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open report log: %w", err)
	}
	defer f.Close()

	var reports []Report
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rep Report
		if err := json.Unmarshal(line, &rep); err != nil {
			return nil, fmt.Errorf("decode report row: %w", err)
		}
		reports = append(reports, rep)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report log: %w", err)
	}
	return reports, nil
}

// Latest returns the newest report, or false when history is empty.
func (l *ReportLog) Latest() (Report, bool, error) {
	reports, err := l.List()
	if err != nil || len(reports) == 0 {
		return Report{}, false, err
	}
	return reports[len(reports)-1], true, nil
}

// newReportID mints the report identity.
func newReportID() string {
	return uuid.NewString()
}
