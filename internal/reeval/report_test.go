package reeval

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sawpanic/tradetune/internal/layers"
	"github.com/sawpanic/tradetune/internal/regime"
)

func TestReportLog_AppendAndList(t *testing.T) {
	l := NewReportLog(filepath.Join(t.TempDir(), "reports.jsonl"))

	if reports, err := l.List(); err != nil || reports != nil {
		t.Fatalf("empty log: %v, %v", reports, err)
	}
	if _, ok, err := l.Latest(); err != nil || ok {
		t.Fatalf("Latest on empty log: ok=%v err=%v", ok, err)
	}

	for i := 1; i <= 3; i++ {
		rep := Report{
			ID:               newReportID(),
			GeneratedAt:      time.Date(2026, 3, i, 0, 0, 0, 0, time.UTC),
			Regime:           regime.Mixed,
			SampleSufficient: true,
			SnapshotVersion:  i,
			Proposals: []layers.Proposal{
				{KnobID: layers.KnobPlanTrustGate, Layer: layers.L1, Delta: -0.01, Accepted: true, NewValue: 0.59},
				{KnobID: layers.KnobMemoryAlpha, Layer: layers.L2, Delta: 0.5, Reason: layers.RejectStepCap},
			},
		}
		if err := l.Append(rep); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	reports, err := l.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("len = %d, want 3", len(reports))
	}
	if reports[0].SnapshotVersion != 1 || reports[2].SnapshotVersion != 3 {
		t.Fatalf("append order lost: %+v", reports)
	}

	latest, ok, err := l.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.SnapshotVersion != 3 {
		t.Fatalf("latest version = %d", latest.SnapshotVersion)
	}
	if got := latest.Accepted(); len(got) != 1 || got[0].KnobID != layers.KnobPlanTrustGate {
		t.Fatalf("Accepted = %+v", got)
	}
	if latest.Proposals[1].Reason != layers.RejectStepCap {
		t.Fatalf("rejection reason lost: %+v", latest.Proposals[1])
	}
}
