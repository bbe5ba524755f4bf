package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sawpanic/tradetune/internal/regime"
)

func TestRegistry_Records(t *testing.T) {
	r := NewRegistry()

	r.RecordPass("reevaluate", nil)
	r.RecordPass("reevaluate", nil)
	r.RecordPass("resolve", errors.New("boom"))
	if got := testutil.ToFloat64(r.PassesTotal.WithLabelValues("reevaluate", "ok")); got != 2 {
		t.Errorf("reevaluate ok = %v", got)
	}
	if got := testutil.ToFloat64(r.PassesTotal.WithLabelValues("resolve", "error")); got != 1 {
		t.Errorf("resolve error = %v", got)
	}

	r.RecordResolution("resolved_bad")
	if got := testutil.ToFloat64(r.ResolutionsTotal.WithLabelValues("resolved_bad")); got != 1 {
		t.Errorf("resolutions = %v", got)
	}

	r.RecordProposal(true, "")
	r.RecordProposal(false, "step_cap_exceeded")
	if got := testutil.ToFloat64(r.ProposalsTotal.WithLabelValues("accepted")); got != 1 {
		t.Errorf("accepted = %v", got)
	}
	if got := testutil.ToFloat64(r.ProposalsTotal.WithLabelValues("step_cap_exceeded")); got != 1 {
		t.Errorf("rejected = %v", got)
	}

	r.SnapshotVersion.Set(12)
	if got := testutil.ToFloat64(r.SnapshotVersion); got != 12 {
		t.Errorf("snapshot version = %v", got)
	}

	r.SetRegime(regime.Stressed)
	if got := testutil.ToFloat64(r.ActiveRegime); got != 2 {
		t.Errorf("active regime = %v", got)
	}
	r.SetRegime(regime.Stable)
	if got := testutil.ToFloat64(r.ActiveRegime); got != 0 {
		t.Errorf("active regime = %v", got)
	}
}

func TestRegistry_IndependentInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.RecordResolution("resolved_good")
	if got := testutil.ToFloat64(b.ResolutionsTotal.WithLabelValues("resolved_good")); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}
