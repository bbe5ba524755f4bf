package calls

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func newTestCall(symbol string, entry float64) *Call {
	return NewCall(symbol, KindEquity, entry, 0.72, map[string]float64{
		FeatureMomentum20d:    0.30,
		FeatureNewsScore:      0.18,
		FeatureAIShortTerm:    0.12,
		FeatureVolatilityRisk: 0.04,
	}, nil, t0)
}

func mustResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(48*time.Hour, -0.05, 0.05)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolver_HorizonGate(t *testing.T) {
	r := mustResolver(t)
	call := newTestCall("ACME", 100)

	// 47h in: untouched.
	if res := r.Resolve(call, 94, t0.Add(47*time.Hour)); res != nil {
		t.Fatalf("call resolved before horizon: %+v", res)
	}
	if call.Status != StatusOpen {
		t.Fatalf("status = %s, want open", call.Status)
	}

	// 49h in with -6%% return: resolves bad exactly once.
	res := r.Resolve(call, 94, t0.Add(49*time.Hour))
	if res == nil {
		t.Fatal("call not resolved after horizon")
	}
	if res.Outcome != StatusResolvedBad {
		t.Fatalf("outcome = %s, want resolved_bad", res.Outcome)
	}
	if res.RealizedReturn > -0.059 || res.RealizedReturn < -0.061 {
		t.Fatalf("realized return = %v, want -0.06", res.RealizedReturn)
	}
	if len(res.FailureTags) == 0 {
		t.Fatal("bad resolution has no failure tags")
	}
}

func TestResolver_Idempotent(t *testing.T) {
	r := mustResolver(t)
	call := newTestCall("ACME", 100)
	asOf := t0.Add(72 * time.Hour)

	first := r.Resolve(call, 108, asOf)
	if first == nil || first.Outcome != StatusResolvedGood {
		t.Fatalf("first resolve = %+v", first)
	}
	statusAfter := call.Status
	returnAfter := *call.RealizedReturn

	// Replaying the same pass must be a no-op.
	if again := r.Resolve(call, 90, asOf.Add(24*time.Hour)); again != nil {
		t.Fatalf("second resolve produced event: %+v", again)
	}
	if call.Status != statusAfter || *call.RealizedReturn != returnAfter {
		t.Fatal("resolved call mutated by replay")
	}
}

func TestResolver_Classification(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		want    Status
	}{
		{"bad at threshold", 95, StatusResolvedBad},
		{"neutral just above bad", 95.5, StatusResolvedNeutral},
		{"neutral", 100, StatusResolvedNeutral},
		{"good at threshold", 105, StatusResolvedGood},
		{"good above threshold", 112, StatusResolvedGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustResolver(t)
			call := newTestCall("ACME", 100)
			res := r.Resolve(call, tt.current, t0.Add(50*time.Hour))
			if res == nil {
				t.Fatal("no resolution")
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tt.want)
			}
		})
	}
}

func TestResolver_Pass(t *testing.T) {
	r := mustResolver(t)
	open := map[string]*Call{}
	young := newTestCall("YNG", 50)
	young.OpenedAt = t0.Add(30 * time.Hour)
	ripe := newTestCall("RIPE", 200)
	noPrice := newTestCall("MISS", 10)
	open[young.ID] = young
	open[ripe.ID] = ripe
	open[noPrice.ID] = noPrice

	prices := func(symbol string) (float64, bool) {
		switch symbol {
		case "YNG":
			return 55, true
		case "RIPE":
			return 188, true
		}
		return 0, false
	}

	resolutions := r.Pass(open, prices, t0.Add(49*time.Hour))
	if len(resolutions) != 1 {
		t.Fatalf("got %d resolutions, want 1", len(resolutions))
	}
	if resolutions[0].Symbol != "RIPE" || resolutions[0].Outcome != StatusResolvedBad {
		t.Fatalf("unexpected resolution: %+v", resolutions[0])
	}
	if young.Resolved() || noPrice.Resolved() {
		t.Fatal("ineligible calls were resolved")
	}
}

func TestRationaleAndFailureTags(t *testing.T) {
	profile := map[string]float64{
		FeatureMomentum20d:    0.40,
		FeatureNewsScore:      0.25,
		FeatureAIShortTerm:    0.10,
		FeatureMacroScore:     -0.05,
		FeatureVolatilityRisk: 0.12,
	}

	rationale := Rationale(profile, 3)
	if len(rationale) != 3 {
		t.Fatalf("rationale length = %d, want 3", len(rationale))
	}
	if rationale[0].Name != FeatureMomentum20d {
		t.Fatalf("top driver = %s, want momentum_20d", rationale[0].Name)
	}
	for _, d := range rationale {
		if d.Name == FeatureVolatilityRisk || d.Name == FeatureMacroScore {
			t.Fatalf("rationale includes excluded driver %s", d.Name)
		}
	}

	tags := FailureTags(profile, -0.07)
	wantTags := map[string]bool{TagMomentumReversal: true, TagNewsOverreaction: true, TagHighVolRegime: true}
	for _, tag := range tags {
		if !wantTags[tag] {
			t.Errorf("unexpected tag %s", tag)
		}
		delete(wantTags, tag)
	}
	for tag := range wantTags {
		t.Errorf("missing tag %s", tag)
	}

	if got := FailureTags(profile, 0.02); got != nil {
		t.Fatalf("positive return produced tags: %v", got)
	}
}
