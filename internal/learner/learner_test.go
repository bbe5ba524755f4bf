package learner

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradetune/internal/calls"
)

func testConfig() Config {
	return Config{
		LearningRate:           0.12,
		MaxFeaturePenalty:      0.60,
		MaterialityThreshold:   0.05,
		SourceLearningRate:     0.18,
		MaxSourceBias:          0.80,
		MarketReactionStrength: 0.35,
		ReturnUnit:             0.05,
	}
}

func badResolution(eventID string, ret float64) calls.Resolution {
	return calls.Resolution{
		EventID:        eventID,
		CallID:         "c1",
		Symbol:         "ACME",
		Outcome:        calls.StatusResolvedBad,
		RealizedReturn: ret,
		FeatureProfile: map[string]float64{
			calls.FeatureMomentum20d: 0.30,
			calls.FeatureNewsScore:   0.20,
			calls.FeatureAIShortTerm: 0.02, // below materiality
		},
		SourceProfile: map[string]calls.SourceStats{
			SourceNews:   {Sentiment: 0.8, Count: 4},
			SourceSocial: {Sentiment: -0.2, Count: 1},
		},
	}
}

func TestLearner_BadResolutionPenalizesMaterialFeatures(t *testing.T) {
	l := New(testConfig())

	up, applied := l.ApplyResolution(badResolution("e1", -0.06))
	require.True(t, applied)

	penalties := l.FeaturePenalties()
	assert.Greater(t, penalties[calls.FeatureMomentum20d], 0.0)
	assert.Greater(t, penalties[calls.FeatureNewsScore], 0.0)
	assert.Zero(t, penalties[calls.FeatureAIShortTerm], "immaterial feature was penalized")
	assert.Len(t, up.FeatureDeltas, 2)

	// Bullish news before a losing move weakens the news source.
	assert.Less(t, l.SourceBias()[SourceNews], 0.0)
}

func TestLearner_GoodResolutionLeavesPenalties(t *testing.T) {
	l := New(testConfig())
	_, _ = l.ApplyResolution(badResolution("e1", -0.06))
	before := l.FeaturePenalties()

	good := badResolution("e2", 0.08)
	good.Outcome = calls.StatusResolvedGood
	up, applied := l.ApplyResolution(good)
	require.True(t, applied)

	assert.Empty(t, up.FeatureDeltas)
	assert.Equal(t, before, l.FeaturePenalties())
	// Source bias still learns from the aligned move.
	assert.NotEmpty(t, up.SourceDeltas)
}

func TestLearner_ReplayIsNoOp(t *testing.T) {
	l := New(testConfig())

	_, applied := l.ApplyResolution(badResolution("e1", -0.06))
	require.True(t, applied)
	after := l.FeaturePenalties()

	_, again := l.ApplyResolution(badResolution("e1", -0.06))
	assert.False(t, again, "replayed event was applied twice")
	assert.Equal(t, after, l.FeaturePenalties())
}

func TestLearner_PenaltyBoundedUnderRepeatedBadCalls(t *testing.T) {
	cfg := testConfig()
	l := New(cfg)

	for i := 0; i < 500; i++ {
		res := badResolution(fmt.Sprintf("evt-%d", i), -0.10)
		l.ApplyResolution(res)
	}

	for key, p := range l.FeaturePenalties() {
		assert.LessOrEqual(t, p, cfg.MaxFeaturePenalty, "feature %s exceeded ceiling", key)
		assert.GreaterOrEqual(t, p, 0.0)
	}
	for key, b := range l.SourceBias() {
		assert.LessOrEqual(t, b, cfg.MaxSourceBias, "source %s above ceiling", key)
		assert.GreaterOrEqual(t, b, -cfg.MaxSourceBias, "source %s below floor", key)
	}
}

func TestLearner_MarketReactionWithoutTrade(t *testing.T) {
	l := New(testConfig())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	profile := map[string]calls.SourceStats{
		SourceFiling: {Sentiment: 0.9, Count: 2},
	}

	// First observation only seeds state.
	deltas := l.ObserveMarket("ACME", 100, profile, now)
	assert.Empty(t, deltas)

	// Next cycle the price confirms the filing sentiment.
	deltas = l.ObserveMarket("ACME", 104, profile, now.Add(24*time.Hour))
	require.NotEmpty(t, deltas)
	assert.Greater(t, l.SourceBias()[SourceFiling], 0.0)

	// Market-reaction steps are weaker than post-trade steps.
	l2 := New(testConfig())
	res := calls.Resolution{
		EventID: "e1", Outcome: calls.StatusResolvedNeutral, RealizedReturn: 0.04,
		SourceProfile: profile,
	}
	l2.ApplyResolution(res)
	assert.Greater(t, l2.SourceBias()[SourceFiling], l.SourceBias()[SourceFiling])
}

func TestLearner_AdjustmentAndMultiplier(t *testing.T) {
	l := New(testConfig())
	l.Restore(map[string]float64{calls.FeatureNewsScore: 0.30}, map[string]float64{SourceNews: -0.50}, nil, nil)

	adj := l.Adjustment(map[string]float64{calls.FeatureNewsScore: 0.20, calls.FeatureTrend20d: 0.10})
	assert.InDelta(t, -0.06, adj, 1e-9)

	assert.InDelta(t, 0.5, l.SourceMultiplier(SourceNews), 1e-9)
	assert.InDelta(t, 1.0, l.SourceMultiplier(SourceAnalyst), 1e-9)
	assert.InDelta(t, 1.0, l.SourceMultiplier(""), 1e-9)
}

func TestLearner_RestoreReclamps(t *testing.T) {
	l := New(testConfig())
	l.Restore(
		map[string]float64{calls.FeatureMomentum20d: 5.0},
		map[string]float64{SourceSocial: -3.0},
		nil,
		[]string{"e9"},
	)

	assert.Equal(t, 0.60, l.FeaturePenalties()[calls.FeatureMomentum20d])
	assert.Equal(t, -0.80, l.SourceBias()[SourceSocial])

	_, applied := l.ApplyResolution(calls.Resolution{EventID: "e9", Outcome: calls.StatusResolvedBad, RealizedReturn: -0.06})
	assert.False(t, applied, "restored applied event replayed")
}

func TestLearner_Decay(t *testing.T) {
	l := New(testConfig())
	l.Restore(map[string]float64{calls.FeatureNewsScore: 0.40}, nil, nil, nil)

	l.Decay(0.5)
	assert.InDelta(t, 0.20, l.FeaturePenalties()[calls.FeatureNewsScore], 1e-9)

	// Out-of-range factors are ignored.
	l.Decay(1.5)
	assert.InDelta(t, 0.20, l.FeaturePenalties()[calls.FeatureNewsScore], 1e-9)
}
