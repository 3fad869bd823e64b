package intent_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal/events"
	"intelreport/internal/intent"
	"intelreport/internal/sessions"
	"intelreport/internal/testsupport"
)

var t0 = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

// visit builds a session of n events spread evenly over d.
func visit(device string, n int, d time.Duration) sessions.Session {
	evs := make([]events.RawEvent, n)
	for i := range evs {
		offset := time.Duration(0)
		if n > 1 {
			offset = d * time.Duration(i) / time.Duration(n-1)
		}
		evs[i] = testsupport.Event(fmt.Sprintf("%s-%d", device, i), device, t0.Add(offset))
	}
	return sessions.Reconstruct(evs, time.Hour).Sessions[0]
}

func TestScoreBounds(t *testing.T) {
	scorer := intent.NewScorer(intent.DefaultConfig())

	low := scorer.Score(intent.Input{Session: visit("d1", 2, 0), Rank: intent.NoStage, StageCount: 5})
	assert.Equal(t, 5, low.Value) // 0.25 * 2/10
	assert.Equal(t, intent.TierLow, low.Tier)

	max := scorer.Score(intent.Input{Session: visit("d2", 40, 30*time.Minute), Rank: 4, StageCount: 5, Returning: true})
	assert.Equal(t, 100, max.Value)
	assert.Equal(t, intent.TierHigh, max.Tier)
	assert.Equal(t, intent.Factors{Depth: 1, Duration: 1, Stage: 1, Returning: 1}, max.Factors)
}

func TestScoreWeightedCombination(t *testing.T) {
	scorer := intent.NewScorer(intent.DefaultConfig())

	// depth 5/10, duration 300/600, stage 3/5, new visitor
	sc := scorer.Score(intent.Input{Session: visit("d1", 5, 5*time.Minute), Rank: 2, StageCount: 5})
	assert.InDelta(t, 0.5, sc.Factors.Depth, 1e-9)
	assert.InDelta(t, 0.5, sc.Factors.Duration, 1e-9)
	assert.InDelta(t, 0.6, sc.Factors.Stage, 1e-9)
	// 0.125 + 0.125 + 0.21 = 0.46
	assert.Equal(t, 46, sc.Value)
	assert.Equal(t, intent.TierMedium, sc.Tier)

	returning := scorer.Score(intent.Input{Session: visit("d1", 5, 5*time.Minute), Rank: 2, StageCount: 5, Returning: true})
	assert.Equal(t, 61, returning.Value)
}

func TestScoreDeeperStageScoresHigher(t *testing.T) {
	scorer := intent.NewScorer(intent.DefaultConfig())
	s := visit("d1", 3, time.Minute)
	prev := -1
	for rank := -1; rank < 5; rank++ {
		v := scorer.Score(intent.Input{Session: s, Rank: rank, StageCount: 5}).Value
		assert.Greater(t, v, prev, "rank %d", rank)
		prev = v
	}
}

func TestTierThresholdsAreConfigurable(t *testing.T) {
	def := intent.NewScorer(intent.DefaultConfig())
	assert.Equal(t, intent.TierLow, def.Tier(33))
	assert.Equal(t, intent.TierMedium, def.Tier(34))
	assert.Equal(t, intent.TierMedium, def.Tier(66))
	assert.Equal(t, intent.TierHigh, def.Tier(67))

	cfg := intent.DefaultConfig()
	cfg.MediumMin, cfg.HighMin = 20, 50
	custom := intent.NewScorer(cfg)
	assert.Equal(t, intent.TierMedium, custom.Tier(33))
	assert.Equal(t, intent.TierHigh, custom.Tier(50))
}

func TestZeroMediumThresholdIsKept(t *testing.T) {
	cfg := intent.DefaultConfig()
	cfg.MediumMin = 0
	scorer := intent.NewScorer(cfg)
	assert.Equal(t, intent.TierMedium, scorer.Tier(0))
	assert.Equal(t, intent.TierMedium, scorer.Tier(33))
	assert.Equal(t, intent.TierHigh, scorer.Tier(67))
}

func TestNewScorerFillsDefaults(t *testing.T) {
	scorer := intent.NewScorer(intent.Config{})
	sc := scorer.Score(intent.Input{Session: visit("d1", 5, 5*time.Minute), Rank: 2, StageCount: 5})
	assert.Equal(t, 46, sc.Value)
}

func TestReturningWithinLookback(t *testing.T) {
	evs := []events.RawEvent{
		testsupport.Event("a", "d1", t0),
		testsupport.Event("b", "d1", t0.Add(2*time.Hour)),
		testsupport.Event("c", "d1", t0.Add(40*24*time.Hour)),
		testsupport.Event("d", "d2", t0.Add(time.Hour)),
	}
	list := sessions.Reconstruct(evs, 30*time.Minute).Sessions
	require.Len(t, list, 4)

	flags := intent.Returning(list, 30*24*time.Hour)
	got := map[string]bool{}
	for i, s := range list {
		got[s.Key] = flags[i]
	}
	assert.Equal(t, map[string]bool{"d1#0": false, "d1#1": true, "d1#2": false, "d2#0": false}, got)
}

func TestDistribute(t *testing.T) {
	d := intent.Distribute([]intent.Score{
		{Value: 10, Tier: intent.TierLow},
		{Value: 50, Tier: intent.TierMedium},
		{Value: 80, Tier: intent.TierHigh},
		{Value: 91, Tier: intent.TierHigh},
	})
	assert.Equal(t, intent.Distribution{Low: 1, Medium: 1, High: 2, Average: 57.8}, d)
	assert.Equal(t, intent.Distribution{}, intent.Distribute(nil))
}
