package report_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal/anomaly"
	"intelreport/internal/events"
	"intelreport/internal/funnel"
	"intelreport/internal/intent"
	"intelreport/internal/metrics"
	"intelreport/internal/report"
)

func TestBuildStorefrontDay(t *testing.T) {
	rep, err := report.Build(context.Background(), storefront(), dailyWindow(), report.DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, "2024-07-07", rep.Meta.Label)
	assert.Equal(t, 30, rep.Meta.Sessions)
	assert.Equal(t, 1, rep.Meta.SkippedEvents)
	assert.Equal(t, 1, rep.Meta.DuplicateEvents)
	assert.Zero(t, rep.Meta.GeneratedAt)

	assert.Equal(t, 30, rep.Totals.Sessions)
	assert.Equal(t, 1, rep.Totals.ConvertedSessions)
	assert.Equal(t, 28, rep.Totals.BounceSessions)
	assert.Equal(t, 30, rep.Totals.UniqueVisitors)

	counts := make([]int, len(rep.Funnel.Stages))
	for i, s := range rep.Funnel.Stages {
		counts[i] = s.Count
	}
	assert.Equal(t, []int{30, 2, 2, 2, 1}, counts)
	require.NotNil(t, rep.Funnel.BiggestDropOff)
	assert.Equal(t, "landing", rep.Funnel.BiggestDropOff.From)

	assert.Len(t, rep.Daily, len(metrics.Names))
	assert.Len(t, rep.Baselines, len(metrics.Names))
	assert.Equal(t, 6, rep.Anomalies.Evaluated)

	var sessionsAnomaly *anomaly.Anomaly
	for i, a := range rep.Anomalies.Anomalies {
		if a.Metric == metrics.Sessions {
			sessionsAnomaly = &rep.Anomalies.Anomalies[i]
		}
	}
	require.NotNil(t, sessionsAnomaly)
	assert.Equal(t, anomaly.SeverityCritical, sessionsAnomaly.Severity)
	assert.Equal(t, anomaly.DirectionIncrease, sessionsAnomaly.Direction)
	assert.InDelta(t, 62.0/7.0, sessionsAnomaly.Expected, 1e-9)

	require.Len(t, rep.TopPaths, 1)
	assert.Equal(t, []string{"landing", "product_view", "add_to_cart", "begin_checkout", "purchase"}, rep.TopPaths[0].Steps)

	assert.Equal(t, 1, rep.Intent.High)
	assert.Equal(t, 1, rep.Intent.Medium)
	assert.Equal(t, 28, rep.Intent.Low)

	require.Len(t, rep.HighIntent, 1)
	assert.Equal(t, "eager#0", rep.HighIntent[0].Key)
	assert.Equal(t, "begin_checkout", rep.HighIntent[0].ReachedStage)
	assert.Equal(t, "purchase", rep.HighIntent[0].MissedStage)
	assert.Equal(t, 78, rep.HighIntent[0].Score)
	assert.Len(t, rep.HighIntent[0].Pages, 10)

	require.NotEmpty(t, rep.Breakdowns.TopPages)
	assert.Equal(t, "/", rep.Breakdowns.TopPages[0].Path)
	assert.Equal(t, 30, rep.Breakdowns.TopPages[0].Views)
}

func TestBuildIsDeterministic(t *testing.T) {
	evs := storefront()
	first, err := report.Build(context.Background(), evs, dailyWindow(), report.DefaultSettings())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]events.RawEvent(nil), evs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		again, err := report.Build(context.Background(), shuffled, dailyWindow(), report.DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildShortHistorySkipsAnomalies(t *testing.T) {
	settings := report.DefaultSettings()
	settings.BaselineWindowDays = 3

	rep, err := report.Build(context.Background(), storefront(), dailyWindow(), settings)
	require.NoError(t, err)

	assert.Empty(t, rep.Anomalies.Anomalies)
	assert.Len(t, rep.Anomalies.Skipped, len(metrics.Names))
	assert.Zero(t, rep.Anomalies.Evaluated)
}

func TestBuildUsesProvidedHistory(t *testing.T) {
	settings := report.DefaultSettings()
	history := metrics.NewHistory(nil)
	for d := 1; d <= 7; d++ {
		history.Add(metrics.Metric{Name: metrics.Sessions, Date: reportDay.AddDate(0, 0, -d), Value: 30})
	}
	settings.History = history

	rep, err := report.Build(context.Background(), storefront(), dailyWindow(), settings)
	require.NoError(t, err)

	for _, a := range rep.Anomalies.Anomalies {
		assert.NotEqual(t, metrics.Sessions, a.Metric, "sessions match the stored baseline exactly")
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	rep, err := report.Build(context.Background(), nil, dailyWindow(), report.DefaultSettings())
	require.NoError(t, err)

	assert.Zero(t, rep.Totals.Sessions)
	assert.Zero(t, rep.Funnel.OverallConversion)
	assert.Empty(t, rep.TopPaths)
	assert.Empty(t, rep.HighIntent)
	assert.Equal(t, intent.Distribution{}, rep.Intent)
}

func TestBuildRejectsInvalidStages(t *testing.T) {
	settings := report.DefaultSettings()
	settings.Stages = settings.Stages[:1]

	_, err := report.Build(context.Background(), storefront(), dailyWindow(), settings)
	var cfgErr *funnel.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := report.Build(ctx, storefront(), dailyWindow(), report.DefaultSettings())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rep)
}
