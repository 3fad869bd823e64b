package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal/config"
	"intelreport/internal/funnel"
	"intelreport/internal/metrics"
	"intelreport/internal/paths"
	"intelreport/internal/report"
	"intelreport/internal/testsupport"
	"intelreport/internal/timeframe"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppName:                "intelreport",
		Environment:            config.Test,
		Timezone:               "UTC",
		DatabaseName:           filepath.Join(t.TempDir(), "intelreport-test.db"),
		EventSource:            config.SourceSQLite,
		BaselineHistory:        config.HistoryEvents,
		InactivityGapMinutes:   30,
		BaselineWindowDays:     7,
		BaselineMinSamples:     7,
		AnomalyWarningZ:        2,
		AnomalyCriticalZ:       3,
		TopPathsLimit:          5,
		PathGranularity:        "stage",
		PathMaxLength:          10,
		IntentLookbackDays:     30,
		IntentMediumMin:        34,
		IntentHighMin:          67,
		HighIntentLimit:        10,
		BreakdownLimit:         10,
		RunTimeoutSeconds:      30,
		CollaboratorTimeoutSec: 5,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, clk clock.Clock) *Application {
	t.Helper()
	app, err := NewAppWithConfig(context.Background(), cfg, WithClock(clk), WithLogger(testsupport.GetLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	require.NoError(t, app.DBManager.MigrateDatabase())
	return app
}

func TestApplicationImportAndRun(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 7, 7, 12, 0, 0, 0, time.UTC))
	app := newTestApp(t, testConfig(t), clk)

	ndjson := strings.Join([]string{
		`{"id":"a1","deviceId":"d1","eventType":"pageview","path":"/","timestamp":1720353600000}`,
		`{"id":"a2","deviceId":"d1","eventType":"pageview","path":"/products/tea","timestamp":1720353660000}`,
		`{"id":"b1","deviceId":"d2","eventType":"pageview","path":"/","timestamp":1720357200000}`,
	}, "\n")
	imported, err := app.Importer().Import(strings.NewReader(ndjson))
	require.NoError(t, err)
	require.Equal(t, 3, imported.Inserted)

	clk.Set(time.Date(2024, 7, 8, 10, 0, 0, 0, time.UTC))

	res, err := app.Pipeline.Run(context.Background(), report.RunOptions{Period: timeframe.PeriodDaily, Test: true})
	require.NoError(t, err)
	assert.Equal(t, "2024-07-07", res.Report.Meta.Label)
	assert.Equal(t, 2, res.Report.Meta.Sessions)
	assert.Equal(t, 1, res.Report.Totals.BounceSessions)
	assert.Equal(t, "test run", res.Dispatch.Skipped)
	assert.False(t, res.Narrative.Generated)

	var stored int64
	require.NoError(t, app.DBManager.GetConnection().Model(&metrics.DailyMetric{}).Count(&stored).Error)
	assert.Zero(t, stored, "test runs do not record metrics")

	_, err = app.Pipeline.Run(context.Background(), report.RunOptions{Period: timeframe.PeriodDaily})
	require.NoError(t, err)
	require.NoError(t, app.DBManager.GetConnection().Model(&metrics.DailyMetric{}).Count(&stored).Error)
	assert.Equal(t, int64(len(metrics.Names)), stored)
}

func TestApplicationPing(t *testing.T) {
	app := newTestApp(t, testConfig(t), clock.NewMock())
	assert.NoError(t, app.Ping(context.Background()))
	assert.NotNil(t, app.NewServer().App())
}

func TestApplicationNewScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.SchedulePeriods = []string{"daily, weekly"}
	app := newTestApp(t, cfg, clock.NewMock())

	s, err := app.NewScheduler()
	require.NoError(t, err)
	assert.NotNil(t, s)

	cfg.SchedulePeriods = []string{"hourly"}
	_, err = app.NewScheduler()
	var cfgErr *report.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.PathGranularity = "page"
	cfg.AnomalyWarningZ, cfg.AnomalyCriticalZ = 1.5, 2.5

	st, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, paths.ByPage, st.Paths.Granularity)
	assert.Equal(t, 1.5, st.Detector.WarningZ)
	assert.Equal(t, 2.5, st.Detector.CriticalZ)
	assert.Equal(t, 7, st.Detector.MinSamples)
	assert.Equal(t, 30*time.Minute, st.InactivityGap)
	assert.Len(t, st.Stages, len(funnel.DefaultStages()))

	cfg.PathGranularity = "referrer"
	_, err = SettingsFromConfig(cfg)
	var cfgErr *report.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSettingsFromConfigStageFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.FunnelStagesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := SettingsFromConfig(cfg)
	var stageErr *funnel.ConfigurationError
	require.ErrorAs(t, err, &stageErr)

	_, err = NewAppWithConfig(context.Background(), cfg, WithLogger(testsupport.GetLogger()))
	assert.ErrorAs(t, err, &stageErr)

	file := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
stages:
  - name: visit
    order: 1
    match:
      event_types: [pageview]
  - name: signup
    order: 2
    match:
      event_names: [signup]
`), 0o644))
	cfg.FunnelStagesFile = file
	st, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, st.Stages, 2)
	assert.Equal(t, "signup", st.Stages[1].Name)
}
