package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg := GetConfig()
	assert.Equal(t, "intelreport", cfg.AppName)
	assert.Equal(t, SourceSQLite, cfg.EventSource)
	assert.Equal(t, HistoryEvents, cfg.BaselineHistory)
	assert.Equal(t, 30*time.Minute, cfg.InactivityGap())
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout())
	assert.Equal(t, 7, cfg.BaselineMinSamples)
	assert.Equal(t, 2.0, cfg.AnomalyWarningZ)
	assert.Equal(t, 3.0, cfg.AnomalyCriticalZ)
	assert.Equal(t, "storage/intelreport-development.db", cfg.GetDatabasePath())
	assert.Equal(t, 12, cfg.ScheduleHour)
	assert.Equal(t, []string{"daily"}, cfg.SchedulePeriodList())
	assert.Zero(t, cfg.EventRetentionDays)
}

func TestGetConfigFromEnvironment(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("INTELREPORT_ENV", Test)
	t.Setenv("INTELREPORT_TIMEZONE", "America/New_York")
	t.Setenv("INTELREPORT_BASELINE_WINDOW_DAYS", "14")
	t.Setenv("INTELREPORT_RECIPIENTS", "ops@example.com, founder@example.com")

	cfg := GetConfig()
	require.True(t, cfg.IsTest())
	assert.Equal(t, "America/New_York", cfg.Location().String())
	assert.Equal(t, 14, cfg.BaselineWindowDays)
	assert.Equal(t, []string{"ops@example.com", "founder@example.com"}, cfg.RecipientList())
	assert.Equal(t, 1, cfg.GetMaxOpenConns())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:          Development,
			EventSource:          SourceSQLite,
			BaselineHistory:      HistoryEvents,
			InactivityGapMinutes: 30,
			BaselineWindowDays:   7,
			AnomalyWarningZ:      2,
			AnomalyCriticalZ:     3,
			IntentLookbackDays:   30,
			IntentMediumMin:      34,
			IntentHighMin:        67,
			Timezone:             "UTC",
		}
	}
	require.NoError(t, valid().validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }},
		{"event source", func(c *Config) { c.EventSource = "kafka" }},
		{"history", func(c *Config) { c.BaselineHistory = "memcached" }},
		{"gap", func(c *Config) { c.InactivityGapMinutes = 0 }},
		{"window", func(c *Config) { c.BaselineWindowDays = -1 }},
		{"thresholds", func(c *Config) { c.AnomalyCriticalZ = 1 }},
		{"tiers", func(c *Config) { c.IntentMediumMin = 80 }},
		{"negative tier", func(c *Config) { c.IntentMediumMin = -1 }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"schedule hour", func(c *Config) { c.ScheduleHour = 24 }},
		{"retention", func(c *Config) { c.EventRetentionDays = 30 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.Error(t, c.validate())
		})
	}
}
