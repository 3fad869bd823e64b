package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal"
	"intelreport/internal/config"
	"intelreport/internal/report"
	"intelreport/internal/testsupport"
)

func newApp(t *testing.T) *internal.Application {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)
	t.Setenv("INTELREPORT_ENV", config.Test)
	t.Setenv("INTELREPORT_STORAGE_PATH", t.TempDir())

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 7, 8, 10, 0, 0, 0, time.UTC))

	app, err := internal.NewApp(context.Background(), internal.WithClock(clk), internal.WithLogger(testsupport.GetLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestFindCommand(t *testing.T) {
	for _, name := range []string{"run", "serve", "migrate", "import", "help"} {
		assert.NotNil(t, findCommand(name), name)
	}
	assert.Nil(t, findCommand("seed"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(&report.ConfigurationError{Field: "period", Reason: "bad"}))
	assert.Equal(t, 3, exitCode(report.ErrRunTimeout))
	assert.Equal(t, 1, exitCode(&report.DataAccessError{Err: errors.New("down")}))
}

func TestImportThenRunText(t *testing.T) {
	app := newApp(t)

	file := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(file, []byte(
		`{"id":"a1","deviceId":"d1","eventType":"pageview","path":"/","timestamp":1720353600000,"receivedAt":"2024-07-07T12:00:00Z"}`+"\n"), 0o644))
	require.NoError(t, (&ImportCommand{}).Execute(context.Background(), app, []string{file}))

	var out bytes.Buffer
	run := &RunCommand{out: &out}
	require.NoError(t, run.Execute(context.Background(), app, []string{"--period", "daily", "--test", "--format", "text"}))
	assert.Contains(t, out.String(), "INTELLIGENCE REPORT")
	assert.Contains(t, out.String(), "2024-07-07")
}

func TestRunRejectsUnknownPeriod(t *testing.T) {
	app := newApp(t)
	err := (&RunCommand{out: &bytes.Buffer{}}).Execute(context.Background(), app, []string{"--period", "hourly"})
	var cfgErr *report.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
