package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()

	r.Run("daily", OutcomeSuccess, 2*time.Second)
	r.Run("daily", OutcomeSuccess, time.Second)
	r.Run("weekly", OutcomeTimeout, time.Minute)
	r.Events(120, 3)
	r.Sessions(40)
	r.Anomaly("critical")
	r.Collaborator("email", nil)
	r.Collaborator("email", errors.New("relay down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("daily", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("weekly", OutcomeTimeout)))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.eventsRead))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.eventsSkipped))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collaborators.WithLabelValues("email", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collaborators.WithLabelValues("email", OutcomeSuccess)))
}

func TestRecorderRegistryGathers(t *testing.T) {
	r := NewRecorder()
	r.Run("monthly", OutcomeFailure, 0)

	expected := `
# HELP intelreport_runs_total Report runs by period and outcome
# TYPE intelreport_runs_total counter
intelreport_runs_total{outcome="failure",period="monthly"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "intelreport_runs_total"))
}
