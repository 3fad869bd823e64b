package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal/anomaly"
	"intelreport/internal/report"
	"intelreport/internal/timeframe"
)

func sampleReport() *report.Report {
	pct := 35.0
	return &report.Report{
		Meta:   report.Meta{Period: timeframe.PeriodDaily, Label: "2024-07-07"},
		Totals: report.Totals{Sessions: 42},
		Anomalies: anomaly.Result{Anomalies: []anomaly.Anomaly{{
			Metric: "sessions", Date: time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC),
			Observed: 135, Expected: 100, ZScore: 3.5, PercentChange: &pct,
			Direction: anomaly.DirectionIncrease, Severity: anomaly.SeverityCritical,
		}}},
	}
}

func TestHTTPNarrator(t *testing.T) {
	var got narrativeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"executiveSummary":"Strong day.","keyInsights":["Sessions up"],"recommendations":["Keep going"]}`))
	}))
	defer srv.Close()

	n := NewHTTPNarrator(srv.URL, "secret", time.Second)
	out, err := n.Narrate(context.Background(), sampleReport())
	require.NoError(t, err)

	assert.Equal(t, "Strong day.", out.Summary)
	assert.Equal(t, []string{"Sessions up"}, out.Insights)
	assert.Equal(t, 42, got.Report.Totals.Sessions)
	assert.Equal(t, []string{"sessions on 2024-07-07 up 35% vs baseline (135 vs 100, z=3.5)"}, got.Highlights)
}

func TestHTTPNarratorFailures(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusBadGateway, `upstream down`, "returned 502: upstream down"},
		{"empty summary", http.StatusOK, `{"executiveSummary":"  "}`, "no executive summary"},
		{"bad json", http.StatusOK, `{"executiveSummary":`, "decode response"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPNarrator(srv.URL, "", time.Second).Narrate(context.Background(), sampleReport())
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestHTTPNarratorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPNarrator(srv.URL, "", time.Minute).Narrate(ctx, sampleReport())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnconfiguredCollaboratorsAreNil(t *testing.T) {
	assert.Nil(t, NewHTTPNarrator("", "key", time.Second))
	assert.Nil(t, NewHTTPAdsProvider(" ", "key", time.Second))
}

func TestHTTPAdsProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "2024-07-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-07-07", r.URL.Query().Get("to"))
		assert.Equal(t, "acct-1", r.URL.Query().Get("account"))
		_, _ = w.Write([]byte(`{"spend":200,"clicks":400,"impressions":10000,"conversionValue":500,
			"campaigns":[{"id":"c1","name":"Summer","spend":200,"clicks":400}]}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 7, 8, 9, 0, 0, 0, time.UTC)
	window := timeframe.Resolve(timeframe.PeriodWeekly, now, time.UTC)

	m, err := NewHTTPAdsProvider(srv.URL+"?account=acct-1", "k", time.Second).Fetch(context.Background(), window)
	require.NoError(t, err)

	assert.Equal(t, 200.0, m.Spend)
	assert.InDelta(t, 0.04, m.CTR, 1e-9)
	assert.InDelta(t, 0.5, m.CPC, 1e-9)
	assert.InDelta(t, 2.5, m.ROAS, 1e-9)
	require.Len(t, m.Campaigns, 1)
	assert.Equal(t, "Summer", m.Campaigns[0].Name)
}

func TestHTTPAdsProviderUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	window := timeframe.Resolve(timeframe.PeriodDaily, time.Now(), time.UTC)
	_, err := NewHTTPAdsProvider(srv.URL, "bad", time.Second).Fetch(context.Background(), window)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
}
