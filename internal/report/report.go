// Package report assembles analyzer outputs into one intelligence report and
// drives a full run: query, build, enrich and dispatch.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intelreport/internal/anomaly"
	"intelreport/internal/breakdown"
	"intelreport/internal/funnel"
	"intelreport/internal/intent"
	"intelreport/internal/metrics"
	"intelreport/internal/paths"
	"intelreport/internal/timeframe"
)

// Meta describes the window and the input a report was built from.
type Meta struct {
	Period          timeframe.Period `json:"period"`
	From            time.Time        `json:"from"`
	To              time.Time        `json:"to"`
	Label           string           `json:"label"`
	Timezone        string           `json:"timezone"`
	GeneratedAt     time.Time        `json:"generatedAt,omitzero"`
	Test            bool             `json:"test,omitempty"`
	EventsRead      int              `json:"eventsRead"`
	SkippedEvents   int              `json:"skippedEvents"`
	DuplicateEvents int              `json:"duplicateEvents"`
	Sessions        int              `json:"sessions"`
	OrderViolations int              `json:"orderViolations"`
}

// Totals are the headline numbers over the whole window.
type Totals struct {
	Sessions           int     `json:"sessions"`
	ConvertedSessions  int     `json:"convertedSessions"`
	Pageviews          int     `json:"pageviews"`
	UniqueVisitors     int     `json:"uniqueVisitors"`
	BounceSessions     int     `json:"bounceSessions"`
	BounceRate         float64 `json:"bounceRate"`
	ConversionRate     float64 `json:"conversionRate"`
	AvgSessionDuration float64 `json:"avgSessionDurationSeconds"`
}

// HighIntentSession is a high-scoring visit that stopped short of the final
// funnel stage.
type HighIntentSession struct {
	Key          string    `json:"key"`
	DeviceID     string    `json:"deviceId"`
	EntryPage    string    `json:"entryPage,omitempty"`
	Pages        []string  `json:"pages"`
	Score        int       `json:"score"`
	ReachedStage string    `json:"reachedStage,omitempty"`
	MissedStage  string    `json:"missedStage"`
	LastSeen     time.Time `json:"lastSeen"`
}

// AdsCampaign is one campaign row from the ads provider.
type AdsCampaign struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Spend       float64 `json:"spend"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	Conversions float64 `json:"conversions"`
	ROAS        float64 `json:"roas"`
}

// AdsMetrics are paid-traffic numbers for the window.
type AdsMetrics struct {
	Spend           float64       `json:"spend"`
	Clicks          int           `json:"clicks"`
	Impressions     int           `json:"impressions"`
	CTR             float64       `json:"ctr"`
	CPC             float64       `json:"cpc"`
	Conversions     float64       `json:"conversions"`
	ConversionValue float64       `json:"conversionValue"`
	ROAS            float64       `json:"roas"`
	Campaigns       []AdsCampaign `json:"campaigns,omitempty"`
}

// Report is the assembled intelligence report. Everything but Meta.GeneratedAt,
// Meta.Test and Ads is a pure function of the events and settings.
type Report struct {
	Meta       Meta                   `json:"meta"`
	Totals     Totals                 `json:"totals"`
	Daily      []metrics.Metric       `json:"daily"`
	Baselines  []metrics.Baseline     `json:"baselines"`
	Funnel     funnel.Result          `json:"funnel"`
	Anomalies  anomaly.Result         `json:"anomalies"`
	TopPaths   []paths.ConversionPath `json:"topConversionPaths"`
	Intent     intent.Distribution    `json:"intent"`
	HighIntent []HighIntentSession    `json:"highIntentSessions"`
	Breakdowns breakdown.Breakdowns   `json:"breakdowns"`
	Ads        *AdsMetrics            `json:"ads,omitempty"`
}

// Narrative is the human readable commentary on a report.
type Narrative struct {
	Summary         string   `json:"executiveSummary"`
	Insights        []string `json:"keyInsights"`
	Recommendations []string `json:"recommendations"`
	Risks           []string `json:"risks"`
	Opportunities   []string `json:"opportunities"`
	Generated       bool     `json:"generated"`
}

// Section names reported in RunResult.Sections.
const (
	SectionAds       = "ads"
	SectionNarrative = "narrative"
)

// SectionStatus records whether an optional section made it into the run.
type SectionStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DispatchOutcome is the result of a boundary side effect such as sending
// the report or archiving it.
type DispatchOutcome struct {
	Attempted bool   `json:"attempted"`
	Skipped   string `json:"skipped,omitempty"`
	Location  string `json:"location,omitempty"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// OK reports a successful attempt.
func (o DispatchOutcome) OK() bool {
	return o.Attempted && o.Err == nil
}

func skipped(reason string) DispatchOutcome {
	return DispatchOutcome{Skipped: reason}
}

func attempted(location string, err error) DispatchOutcome {
	o := DispatchOutcome{Attempted: true, Location: location, Err: err}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// RunOptions selects the period and whether dispatch is suppressed.
type RunOptions struct {
	Period timeframe.Period
	Test   bool
}

// RunResult is everything a run produced.
type RunResult struct {
	Report    *Report         `json:"report"`
	Narrative Narrative       `json:"narrative"`
	Sections  []SectionStatus `json:"sections"`
	Dispatch  DispatchOutcome `json:"dispatch"`
	Archive   DispatchOutcome `json:"archive"`
	Duration  time.Duration   `json:"-"`
}

// Section looks up a section status by name.
func (r *RunResult) Section(name string) (SectionStatus, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionStatus{}, false
}

// Narrator writes commentary for a report.
type Narrator interface {
	Narrate(ctx context.Context, r *Report) (Narrative, error)
}

// AdsProvider fetches paid-traffic metrics for a window.
type AdsProvider interface {
	Fetch(ctx context.Context, window timeframe.Window) (*AdsMetrics, error)
}

// Sender delivers a rendered report.
type Sender interface {
	Send(ctx context.Context, rendered Rendered, recipients []string) error
}

// Archiver stores a report and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, r *Report, n Narrative) (string, error)
}

// ErrRunTimeout is returned when a run exceeds its deadline. No partial
// report is returned with it.
var ErrRunTimeout = errors.New("report run timed out")

// DataAccessError wraps an event source failure.
type DataAccessError struct {
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("event source query failed: %v", e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid run or pipeline setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}
