package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"intelreport/internal/anomaly"
	"intelreport/internal/breakdown"
	"intelreport/internal/events"
	"intelreport/internal/funnel"
	"intelreport/internal/intent"
	"intelreport/internal/metrics"
	"intelreport/internal/paths"
	"intelreport/internal/pkg/async"
	"intelreport/internal/sessions"
	"intelreport/internal/timeframe"
)

// Settings tune the analyzers. The zero value of every field falls back to
// a default; no stages means the default funnel.
type Settings struct {
	Stages             []funnel.Stage
	InactivityGap      time.Duration
	BaselineWindowDays int
	Detector           anomaly.Detector
	TopPaths           int
	Paths              paths.Options
	Intent             intent.Config
	IntentLookbackDays int
	HighIntentLimit    int
	BreakdownLimit     int
	Workers            int

	// History replaces the metric history derived from events when set, e.g.
	// one loaded from a metric store. Build adds the window's metrics to it.
	History *metrics.History
}

// DefaultSettings uses the default funnel and analyzer calibration.
func DefaultSettings() Settings {
	return Settings{
		Stages:             funnel.DefaultStages(),
		InactivityGap:      sessions.DefaultInactivityGap,
		BaselineWindowDays: 7,
		Detector:           anomaly.NewDetector(7),
		TopPaths:           5,
		Paths:              paths.Options{Granularity: paths.ByStage, MaxLength: paths.DefaultMaxLength},
		Intent:             intent.DefaultConfig(),
		IntentLookbackDays: 30,
		HighIntentLimit:    10,
		BreakdownLimit:     10,
		Workers:            4,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if len(s.Stages) == 0 {
		s.Stages = def.Stages
	}
	if s.InactivityGap <= 0 {
		s.InactivityGap = def.InactivityGap
	}
	if s.BaselineWindowDays <= 0 {
		s.BaselineWindowDays = def.BaselineWindowDays
	}
	if s.Detector == (anomaly.Detector{}) {
		s.Detector = def.Detector
	}
	if s.TopPaths <= 0 {
		s.TopPaths = def.TopPaths
	}
	if s.Paths.Granularity == "" {
		s.Paths.Granularity = def.Paths.Granularity
	}
	if s.Paths.MaxLength <= 0 {
		s.Paths.MaxLength = def.Paths.MaxLength
	}
	if s.IntentLookbackDays <= 0 {
		s.IntentLookbackDays = def.IntentLookbackDays
	}
	if s.HighIntentLimit <= 0 {
		s.HighIntentLimit = def.HighIntentLimit
	}
	if s.BreakdownLimit <= 0 {
		s.BreakdownLimit = def.BreakdownLimit
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	s.Paths.Stages = s.Stages
	return s
}

// Lookback is how many days before the window the event query must reach so
// baselines and returning-visitor checks see enough history.
func (s Settings) Lookback() int {
	s = s.withDefaults()
	if s.History != nil {
		return s.IntentLookbackDays
	}
	return max(s.BaselineWindowDays, s.IntentLookbackDays)
}

// Build assembles the report for window from evs. evs may reach back before
// the window; earlier sessions only feed baselines and returning-visitor
// detection. Build reads no clock and performs no I/O, so the same events and
// settings always give the same report.
func Build(ctx context.Context, evs []events.RawEvent, window timeframe.Window, settings Settings) (*Report, error) {
	st := settings.withDefaults()
	stages, err := funnel.Normalize(st.Stages)
	if err != nil {
		return nil, err
	}
	st.Stages, st.Paths.Stages = stages, stages
	loc := window.Loc
	if loc == nil {
		loc = time.UTC
		window.Loc = loc
	}

	recon := sessions.Reconstruct(evs, st.InactivityGap)

	// Rank every session once; the history and intent analyzers need the
	// flags for sessions before the window too.
	last := len(st.Stages) - 1
	all := recon.Sessions
	allRanks := make([]int, len(all))
	allConverted := make([]bool, len(all))
	var (
		period          []sessions.Session
		periodConverted []bool
		periodIdx       []int
	)
	for i, s := range all {
		allRanks[i], _ = funnel.Rank(s, st.Stages)
		allConverted[i] = allRanks[i] == last
		if window.Contains(s.Start) {
			period = append(period, s)
			periodConverted = append(periodConverted, allConverted[i])
			periodIdx = append(periodIdx, i)
		}
	}

	pool := async.NewPool(st.Workers)
	results := pool.Execute(ctx, []async.Task{
		{Name: "funnel", Execute: func(context.Context) (any, error) {
			return funnel.Analyze(period, st.Stages), nil
		}},
		{Name: "metrics", Execute: func(context.Context) (any, error) {
			return analyzeMetrics(all, allConverted, period, periodConverted, window, st), nil
		}},
		{Name: "paths", Execute: func(context.Context) (any, error) {
			return paths.TopPaths(period, periodConverted, st.TopPaths, st.Paths), nil
		}},
		{Name: "intent", Execute: func(context.Context) (any, error) {
			return analyzeIntent(all, periodIdx, allRanks, allConverted, st), nil
		}},
		{Name: "breakdowns", Execute: func(context.Context) (any, error) {
			return breakdown.Compute(period, periodConverted, st.BreakdownLimit), nil
		}},
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, name := range []string{"funnel", "metrics", "paths", "intent", "breakdowns"} {
		res, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("analyzer %s produced no result", name)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("analyzer %s: %w", name, res.Err)
		}
	}

	fr := results["funnel"].Data.(funnel.Result)
	mr := results["metrics"].Data.(metricsResult)
	ir := results["intent"].Data.(intentResult)

	rep := &Report{
		Meta: Meta{
			Period:          window.Period,
			From:            window.From,
			To:              window.To,
			Label:           window.Label(),
			Timezone:        loc.String(),
			EventsRead:      len(evs),
			SkippedEvents:   recon.Skipped,
			DuplicateEvents: recon.Duplicates,
			Sessions:        len(period),
			OrderViolations: fr.OrderViolations,
		},
		Totals:     totals(period, periodConverted),
		Daily:      mr.daily,
		Baselines:  mr.baselines,
		Funnel:     fr,
		Anomalies:  mr.anomalies,
		TopPaths:   results["paths"].Data.([]paths.ConversionPath),
		Intent:     ir.distribution,
		HighIntent: ir.high,
		Breakdowns: results["breakdowns"].Data.(breakdown.Breakdowns),
	}
	return rep, nil
}

type metricsResult struct {
	daily     []metrics.Metric
	baselines []metrics.Baseline
	anomalies anomaly.Result
}

func analyzeMetrics(all []sessions.Session, allConverted []bool, period []sessions.Session, periodConverted []bool, window timeframe.Window, st Settings) metricsResult {
	var res metricsResult
	for _, day := range window.Days() {
		res.daily = append(res.daily, metrics.Daily(period, periodConverted, day, window.Loc)...)
	}

	history := st.History
	if history == nil {
		from := window.From.AddDate(0, 0, -st.BaselineWindowDays)
		history = metrics.HistoryFromSessions(all, allConverted, from, window.From, window.Loc)
	}
	history.Add(res.daily...)

	days := window.Days()
	if len(days) > 0 {
		lastDay := days[len(days)-1]
		for _, name := range metrics.Names {
			res.baselines = append(res.baselines, history.Baseline(name, lastDay, st.BaselineWindowDays))
		}
	}
	res.anomalies = st.Detector.Evaluate(res.daily, history, st.BaselineWindowDays)
	return res
}

type intentResult struct {
	distribution intent.Distribution
	high         []HighIntentSession
}

func analyzeIntent(all []sessions.Session, periodIdx, allRanks []int, allConverted []bool, st Settings) intentResult {
	scorer := intent.NewScorer(st.Intent)
	returning := intent.Returning(all, time.Duration(st.IntentLookbackDays)*24*time.Hour)

	scores := make([]intent.Score, len(periodIdx))
	var high []HighIntentSession
	for k, i := range periodIdx {
		s := all[i]
		scores[k] = scorer.Score(intent.Input{
			Session:    s,
			Rank:       allRanks[i],
			StageCount: len(st.Stages),
			Returning:  returning[i],
		})
		if scores[k].Tier != intent.TierHigh || allConverted[i] {
			continue
		}
		h := HighIntentSession{
			Key:         s.Key,
			DeviceID:    s.DeviceID,
			EntryPage:   s.EntryPage,
			Pages:       pagesOf(s),
			Score:       scores[k].Value,
			MissedStage: st.Stages[allRanks[i]+1].Name,
			LastSeen:    s.End,
		}
		if allRanks[i] >= 0 {
			h.ReachedStage = st.Stages[allRanks[i]].Name
		}
		high = append(high, h)
	}

	sort.SliceStable(high, func(a, b int) bool {
		if high[a].Score != high[b].Score {
			return high[a].Score > high[b].Score
		}
		return high[a].Key < high[b].Key
	})
	if len(high) > st.HighIntentLimit {
		high = high[:st.HighIntentLimit]
	}
	return intentResult{distribution: intent.Distribute(scores), high: high}
}

func pagesOf(s sessions.Session) []string {
	out := make([]string, 0, s.PageCount)
	for _, e := range s.Events {
		if e.IsPageView() && e.Path != "" && (len(out) == 0 || out[len(out)-1] != e.Path) {
			out = append(out, e.Path)
		}
	}
	return out
}

func totals(list []sessions.Session, converted []bool) Totals {
	var t Totals
	var duration time.Duration
	devices := make(map[string]struct{})
	for i, s := range list {
		t.Sessions++
		if converted[i] {
			t.ConvertedSessions++
		}
		t.Pageviews += s.PageCount
		if s.Bounced() {
			t.BounceSessions++
		}
		duration += s.Duration()
		devices[s.DeviceID] = struct{}{}
	}
	t.UniqueVisitors = len(devices)
	if t.Sessions > 0 {
		t.BounceRate = float64(t.BounceSessions) / float64(t.Sessions)
		t.ConversionRate = float64(t.ConvertedSessions) / float64(t.Sessions)
		t.AvgSessionDuration = duration.Seconds() / float64(t.Sessions)
	}
	return t
}
