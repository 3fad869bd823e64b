package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"intelreport/internal/events"
	"intelreport/internal/funnel"
	"intelreport/internal/metrics"
	"intelreport/internal/telemetry"
	"intelreport/internal/timeframe"
)

// Dependencies wires a Pipeline. Source is required; every collaborator is
// optional and its section or step is skipped when nil.
type Dependencies struct {
	Source   events.Source
	Settings Settings
	Location *time.Location
	Clock    clock.Clock
	Logger   *slog.Logger

	// MetricStore receives the window's daily metrics after non-test runs.
	// With HistoryFromStore set, baselines are read from it instead of being
	// derived from events.
	MetricStore      metrics.Store
	HistoryFromStore bool

	Narrator   Narrator
	Ads        AdsProvider
	Sender     Sender
	Archiver   Archiver
	Recipients []string
	Telemetry  *telemetry.Recorder

	RunTimeout          time.Duration
	CollaboratorTimeout time.Duration
}

// Pipeline runs one report per call to Run.
type Pipeline struct {
	deps Dependencies
}

// NewPipeline fills defaults for the clock, location, logger and timeouts
// and rejects invalid funnel stages before any event is read.
func NewPipeline(deps Dependencies) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, &ConfigurationError{Field: "source", Reason: "an event source is required"}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 2 * time.Minute
	}
	if deps.CollaboratorTimeout <= 0 {
		deps.CollaboratorTimeout = 30 * time.Second
	}
	if deps.HistoryFromStore && deps.MetricStore == nil {
		return nil, &ConfigurationError{Field: "history", Reason: "metric store history requires a metric store"}
	}
	if len(deps.Settings.Stages) > 0 {
		stages, err := funnel.Normalize(deps.Settings.Stages)
		if err != nil {
			return nil, err
		}
		deps.Settings.Stages = stages
	}
	return &Pipeline{deps: deps}, nil
}

// Run resolves the window for opts.Period, builds the report and hands it to
// the collaborators. Only a failed event query, a bad configuration or the
// run deadline fail the run; collaborator failures are recorded in the result.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	started := p.deps.Clock.Now()
	logger := p.deps.Logger.With("period", opts.Period, "test", opts.Test)

	res, err := p.run(ctx, opts, started, logger)
	took := p.deps.Clock.Since(started)

	outcome := telemetry.OutcomeSuccess
	switch {
	case errors.Is(err, ErrRunTimeout):
		outcome = telemetry.OutcomeTimeout
	case err != nil:
		outcome = telemetry.OutcomeFailure
	}
	if p.deps.Telemetry != nil {
		p.deps.Telemetry.Run(string(opts.Period), outcome, took)
	}
	if err != nil {
		logger.Error("Report run failed", "error", err, "duration", took)
		return nil, err
	}

	res.Duration = took
	logger.Info("Report run finished",
		"window", res.Report.Meta.Label,
		"sessions", res.Report.Meta.Sessions,
		"anomalies", len(res.Report.Anomalies.Anomalies),
		"dispatched", res.Dispatch.OK(),
		"duration", took)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, started time.Time, logger *slog.Logger) (*RunResult, error) {
	if _, err := timeframe.ParsePeriod(string(opts.Period)); err != nil {
		return nil, &ConfigurationError{Field: "period", Reason: err.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.deps.RunTimeout)
	defer cancel()

	window := timeframe.Resolve(opts.Period, started, p.deps.Location)
	settings := p.deps.Settings

	if p.deps.HistoryFromStore {
		from := window.From.AddDate(0, 0, -settings.withDefaults().BaselineWindowDays)
		history, err := metrics.LoadHistory(runCtx, p.deps.MetricStore, from, window.From, p.deps.Location)
		if err != nil {
			return nil, p.timeoutOr(runCtx, &DataAccessError{Err: fmt.Errorf("load metric history: %w", err)})
		}
		settings.History = history
	}

	query := window.Extend(settings.Lookback())
	logger.Debug("Querying events", "from", query.From, "to", query.To)
	evs, err := p.deps.Source.Query(runCtx, query.From, query.To)
	if err != nil {
		return nil, p.timeoutOr(runCtx, &DataAccessError{Err: err})
	}

	rep, err := Build(runCtx, evs, window, settings)
	if err != nil {
		return nil, p.timeoutOr(runCtx, err)
	}
	rep.Meta.GeneratedAt = p.deps.Clock.Now()
	rep.Meta.Test = opts.Test
	p.observe(rep, logger)

	res := &RunResult{Report: rep}
	p.enrich(runCtx, res, window, logger)

	// The report is only released once complete and within the deadline.
	if runCtx.Err() != nil {
		return nil, ErrRunTimeout
	}

	if opts.Test {
		res.Dispatch = skipped("test run")
		res.Archive = skipped("test run")
		return res, nil
	}

	p.saveMetrics(ctx, rep, logger)
	res.Dispatch = p.dispatch(ctx, res, logger)
	res.Archive = p.archive(ctx, res, logger)
	return res, nil
}

func (p *Pipeline) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrRunTimeout
	}
	return err
}

func (p *Pipeline) observe(rep *Report, logger *slog.Logger) {
	if rep.Meta.SkippedEvents > 0 {
		logger.Warn("Skipped malformed events", "count", rep.Meta.SkippedEvents)
	}
	if rep.Meta.OrderViolations > 0 {
		logger.Warn("Sessions reached funnel stages out of order",
			"count", rep.Meta.OrderViolations, "sessions", rep.Funnel.Violations)
	}
	for _, s := range rep.Anomalies.Skipped {
		logger.Debug("Baseline too short, metric not evaluated",
			"metric", s.Metric, "date", s.Date.Format("2006-01-02"), "window_days", s.WindowDays)
	}

	if t := p.deps.Telemetry; t != nil {
		t.Events(rep.Meta.EventsRead, rep.Meta.SkippedEvents)
		t.Sessions(rep.Meta.Sessions)
		for _, a := range rep.Anomalies.Anomalies {
			t.Anomaly(string(a.Severity))
		}
	}
}

func (p *Pipeline) enrich(ctx context.Context, res *RunResult, window timeframe.Window, logger *slog.Logger) {
	ads := SectionStatus{Name: SectionAds}
	if p.deps.Ads == nil {
		ads.Reason = "ads provider not configured"
	} else {
		cctx, cancel := context.WithTimeout(ctx, p.deps.CollaboratorTimeout)
		am, err := p.deps.Ads.Fetch(cctx, window)
		cancel()
		p.count("ads", err)
		if err != nil {
			logger.Warn("Ads metrics unavailable", "error", err)
			ads.Reason = err.Error()
		} else {
			res.Report.Ads = am
			ads.Available = am != nil
		}
	}

	narrative := SectionStatus{Name: SectionNarrative}
	res.Narrative = FallbackNarrative(res.Report)
	if p.deps.Narrator == nil {
		narrative.Reason = "narrator not configured"
	} else {
		cctx, cancel := context.WithTimeout(ctx, p.deps.CollaboratorTimeout)
		n, err := p.deps.Narrator.Narrate(cctx, res.Report)
		cancel()
		p.count("narrative", err)
		if err != nil {
			logger.Warn("Narrative generation failed, using fallback", "error", err)
			narrative.Reason = err.Error()
		} else {
			n.Generated = true
			res.Narrative = n
			narrative.Available = true
		}
	}

	res.Sections = []SectionStatus{ads, narrative}
}

func (p *Pipeline) saveMetrics(ctx context.Context, rep *Report, logger *slog.Logger) {
	if p.deps.MetricStore == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, p.deps.CollaboratorTimeout)
	defer cancel()
	if err := p.deps.MetricStore.Save(cctx, rep.Daily); err != nil {
		logger.Warn("Failed to save daily metrics", "error", err)
	}
}

func (p *Pipeline) dispatch(ctx context.Context, res *RunResult, logger *slog.Logger) DispatchOutcome {
	if p.deps.Sender == nil {
		return skipped("sender not configured")
	}
	if len(p.deps.Recipients) == 0 {
		return skipped("no recipients")
	}

	rendered, err := Render(res.Report, res.Narrative)
	if err != nil {
		logger.Error("Failed to render report", "error", err)
		return attempted("", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.deps.CollaboratorTimeout)
	defer cancel()
	err = p.deps.Sender.Send(cctx, rendered, p.deps.Recipients)
	p.count("email", err)
	if err != nil {
		logger.Error("Report dispatch failed", "error", err, "recipients", len(p.deps.Recipients))
	}
	return attempted("", err)
}

func (p *Pipeline) archive(ctx context.Context, res *RunResult, logger *slog.Logger) DispatchOutcome {
	if p.deps.Archiver == nil {
		return skipped("archive not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, p.deps.CollaboratorTimeout)
	defer cancel()
	location, err := p.deps.Archiver.Archive(cctx, res.Report, res.Narrative)
	p.count("archive", err)
	if err != nil {
		logger.Error("Report archive failed", "error", err)
	}
	return attempted(location, err)
}

func (p *Pipeline) count(collaborator string, err error) {
	if p.deps.Telemetry != nil {
		p.deps.Telemetry.Collaborator(collaborator, err)
	}
}
