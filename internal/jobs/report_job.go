package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"intelreport/internal/report"
	"intelreport/internal/timeframe"
)

// Runner executes one report run.
type Runner interface {
	Run(ctx context.Context, opts report.RunOptions) (*report.RunResult, error)
}

// ReportJob runs the configured periods that are due on a given day: daily
// every day, weekly on Mondays, monthly on the first of the month.
type ReportJob struct {
	runner  Runner
	periods []timeframe.Period
	loc     *time.Location
	logger  *slog.Logger
}

func NewReportJob(runner Runner, periods []timeframe.Period, loc *time.Location, logger *slog.Logger) *ReportJob {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportJob{runner: runner, periods: periods, loc: loc, logger: logger}
}

// Due filters periods down to those whose window closed at local midnight
// of now.
func Due(periods []timeframe.Period, now time.Time, loc *time.Location) []timeframe.Period {
	local := now.In(loc)
	var due []timeframe.Period
	for _, p := range periods {
		switch p {
		case timeframe.PeriodDaily:
			due = append(due, p)
		case timeframe.PeriodWeekly:
			if local.Weekday() == time.Monday {
				due = append(due, p)
			}
		case timeframe.PeriodMonthly:
			if local.Day() == 1 {
				due = append(due, p)
			}
		}
	}
	return due
}

// Run runs each due period in turn. A failed period does not stop the
// others.
func (j *ReportJob) Run(ctx context.Context, now time.Time) error {
	var errs []error
	for _, p := range Due(j.periods, now, j.loc) {
		res, err := j.runner.Run(ctx, report.RunOptions{Period: p})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s report: %w", p, err))
			continue
		}
		j.logger.Info("Scheduled report finished",
			slog.String("period", string(p)),
			slog.String("window", res.Report.Meta.Label),
			slog.Bool("dispatched", res.Dispatch.OK()))
	}
	return errors.Join(errs...)
}
