package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs the report job once a day at a fixed local hour and the
// cleanup job right after it.
type Scheduler struct {
	reports *ReportJob
	cleanup *CleanupJob
	clock   clock.Clock
	logger  *slog.Logger
	hour    int
	loc     *time.Location

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool
}

// SchedulerOptions configures a Scheduler. Cleanup may be nil.
type SchedulerOptions struct {
	Reports  *ReportJob
	Cleanup  *CleanupJob
	Clock    clock.Clock
	Logger   *slog.Logger
	Hour     int
	Location *time.Location
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		reports: opts.Reports,
		cleanup: opts.Cleanup,
		clock:   opts.Clock,
		logger:  opts.Logger,
		hour:    opts.Hour,
		loc:     opts.Location,
	}
}

// NextRun returns the first instant strictly after now at hour:00 local time.
func NextRun(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Tick runs every job due at now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.reports != nil {
		s.executeJobSafely("reports", func() error { return s.reports.Run(ctx, now) })
	}
	if s.cleanup != nil {
		s.executeJobSafely("cleanup", func() error { return s.cleanup.Run(ctx, now) })
	}
}

// Start begins the daily loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			now := s.clock.Now()
			next := NextRun(now, s.hour, s.loc)
			s.logger.Info("Next scheduled report run", slog.Time("at", next))

			timer := s.clock.Timer(next.Sub(now))
			select {
			case fired := <-timer.C:
				s.Tick(ctx, fired)
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("Scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}
