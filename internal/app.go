// Package internal wires configuration, storage and collaborators into a
// report pipeline.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/benbjohnson/clock"

	"intelreport/internal/anomaly"
	"intelreport/internal/config"
	"intelreport/internal/database"
	"intelreport/internal/dispatch"
	"intelreport/internal/enrich"
	"intelreport/internal/events"
	"intelreport/internal/funnel"
	"intelreport/internal/http"
	"intelreport/internal/intent"
	"intelreport/internal/jobs"
	"intelreport/internal/logging"
	"intelreport/internal/metrics"
	"intelreport/internal/paths"
	"intelreport/internal/report"
	"intelreport/internal/telemetry"
	"intelreport/internal/timeframe"
)

// Application holds everything a command needs.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Pipeline  *report.Pipeline
	Telemetry *telemetry.Recorder
	Clock     clock.Clock

	closers []io.Closer
}

type appOptions struct {
	clock  clock.Clock
	logger *slog.Logger
}

// Option customises NewAppWithConfig.
type Option func(*appOptions)

// WithClock replaces the wall clock, e.g. with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(o *appOptions) { o.clock = c }
}

// WithLogger replaces the configured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// NewApp creates an application from the environment configuration.
func NewApp(ctx context.Context, opts ...Option) (*Application, error) {
	return NewAppWithConfig(ctx, config.GetConfig(), opts...)
}

// NewAppWithConfig connects the database and every configured backend and
// collaborator. Collaborators left unconfigured are simply absent from the
// pipeline.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	o := appOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New(cfg, cfg.AppName)
	}
	logger := o.logger

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		Telemetry: telemetry.NewRecorder(),
		Clock:     o.clock,
	}

	deps, err := app.dependencies(ctx)
	if err != nil {
		app.Shutdown(ctx)
		return nil, err
	}

	pipeline, err := report.NewPipeline(deps)
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	app.Pipeline = pipeline
	return app, nil
}

func (a *Application) dependencies(ctx context.Context) (report.Dependencies, error) {
	cfg := a.Config
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return report.Dependencies{}, err
	}

	deps := report.Dependencies{
		Settings:            settings,
		Location:            cfg.Location(),
		Clock:               a.Clock,
		Logger:              a.Logger,
		Telemetry:           a.Telemetry,
		RunTimeout:          cfg.RunTimeout(),
		CollaboratorTimeout: cfg.CollaboratorTimeout(),
	}

	switch cfg.EventSource {
	case config.SourceClickHouse:
		src, err := events.NewClickHouseSource(ctx, events.ClickHouseOptions{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
		}, a.Logger)
		if err != nil {
			return deps, fmt.Errorf("failed to connect event source: %w", err)
		}
		a.closers = append(a.closers, src)
		deps.Source = src
	default:
		deps.Source = events.NewGormSource(a.DBManager, a.Logger)
	}

	switch cfg.BaselineHistory {
	case config.HistoryRedis:
		store, err := metrics.NewRedisStore(ctx, metrics.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, cfg.Location())
		if err != nil {
			return deps, fmt.Errorf("failed to connect metric history: %w", err)
		}
		a.closers = append(a.closers, store)
		deps.MetricStore, deps.HistoryFromStore = store, true
	case config.HistorySQLite:
		deps.MetricStore = metrics.NewGormStore(a.DBManager, a.Logger, cfg.Location())
		deps.HistoryFromStore = true
	default:
		// Baselines come from events; the store still keeps a record of
		// every day reported.
		deps.MetricStore = metrics.NewGormStore(a.DBManager, a.Logger, cfg.Location())
	}

	if n := enrich.NewHTTPNarrator(cfg.NarrativeURL, cfg.NarrativeAPIKey, cfg.CollaboratorTimeout()); n != nil {
		deps.Narrator = n
	}
	if ads := enrich.NewHTTPAdsProvider(cfg.AdsURL, cfg.AdsAPIKey, cfg.CollaboratorTimeout()); ads != nil {
		deps.Ads = ads
	}

	if cfg.EmailAPIURL != "" {
		sender, err := dispatch.NewEmailSender(dispatch.EmailConfig{
			URL:     cfg.EmailAPIURL,
			APIKey:  cfg.EmailAPIKey,
			From:    cfg.EmailFrom,
			Timeout: cfg.CollaboratorTimeout(),
		})
		if err != nil {
			return deps, &report.ConfigurationError{Field: "email", Reason: err.Error()}
		}
		recipients, err := dispatch.ParseRecipients(cfg.RecipientList())
		if err != nil {
			return deps, &report.ConfigurationError{Field: "recipients", Reason: err.Error()}
		}
		deps.Sender, deps.Recipients = sender, recipients
	}

	if cfg.ArchiveEndpoint != "" {
		archiver, err := dispatch.NewS3Archiver(ctx, dispatch.ArchiveConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			Bucket:    cfg.ArchiveBucket,
			Prefix:    cfg.ArchivePrefix,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Secure:    cfg.ArchiveSecure,
		})
		if err != nil {
			return deps, fmt.Errorf("failed to connect report archive: %w", err)
		}
		deps.Archiver = archiver
	}

	a.Logger.Info("Pipeline configured",
		slog.String("event_source", cfg.EventSource),
		slog.String("baseline_history", cfg.BaselineHistory),
		slog.Bool("narrator", deps.Narrator != nil),
		slog.Bool("ads", deps.Ads != nil),
		slog.Bool("email", deps.Sender != nil),
		slog.Bool("archive", deps.Archiver != nil))
	return deps, nil
}

// SettingsFromConfig maps configuration onto analyzer settings. Stage file
// problems surface as *funnel.ConfigurationError.
func SettingsFromConfig(cfg *config.Config) (report.Settings, error) {
	stages, err := funnel.LoadStages(cfg.FunnelStagesFile)
	if err != nil {
		return report.Settings{}, err
	}

	granularity := paths.Granularity(cfg.PathGranularity)
	switch granularity {
	case "":
		granularity = paths.ByStage
	case paths.ByStage, paths.ByPage:
	default:
		return report.Settings{}, &report.ConfigurationError{
			Field:  "path granularity",
			Reason: fmt.Sprintf("unknown granularity %q (want stage or page)", cfg.PathGranularity),
		}
	}

	intentCfg := intent.DefaultConfig()
	intentCfg.MediumMin = cfg.IntentMediumMin
	intentCfg.HighMin = cfg.IntentHighMin

	return report.Settings{
		Stages:             stages,
		InactivityGap:      cfg.InactivityGap(),
		BaselineWindowDays: cfg.BaselineWindowDays,
		Detector: anomaly.Detector{
			WarningZ:   cfg.AnomalyWarningZ,
			CriticalZ:  cfg.AnomalyCriticalZ,
			MinSamples: cfg.BaselineMinSamples,
		},
		TopPaths:           cfg.TopPathsLimit,
		Paths:              paths.Options{Granularity: granularity, MaxLength: cfg.PathMaxLength},
		Intent:             intentCfg,
		IntentLookbackDays: cfg.IntentLookbackDays,
		HighIntentLimit:    cfg.HighIntentLimit,
		BreakdownLimit:     cfg.BreakdownLimit,
	}, nil
}

// NewScheduler builds the daily report scheduler. Cleanup is only added when
// a retention period is configured.
func (a *Application) NewScheduler() (*jobs.Scheduler, error) {
	var periods []timeframe.Period
	for _, name := range a.Config.SchedulePeriodList() {
		p, err := timeframe.ParsePeriod(name)
		if err != nil {
			return nil, &report.ConfigurationError{Field: "schedule periods", Reason: err.Error()}
		}
		periods = append(periods, p)
	}

	opts := jobs.SchedulerOptions{
		Reports:  jobs.NewReportJob(a.Pipeline, periods, a.Config.Location(), a.Logger),
		Clock:    a.Clock,
		Logger:   a.Logger,
		Hour:     a.Config.ScheduleHour,
		Location: a.Config.Location(),
	}
	if a.Config.EventRetentionDays > 0 {
		opts.Cleanup = jobs.NewCleanupJob(a.DBManager, a.Logger, a.Config.EventRetentionDays)
	}
	return jobs.NewScheduler(opts), nil
}

// NewServer builds the HTTP trigger server around the pipeline.
func (a *Application) NewServer() *http.Server {
	return http.NewServer(http.ServerOptions{
		Runner:     a.Pipeline,
		Logger:     a.Logger,
		TriggerKey: a.Config.TriggerKey,
		Registry:   a.Telemetry.Registry(),
		Ping:       a.Ping,
		Now:        a.Clock.Now,
	})
}

// Ping checks the sqlite connection.
func (a *Application) Ping(ctx context.Context) error {
	db := a.DBManager.GetConnection()
	if db == nil {
		return errors.New("database connection unavailable")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Importer returns an NDJSON importer writing to the sqlite event store.
func (a *Application) Importer() *events.Importer {
	return events.NewImporter(a.DBManager, a.Logger, a.Clock.Now)
}

// Shutdown closes every backend connection.
func (a *Application) Shutdown(_ context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if db := a.DBManager.GetConnection(); db != nil {
		if err := a.DBManager.CheckpointWAL("PASSIVE"); err != nil {
			a.Logger.Warn("Failed to checkpoint WAL on shutdown", slog.Any("error", err))
		}
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

var (
	_ http.Runner = (*report.Pipeline)(nil)
	_ jobs.Runner = (*report.Pipeline)(nil)
)
