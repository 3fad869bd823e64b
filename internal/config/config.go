// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Event source backends
const (
	SourceSQLite     = "sqlite"
	SourceClickHouse = "clickhouse"
)

// Baseline history backends
const (
	HistoryEvents = "events"
	HistorySQLite = "sqlite"
	HistoryRedis  = "redis"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	Timezone    string   `mapstructure:"timezone"`
	TriggerKey  string   `mapstructure:"triggerkey"`

	// File paths
	DatabasePath     string `mapstructure:"storagepath"`
	DatabaseName     string `mapstructure:"-"` // Derived from other settings
	FunnelStagesFile string `mapstructure:"funnelstagesfile"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Event source
	EventSource        string `mapstructure:"eventsource"`
	ClickHouseAddr     string `mapstructure:"clickhouseaddr"`
	ClickHouseDatabase string `mapstructure:"clickhousedatabase"`
	ClickHouseUsername string `mapstructure:"clickhouseusername"`
	ClickHousePassword string `mapstructure:"clickhousepassword"`
	ClickHouseTable    string `mapstructure:"clickhousetable"`

	// Analysis settings
	InactivityGapMinutes   int     `mapstructure:"inactivitygapminutes"`
	BaselineWindowDays     int     `mapstructure:"baselinewindowdays"`
	BaselineMinSamples     int     `mapstructure:"baselineminsamples"`
	BaselineHistory        string  `mapstructure:"baselinehistory"`
	AnomalyWarningZ        float64 `mapstructure:"anomalywarningz"`
	AnomalyCriticalZ       float64 `mapstructure:"anomalycriticalz"`
	TopPathsLimit          int     `mapstructure:"toppathslimit"`
	PathGranularity        string  `mapstructure:"pathgranularity"`
	PathMaxLength          int     `mapstructure:"pathmaxlength"`
	IntentLookbackDays     int     `mapstructure:"intentlookbackdays"`
	IntentMediumMin        float64 `mapstructure:"intentmediummin"`
	IntentHighMin          float64 `mapstructure:"intenthighmin"`
	HighIntentLimit        int     `mapstructure:"highintentlimit"`
	BreakdownLimit         int     `mapstructure:"breakdownlimit"`
	RunTimeoutSeconds      int     `mapstructure:"runtimeoutseconds"`
	CollaboratorTimeoutSec int     `mapstructure:"collaboratortimeoutseconds"`

	// Scheduled runs
	ScheduleEnabled    bool     `mapstructure:"scheduleenabled"`
	ScheduleHour       int      `mapstructure:"schedulehour"`
	SchedulePeriods    []string `mapstructure:"scheduleperiods"`
	EventRetentionDays int      `mapstructure:"eventretentiondays"`

	// Redis metric history
	RedisAddr      string `mapstructure:"redisaddr"`
	RedisPassword  string `mapstructure:"redispassword"`
	RedisDB        int    `mapstructure:"redisdb"`
	RedisKeyPrefix string `mapstructure:"rediskeyprefix"`

	// Collaborators
	NarrativeURL     string   `mapstructure:"narrativeurl"`
	NarrativeAPIKey  string   `mapstructure:"narrativeapikey"`
	AdsURL           string   `mapstructure:"adsurl"`
	AdsAPIKey        string   `mapstructure:"adsapikey"`
	EmailAPIURL      string   `mapstructure:"emailapiurl"`
	EmailAPIKey      string   `mapstructure:"emailapikey"`
	EmailFrom        string   `mapstructure:"emailfrom"`
	Recipients       []string `mapstructure:"recipients"`
	ArchiveEndpoint  string   `mapstructure:"archiveendpoint"`
	ArchiveBucket    string   `mapstructure:"archivebucket"`
	ArchivePrefix    string   `mapstructure:"archiveprefix"`
	ArchiveAccessKey string   `mapstructure:"archiveaccesskey"`
	ArchiveSecretKey string   `mapstructure:"archivesecretkey"`
	ArchiveSecure    bool     `mapstructure:"archivesecure"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "intelreport")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("timezone", "UTC")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("eventsource", SourceSQLite)
		v.SetDefault("clickhouseaddr", "127.0.0.1:9000")
		v.SetDefault("clickhousedatabase", "default")
		v.SetDefault("clickhousetable", "analytics_events")
		v.SetDefault("inactivitygapminutes", 30)
		v.SetDefault("baselinewindowdays", 7)
		v.SetDefault("baselineminsamples", 7)
		v.SetDefault("baselinehistory", HistoryEvents)
		v.SetDefault("anomalywarningz", 2.0)
		v.SetDefault("anomalycriticalz", 3.0)
		v.SetDefault("toppathslimit", 5)
		v.SetDefault("pathgranularity", "stage")
		v.SetDefault("pathmaxlength", 10)
		v.SetDefault("intentlookbackdays", 30)
		v.SetDefault("intentmediummin", 34)
		v.SetDefault("intenthighmin", 67)
		v.SetDefault("highintentlimit", 10)
		v.SetDefault("breakdownlimit", 10)
		v.SetDefault("runtimeoutseconds", 120)
		v.SetDefault("collaboratortimeoutseconds", 30)
		v.SetDefault("scheduleenabled", false)
		v.SetDefault("schedulehour", 12)
		v.SetDefault("scheduleperiods", []string{"daily"})
		v.SetDefault("eventretentiondays", 0)
		v.SetDefault("redisaddr", "127.0.0.1:6379")
		v.SetDefault("rediskeyprefix", "intelreport:metrics")
		v.SetDefault("emailfrom", "reports@localhost")
		v.SetDefault("archiveprefix", "reports")
		v.SetDefault("archivesecure", true)

		v.BindEnv("appname", "INTELREPORT_APP_NAME")
		v.BindEnv("appport", "INTELREPORT_APP_PORT")
		v.BindEnv("environment", "INTELREPORT_ENV")
		v.BindEnv("loglevel", "INTELREPORT_LOG_LEVEL")
		v.BindEnv("timezone", "INTELREPORT_TIMEZONE")
		v.BindEnv("triggerkey", "INTELREPORT_TRIGGER_KEY")
		v.BindEnv("storagepath", "INTELREPORT_STORAGE_PATH")
		v.BindEnv("funnelstagesfile", "INTELREPORT_FUNNEL_STAGES_FILE")
		v.BindEnv("logsdir", "INTELREPORT_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "INTELREPORT_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "INTELREPORT_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "INTELREPORT_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "INTELREPORT_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "INTELREPORT_DB_MAX_IDLE_CONNS")
		v.BindEnv("eventsource", "INTELREPORT_EVENT_SOURCE")
		v.BindEnv("clickhouseaddr", "INTELREPORT_CLICKHOUSE_ADDR")
		v.BindEnv("clickhousedatabase", "INTELREPORT_CLICKHOUSE_DATABASE")
		v.BindEnv("clickhouseusername", "INTELREPORT_CLICKHOUSE_USERNAME")
		v.BindEnv("clickhousepassword", "INTELREPORT_CLICKHOUSE_PASSWORD")
		v.BindEnv("clickhousetable", "INTELREPORT_CLICKHOUSE_TABLE")
		v.BindEnv("inactivitygapminutes", "INTELREPORT_INACTIVITY_GAP_MINUTES")
		v.BindEnv("baselinewindowdays", "INTELREPORT_BASELINE_WINDOW_DAYS")
		v.BindEnv("baselineminsamples", "INTELREPORT_BASELINE_MIN_SAMPLES")
		v.BindEnv("baselinehistory", "INTELREPORT_BASELINE_HISTORY")
		v.BindEnv("anomalywarningz", "INTELREPORT_ANOMALY_WARNING_Z")
		v.BindEnv("anomalycriticalz", "INTELREPORT_ANOMALY_CRITICAL_Z")
		v.BindEnv("toppathslimit", "INTELREPORT_TOP_PATHS_LIMIT")
		v.BindEnv("pathgranularity", "INTELREPORT_PATH_GRANULARITY")
		v.BindEnv("pathmaxlength", "INTELREPORT_PATH_MAX_LENGTH")
		v.BindEnv("intentlookbackdays", "INTELREPORT_INTENT_LOOKBACK_DAYS")
		v.BindEnv("intentmediummin", "INTELREPORT_INTENT_MEDIUM_MIN")
		v.BindEnv("intenthighmin", "INTELREPORT_INTENT_HIGH_MIN")
		v.BindEnv("highintentlimit", "INTELREPORT_HIGH_INTENT_LIMIT")
		v.BindEnv("breakdownlimit", "INTELREPORT_BREAKDOWN_LIMIT")
		v.BindEnv("runtimeoutseconds", "INTELREPORT_RUN_TIMEOUT_SECONDS")
		v.BindEnv("collaboratortimeoutseconds", "INTELREPORT_COLLABORATOR_TIMEOUT_SECONDS")
		v.BindEnv("scheduleenabled", "INTELREPORT_SCHEDULE_ENABLED")
		v.BindEnv("schedulehour", "INTELREPORT_SCHEDULE_HOUR")
		v.BindEnv("scheduleperiods", "INTELREPORT_SCHEDULE_PERIODS")
		v.BindEnv("eventretentiondays", "INTELREPORT_EVENT_RETENTION_DAYS")
		v.BindEnv("redisaddr", "INTELREPORT_REDIS_ADDR")
		v.BindEnv("redispassword", "INTELREPORT_REDIS_PASSWORD")
		v.BindEnv("redisdb", "INTELREPORT_REDIS_DB")
		v.BindEnv("rediskeyprefix", "INTELREPORT_REDIS_KEY_PREFIX")
		v.BindEnv("narrativeurl", "INTELREPORT_NARRATIVE_URL")
		v.BindEnv("narrativeapikey", "INTELREPORT_NARRATIVE_API_KEY")
		v.BindEnv("adsurl", "INTELREPORT_ADS_URL")
		v.BindEnv("adsapikey", "INTELREPORT_ADS_API_KEY")
		v.BindEnv("emailapiurl", "INTELREPORT_EMAIL_API_URL")
		v.BindEnv("emailapikey", "INTELREPORT_EMAIL_API_KEY")
		v.BindEnv("emailfrom", "INTELREPORT_EMAIL_FROM")
		v.BindEnv("recipients", "INTELREPORT_RECIPIENTS")
		v.BindEnv("archiveendpoint", "INTELREPORT_ARCHIVE_ENDPOINT")
		v.BindEnv("archivebucket", "INTELREPORT_ARCHIVE_BUCKET")
		v.BindEnv("archiveprefix", "INTELREPORT_ARCHIVE_PREFIX")
		v.BindEnv("archiveaccesskey", "INTELREPORT_ARCHIVE_ACCESS_KEY")
		v.BindEnv("archivesecretkey", "INTELREPORT_ARCHIVE_SECRET_KEY")
		v.BindEnv("archivesecure", "INTELREPORT_ARCHIVE_SECURE")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validSources := map[string]bool{
		SourceSQLite:     true,
		SourceClickHouse: true,
	}
	if !validSources[c.EventSource] {
		return fmt.Errorf("invalid event source: %s", c.EventSource)
	}

	validHistories := map[string]bool{
		HistoryEvents: true,
		HistorySQLite: true,
		HistoryRedis:  true,
	}
	if !validHistories[c.BaselineHistory] {
		return fmt.Errorf("invalid baseline history: %s", c.BaselineHistory)
	}

	if c.InactivityGapMinutes <= 0 {
		return fmt.Errorf("inactivity gap must be positive, got %d", c.InactivityGapMinutes)
	}
	if c.BaselineWindowDays <= 0 {
		return fmt.Errorf("baseline window must be positive, got %d", c.BaselineWindowDays)
	}
	if c.AnomalyWarningZ <= 0 || c.AnomalyCriticalZ < c.AnomalyWarningZ {
		return fmt.Errorf("anomaly thresholds must satisfy 0 < warning <= critical (%.2f, %.2f)",
			c.AnomalyWarningZ, c.AnomalyCriticalZ)
	}
	if c.IntentMediumMin < 0 || c.IntentMediumMin >= c.IntentHighMin {
		return fmt.Errorf("intent tier thresholds must satisfy 0 <= medium < high (%.0f, %.0f)",
			c.IntentMediumMin, c.IntentHighMin)
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		return fmt.Errorf("schedule hour must be within 0..23, got %d", c.ScheduleHour)
	}
	// Events must outlive every window that still reads them.
	if minKeep := 31 + max(c.BaselineWindowDays, c.IntentLookbackDays); c.EventRetentionDays > 0 && c.EventRetentionDays < minKeep {
		return fmt.Errorf("event retention must be at least %d days, got %d", minKeep, c.EventRetentionDays)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP trigger server port.
func (c *Config) GetPort() string {
	return c.AppPort
}

// Location returns the time zone used to cut report days.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InactivityGap returns the session split threshold.
func (c *Config) InactivityGap() time.Duration {
	return time.Duration(c.InactivityGapMinutes) * time.Minute
}

// RunTimeout returns the deadline for one complete pipeline run.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// CollaboratorTimeout returns the per-call deadline for external collaborators.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSec) * time.Second
}

// SchedulePeriodList flattens SchedulePeriods the same way as RecipientList.
func (c *Config) SchedulePeriodList() []string {
	return splitList(c.SchedulePeriods)
}

// RecipientList flattens Recipients; the environment variable arrives as a
// single comma separated value.
func (c *Config) RecipientList() []string {
	return splitList(c.Recipients)
}

func splitList(entries []string) []string {
	var out []string
	for _, r := range entries {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (in-memory databases are per connection)
// - Development/Production: 4 (the pipeline reads once per run)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 4
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 2
}

// GetLogLevel returns the log level as a string.
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory.
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB.
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups.
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files.
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
