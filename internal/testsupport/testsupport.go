package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"intelreport/internal/database"
	"intelreport/internal/events"
)

// testDBCache caches test databases by root test name so helpers called from
// subtests share the parent's database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named in-memory sqlite database with every model
// migrated. cache=shared lets pooled connections see the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Event builds a raw event at ts for device. Optional fields are set by the
// functional options.
func Event(id, device string, ts time.Time, opts ...EventOption) events.RawEvent {
	e := events.RawEvent{
		ID:          id,
		DeviceID:    device,
		SessionID:   "0",
		Path:        "/",
		EventType:   events.TypePageView,
		TimestampMs: ts.UnixMilli(),
		ReceivedAt:  ts.UTC(),
		Country:     "US",
		DeviceType:  "desktop",
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// EventOption customises a test event.
type EventOption func(*events.RawEvent)

// WithPath sets the page path.
func WithPath(path string) EventOption {
	return func(e *events.RawEvent) { e.Path = path }
}

// WithName turns the event into a named custom event.
func WithName(name string) EventOption {
	return func(e *events.RawEvent) {
		e.EventType = events.TypeEvent
		e.EventName = name
	}
}

// WithQuery sets the raw query string.
func WithQuery(q string) EventOption {
	return func(e *events.RawEvent) { e.QueryParams = q }
}

// WithReferrer sets the referrer URL.
func WithReferrer(ref string) EventOption {
	return func(e *events.RawEvent) { e.Referrer = ref }
}

// WithCountry sets the ISO country code.
func WithCountry(code string) EventOption {
	return func(e *events.RawEvent) { e.Country = code }
}

// InsertEvents stores events directly in the raw_events table.
func InsertEvents(t *testing.T, db *gorm.DB, evs ...events.RawEvent) {
	t.Helper()
	for i := range evs {
		if evs[i].PayloadHash == "" {
			evs[i].PayloadHash = fmt.Sprintf("%s-%d", evs[i].ID, evs[i].TimestampMs)
		}
		require.NoError(t, db.Create(&evs[i]).Error)
	}
}
