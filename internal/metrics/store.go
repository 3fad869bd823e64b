package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists daily metrics between runs.
type Store interface {
	Save(ctx context.Context, ms []Metric) error
	// Load returns the metrics stored for days in [from, to).
	Load(ctx context.Context, from, to time.Time) ([]Metric, error)
}

// LoadHistory fills a History from a store.
func LoadHistory(ctx context.Context, store Store, from, to time.Time, loc *time.Location) (*History, error) {
	ms, err := store.Load(ctx, from, to)
	if err != nil {
		return nil, err
	}
	h := NewHistory(loc)
	h.Add(ms...)
	return h, nil
}

// DailyMetric is the sqlite row for one metric on one day.
type DailyMetric struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"uniqueIndex:idx_metric_day;size:64;not null"`
	Day       string    `gorm:"uniqueIndex:idx_metric_day;size:10;not null"`
	Value     float64   `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// GormStore keeps metrics in the daily_metrics table.
type GormStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	loc       *time.Location
}

// NewGormStore creates a sqlite-backed metric store. Days are cut in loc.
func NewGormStore(dbManager cartridge.DBManager, logger *slog.Logger, loc *time.Location) *GormStore {
	if loc == nil {
		loc = time.UTC
	}
	return &GormStore{dbManager: dbManager, logger: logger, loc: loc}
}

// Save upserts metrics by (name, day).
func (s *GormStore) Save(ctx context.Context, ms []Metric) error {
	if len(ms) == 0 {
		return nil
	}
	db := s.dbManager.GetConnection()
	if db == nil {
		return fmt.Errorf("metrics: database connection unavailable")
	}

	now := time.Now().UTC()
	rows := make([]DailyMetric, len(ms))
	for i, m := range ms {
		rows[i] = DailyMetric{Name: m.Name, Day: DayKey(m.Date, s.loc), Value: m.Value, UpdatedAt: now}
	}

	err := sqlite.PerformWrite(s.logger, db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "day"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("metrics: save daily metrics: %w", err)
	}
	return nil
}

// Load returns the metrics stored for days in [from, to).
func (s *GormStore) Load(ctx context.Context, from, to time.Time) ([]Metric, error) {
	db := s.dbManager.GetConnection()
	if db == nil {
		return nil, fmt.Errorf("metrics: database connection unavailable")
	}

	var rows []DailyMetric
	err := db.WithContext(ctx).
		Where("day >= ? AND day < ?", DayKey(from, s.loc), DayKey(to, s.loc)).
		Order("day, name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("metrics: load daily metrics: %w", err)
	}

	out := make([]Metric, 0, len(rows))
	for _, r := range rows {
		day, err := time.ParseInLocation(dayLayout, r.Day, s.loc)
		if err != nil {
			s.logger.Warn("Skipping metric row with bad day", slog.String("day", r.Day))
			continue
		}
		out = append(out, Metric{Name: r.Name, Date: day, Value: r.Value})
	}
	return out, nil
}
