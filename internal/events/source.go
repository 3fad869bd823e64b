package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
)

// Source is the read contract for the append-only event store. Results are
// bounded by ReceivedAt in [start, end) and carry no ordering guarantee.
type Source interface {
	Query(ctx context.Context, start, end time.Time) ([]RawEvent, error)
}

// GormSource reads events from the bundled sqlite store.
type GormSource struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewGormSource creates a Source backed by the application database.
func NewGormSource(dbManager cartridge.DBManager, logger *slog.Logger) *GormSource {
	return &GormSource{dbManager: dbManager, logger: logger}
}

// Query loads the events received in [start, end).
func (s *GormSource) Query(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	db := s.dbManager.GetConnection()
	if db == nil {
		return nil, fmt.Errorf("events: database connection unavailable")
	}

	var rows []RawEvent
	err := db.WithContext(ctx).
		Where("received_at >= ? AND received_at < ?", start.UTC(), end.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("events: query raw events: %w", err)
	}

	s.logger.Debug("Loaded raw events",
		slog.Int("count", len(rows)),
		slog.Time("from", start),
		slog.Time("to", end))
	return rows, nil
}
