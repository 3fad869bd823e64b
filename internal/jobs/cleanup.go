package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"intelreport/internal/events"
)

const cleanupBatchSize = 1000

// CleanupJob removes raw events past the retention period.
type CleanupJob struct {
	dbManager     cartridge.DBManager
	logger        *slog.Logger
	retentionDays int
}

func NewCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		dbManager:     dbManager,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Run deletes events received more than retentionDays before now, in
// batches so the write lock is released between them.
func (j *CleanupJob) Run(ctx context.Context, now time.Time) error {
	db := j.dbManager.GetConnection()
	cutoffDate := now.UTC().AddDate(0, 0, -j.retentionDays)

	j.logger.Info("Starting cleanup of old raw events",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	totalDeleted := int64(0)
	for {
		var affected int64
		err := sqlite.PerformWrite(j.logger, db.WithContext(ctx), func(tx *gorm.DB) error {
			batch := tx.Model(&events.RawEvent{}).
				Select("id").
				Where("received_at < ?", cutoffDate).
				Limit(cleanupBatchSize)
			result := tx.Where("id IN (?)", batch).Delete(&events.RawEvent{})
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			j.logger.Error("Failed to delete old raw events",
				slog.Any("error", err),
				slog.Int64("deleted_so_far", totalDeleted))
			return err
		}

		totalDeleted += affected
		if affected < cleanupBatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if totalDeleted > 0 {
		j.logger.Info("Cleaned up old raw events",
			slog.Int64("deleted_count", totalDeleted),
			slog.Int("retention_days", j.retentionDays))
	}
	return nil
}
