package events

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 500

// ImportResult summarises an import run.
type ImportResult struct {
	Read       int
	Inserted   int
	Duplicates int
	Invalid    int
}

// Importer loads newline-delimited JSON events into the raw_events table.
// Each line is hashed so replaying the same webhook payload is a no-op.
type Importer struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	now       func() time.Time
}

// NewImporter creates an importer writing through the given DB manager.
func NewImporter(dbManager cartridge.DBManager, logger *slog.Logger, now func() time.Time) *Importer {
	if now == nil {
		now = time.Now
	}
	return &Importer{dbManager: dbManager, logger: logger, now: now}
}

// PayloadHash returns the dedupe key for one raw payload.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(payload))
	return hex.EncodeToString(sum[:])
}

// Import reads r until EOF. Lines that are not JSON objects are counted as
// invalid; malformed-but-decodable events are stored and left for the
// session reconstructor to skip.
func (im *Importer) Import(r io.Reader) (*ImportResult, error) {
	result := &ImportResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	batch := make([]RawEvent, 0, importBatchSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		result.Read++

		var e RawEvent
		if err := json.Unmarshal(line, &e); err != nil {
			result.Invalid++
			im.logger.Debug("Skipping undecodable event line", slog.Any("error", err))
			continue
		}
		e.PayloadHash = PayloadHash(line)
		if e.ID == "" {
			e.ID = e.PayloadHash[:32]
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = im.now().UTC()
		}
		batch = append(batch, e)

		if len(batch) == importBatchSize {
			if err := im.flush(batch, result); err != nil {
				return result, err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("events: read import stream: %w", err)
	}
	if err := im.flush(batch, result); err != nil {
		return result, err
	}

	im.logger.Info("Event import finished",
		slog.Int("read", result.Read),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("invalid", result.Invalid))
	return result, nil
}

func (im *Importer) flush(batch []RawEvent, result *ImportResult) error {
	if len(batch) == 0 {
		return nil
	}
	db := im.dbManager.GetConnection()
	if db == nil {
		return fmt.Errorf("events: database connection unavailable")
	}

	var inserted int64
	err := sqlite.PerformWrite(im.logger, db, func(tx *gorm.DB) error {
		inserted = 0
		for i := range batch {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch[i])
			if res.Error != nil {
				return res.Error
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("events: store imported batch: %w", err)
	}

	result.Inserted += int(inserted)
	result.Duplicates += len(batch) - int(inserted)
	return nil
}
