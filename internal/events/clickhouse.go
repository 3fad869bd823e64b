package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseOptions configures the ClickHouse event source.
type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// querier is the part of clickhouse.Conn the source needs.
type querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

// ClickHouseSource reads events from a ClickHouse analytics table.
type ClickHouseSource struct {
	conn   querier
	table  string
	logger *slog.Logger
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// NewClickHouseSource opens a native connection and verifies it with a ping.
func NewClickHouseSource(ctx context.Context, opts ClickHouseOptions, logger *slog.Logger) (*ClickHouseSource, error) {
	if !tableNamePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("events: invalid clickhouse table name %q", opts.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("events: open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: ping clickhouse: %w", err)
	}

	logger.Info("Connected to ClickHouse event store",
		slog.String("addr", opts.Addr),
		slog.String("table", opts.Table))

	return &ClickHouseSource{conn: conn, table: opts.Table, logger: logger}, nil
}

func (s *ClickHouseSource) selectQuery() string {
	return fmt.Sprintf(`SELECT id, device_id, session_id, path, event_type, event_name,
		timestamp_ms, received_at, referrer, query_params, country, device_type,
		client_name, attributes
	FROM %s
	WHERE received_at >= ? AND received_at < ?`, s.table)
}

// Query loads the events received in [start, end).
func (s *ClickHouseSource) Query(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	rows, err := s.conn.Query(ctx, s.selectQuery(), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("events: clickhouse query: %w", err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var (
			e     RawEvent
			attrs string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.SessionID, &e.Path, &e.EventType, &e.EventName,
			&e.TimestampMs, &e.ReceivedAt, &e.Referrer, &e.QueryParams, &e.Country, &e.DeviceType,
			&e.ClientName, &attrs); err != nil {
			return nil, fmt.Errorf("events: clickhouse scan: %w", err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
				s.logger.Debug("Ignoring malformed event attributes",
					slog.String("id", e.ID),
					slog.Any("error", err))
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: clickhouse rows: %w", err)
	}

	s.logger.Debug("Loaded raw events from ClickHouse", slog.Int("count", len(out)))
	return out, nil
}

// Close releases the underlying connection.
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}
