package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the Redis metric store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long a day's hash is kept; zero keeps it forever.
	TTL time.Duration
}

// RedisStore keeps one hash per day: <prefix>:<yyyy-mm-dd> -> {metric: value}.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	loc    *time.Location
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, loc *time.Location) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("metrics: ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL, loc), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration, loc *time.Location) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "intelreport:metrics"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, loc: loc}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) dayKey(day string) string {
	return s.prefix + ":" + day
}

// Save writes metrics into their day hashes in one pipeline.
func (s *RedisStore) Save(ctx context.Context, ms []Metric) error {
	if len(ms) == 0 {
		return nil
	}
	byDay := make(map[string][]any)
	for _, m := range ms {
		key := s.dayKey(DayKey(m.Date, s.loc))
		byDay[key] = append(byDay[key], m.Name, strconv.FormatFloat(m.Value, 'f', -1, 64))
	}

	pipe := s.client.Pipeline()
	for key, fields := range byDay {
		pipe.HSet(ctx, key, fields...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("metrics: save to redis: %w", err)
	}
	return nil
}

// Load reads the day hashes for [from, to).
func (s *RedisStore) Load(ctx context.Context, from, to time.Time) ([]Metric, error) {
	var (
		days []time.Time
		cmds []*redis.MapStringStringCmd
	)
	pipe := s.client.Pipeline()
	for day := Day(from, s.loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
		cmds = append(cmds, pipe.HGetAll(ctx, s.dayKey(day.Format(dayLayout))))
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("metrics: load from redis: %w", err)
	}

	var out []Metric
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("metrics: read %s: %w", days[i].Format(dayLayout), err)
		}
		for name, raw := range fields {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			out = append(out, Metric{Name: name, Date: days[i], Value: v})
		}
	}
	return out, nil
}
