// Package redis keeps the live decoy state in Redis: the latest snapshot of
// every cycle, a pointer to the current one, and a capped event history.
package redis

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/cryptodecoy/internal/messaging"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// Key layout
const (
	KeyCurrent     = "decoy:current"
	KeyCyclesTotal = "decoy:cycles_total"
	KeyEvents      = "decoy:events"

	cycleKeyPrefix = "decoy:cycle:"
)

// Client wraps Redis operations for the decoy state
type Client struct {
	rdb       *redis.Client
	cycleTTL  time.Duration
	maxEvents int64
}

// Config holds Redis connection configuration
type Config struct {
	URL          string // redis://[:password@]host:port/db
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	CycleTTL  time.Duration // expiry of decoy:cycle:<id>
	MaxEvents int64         // length cap of decoy:events
}

// DefaultConfig keeps cycles for a day and the last 1000 events
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		PoolSize:     4,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		CycleTTL:     24 * time.Hour,
		MaxEvents:    1000,
	}
}

// CycleDoc is the JSON stored per cycle
type CycleDoc struct {
	Worker string `json:"worker"`
	telemetry.Snapshot
}

// NewClient creates a new Redis client and pings it
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "redis_url", "invalid Redis URL")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "redis_ping", "failed to ping Redis")
	}

	c := &Client{rdb: rdb, cycleTTL: cfg.CycleTTL, maxEvents: cfg.MaxEvents}
	if c.cycleTTL <= 0 {
		c.cycleTTL = 24 * time.Hour
	}
	if c.maxEvents <= 0 {
		c.maxEvents = 1000
	}
	return c, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CycleKey returns the key holding the snapshot of one cycle
func CycleKey(cycleID string) string {
	return cycleKeyPrefix + cycleID
}

// SaveSnapshot stores the snapshot under its cycle key and points
// decoy:current at it. decoy:cycles_total counts each cycle once.
func (c *Client) SaveSnapshot(ctx context.Context, worker string, snap telemetry.Snapshot) error {
	data, err := json.Marshal(CycleDoc{Worker: worker, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := CycleKey(snap.CycleID)
	fresh, err := c.rdb.SetNX(ctx, key+":counted", 1, c.cycleTTL).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "redis_save_snapshot",
			"failed to mark cycle").WithContext("cycle_id", snap.CycleID)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, data, c.cycleTTL)
	pipe.Set(ctx, KeyCurrent, snap.CycleID, 0)
	if fresh {
		pipe.Incr(ctx, KeyCyclesTotal)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "redis_save_snapshot",
			"failed to store snapshot").WithContext("cycle_id", snap.CycleID)
	}
	return nil
}

// Current returns the snapshot of the cycle decoy:current points at
func (c *Client) Current(ctx context.Context) (CycleDoc, error) {
	var doc CycleDoc

	id, err := c.rdb.Get(ctx, KeyCurrent).Result()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return doc, fmt.Errorf("no current cycle")
		}
		return doc, errors.Wrap(err, errors.ErrorTypeStorage, "redis_current", "failed to get current cycle")
	}

	data, err := c.rdb.Get(ctx, CycleKey(id)).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return doc, fmt.Errorf("cycle %s expired", id)
		}
		return doc, errors.Wrap(err, errors.ErrorTypeStorage, "redis_current", "failed to get cycle")
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return doc, nil
}

// CyclesTotal returns how many distinct cycles were stored
func (c *Client) CyclesTotal(ctx context.Context) (int64, error) {
	val, err := c.rdb.Get(ctx, KeyCyclesTotal).Int64()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// RecordEvent pushes an event onto decoy:events, newest first, and trims
// the list to its cap
func (c *Client) RecordEvent(ctx context.Context, m messaging.BeaconMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, KeyEvents, data)
	pipe.LTrim(ctx, KeyEvents, 0, c.maxEvents-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "redis_record_event",
			"failed to record event").WithContext("event_id", m.EventID)
	}
	return nil
}

// RecentEvents returns up to n events, newest first
func (c *Client) RecentEvents(ctx context.Context, n int64) ([]messaging.BeaconMessage, error) {
	raw, err := c.rdb.LRange(ctx, KeyEvents, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "redis_recent_events", "failed to read events")
	}

	events := make([]messaging.BeaconMessage, 0, len(raw))
	for _, r := range raw {
		var m messaging.BeaconMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, m)
	}
	return events, nil
}
