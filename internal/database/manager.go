// Package database fans decoy snapshots and events out to the optional
// stores: Redis for live state, PostgreSQL for history and InfluxDB for
// time series.
package database

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/bardlex/cryptodecoy/internal/database/influx"
	"github.com/bardlex/cryptodecoy/internal/database/postgres"
	"github.com/bardlex/cryptodecoy/internal/database/redis"
	"github.com/bardlex/cryptodecoy/internal/messaging"
	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/circuit"
	"github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// Config holds configuration for the stores; a nil entry disables it
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config

	// Worker labels snapshots; Source labels events
	Worker string
	Source string
}

// store is one backend behind the manager
type store struct {
	name    string
	breaker *circuit.Breaker
	save    func(ctx context.Context, worker string, snap telemetry.Snapshot) error
	record  func(ctx context.Context, m messaging.BeaconMessage) error
	health  func(ctx context.Context) error
	close   func() error
}

// Manager coordinates writes across the configured stores. It is both a
// beacon/miner state sink and a notify mirror.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	Cycles *postgres.CycleRepository
	Events *postgres.EventRepository

	worker string
	source string
	logger *log.Logger
	stores []*store
}

// NewManager connects to every configured store, retrying each connect
// with retry.StoreConfig. A store that still fails is logged and left
// out; only a cancelled ctx is an error.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		worker: cfg.Worker,
		source: cfg.Source,
		logger: logger.WithComponent("database"),
	}
	retryConfig := retry.StoreConfig()

	if cfg.Redis != nil {
		client, err := retry.DoWithResult(ctx, retryConfig, func() (*redis.Client, error) {
			return redis.NewClient(ctx, cfg.Redis)
		})
		if err != nil {
			m.skip("redis", err)
		} else {
			if m.enable(ctx, &store{
				name:   "redis",
				save:   client.SaveSnapshot,
				record: client.RecordEvent,
				health: client.Health,
				close:  client.Close,
			}) {
				m.Redis = client
			}
		}
	}

	if cfg.Postgres != nil {
		client, err := retry.DoWithResult(ctx, retryConfig, func() (*postgres.Client, error) {
			return postgres.NewClient(ctx, cfg.Postgres)
		})
		if err != nil {
			m.skip("postgres", err)
		} else {
			cycles := postgres.NewCycleRepository(client.DB())
			events := postgres.NewEventRepository(client.DB())
			if m.enable(ctx, &store{
				name: "postgres",
				save: func(ctx context.Context, worker string, snap telemetry.Snapshot) error {
					return cycles.UpsertCycle(ctx, postgres.CycleFromSnapshot(worker, snap))
				},
				record: func(ctx context.Context, msg messaging.BeaconMessage) error {
					ev, err := postgres.EventFromBeacon(msg)
					if err != nil {
						return errors.Wrap(err, errors.ErrorTypeInternal, "event_fields", "failed to encode fields")
					}
					return events.CreateEvent(ctx, ev)
				},
				health: client.Health,
				close:  client.Close,
			}) {
				m.Postgres = client
				m.Cycles = cycles
				m.Events = events
			}
		}
	}

	if cfg.Influx != nil {
		client, err := retry.DoWithResult(ctx, retryConfig, func() (*influx.Client, error) {
			return influx.NewClient(ctx, cfg.Influx)
		})
		if err != nil {
			m.skip("influx", err)
		} else {
			if m.enable(ctx, &store{
				name: "influx",
				save: func(_ context.Context, worker string, snap telemetry.Snapshot) error {
					client.WriteSnapshot(worker, snap)
					return nil
				},
				record: func(_ context.Context, msg messaging.BeaconMessage) error {
					client.WriteEvent(msg)
					return nil
				},
				health: client.Health,
				close:  func() error {
					client.Close()
					return nil
				},
			}) {
				m.Influx = client
			}
		}
	}

	if err := ctx.Err(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) skip(name string, err error) {
	m.logger.WithError(err).Warn("store unavailable, continuing without it", "store", name)
}

// enable health checks s and adds it. An unhealthy store is closed and
// skipped.
func (m *Manager) enable(ctx context.Context, s *store) bool {
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			m.skip(s.name, errors.Wrap(err, errors.ErrorTypeStorage, "health_check",
				"store failed its health check"))
			if cerr := s.close(); cerr != nil {
				m.logger.WithError(cerr).Warn("failed to close skipped store", "store", s.name)
			}
			return false
		}
	}
	m.add(s)
	return true
}

func (m *Manager) add(s *store) {
	if s.breaker == nil {
		s.breaker = circuit.New(&circuit.Config{
			Name:            s.name,
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		})
	}
	m.stores = append(m.stores, s)
	m.logger.Info("store enabled", "store", s.name)
}

// Stores returns the names of the enabled stores
func (m *Manager) Stores() []string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.name)
	}
	return names
}

// Enabled reports whether any store is configured and reachable
func (m *Manager) Enabled() bool {
	return len(m.stores) > 0
}

// SaveSnapshot writes snap to every store. Each store sits behind its own
// circuit breaker, so one dead backend doesn't slow the others down.
func (m *Manager) SaveSnapshot(ctx context.Context, snap telemetry.Snapshot) error {
	var errs []error
	for _, s := range m.stores {
		err := s.breaker.Execute(ctx, func() error {
			return s.save(ctx, m.worker, snap)
		})
		if err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeStorage, "save_snapshot",
				"failed to save snapshot").
				WithContext("store", s.name).
				WithContext("cycle_id", snap.CycleID))
		}
	}
	return stdErrors.Join(errs...)
}

// Notify implements notify.Notifier by recording the event in every store
func (m *Manager) Notify(ctx context.Context, ev notify.Event) error {
	msg := messaging.NewBeaconMessage(m.source, ev)

	var errs []error
	for _, s := range m.stores {
		err := s.breaker.Execute(ctx, func() error {
			return s.record(ctx, msg)
		})
		if err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeStorage, "record_event",
				"failed to record event").
				WithContext("store", s.name).
				WithContext("event_id", msg.EventID))
		}
	}
	return stdErrors.Join(errs...)
}

// Flush pushes out batched time-series points
func (m *Manager) Flush() {
	if m.Influx != nil {
		m.Influx.Flush()
	}
}

// Close closes all store connections
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.close(); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeStorage, "close",
				"failed to close store").WithContext("store", s.name))
		}
	}
	m.stores = nil
	return stdErrors.Join(errs...)
}
