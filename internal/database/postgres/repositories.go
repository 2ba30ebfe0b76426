package postgres

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// CycleRepository handles decoy_cycles
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository creates a new cycle repository
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// UpsertCycle inserts the cycle or overwrites its previous state
func (r *CycleRepository) UpsertCycle(ctx context.Context, c *Cycle) error {
	query := `
		INSERT INTO decoy_cycles (cycle_id, worker, stage, stage_index, shares_found,
		                          shares_accepted, shares_rejected, hashrate, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cycle_id) DO UPDATE SET
			worker = EXCLUDED.worker,
			stage = EXCLUDED.stage,
			stage_index = EXCLUDED.stage_index,
			shares_found = EXCLUDED.shares_found,
			shares_accepted = EXCLUDED.shares_accepted,
			shares_rejected = EXCLUDED.shares_rejected,
			hashrate = EXCLUDED.hashrate,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		c.CycleID, c.Worker, c.Stage, c.StageIndex, c.SharesFound,
		c.SharesAccepted, c.SharesRejected, c.Hashrate, c.StartedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "upsert_cycle", "failed to upsert cycle").
			WithContext("cycle_id", c.CycleID)
	}
	return nil
}

// GetCycle retrieves a cycle by id
func (r *CycleRepository) GetCycle(ctx context.Context, cycleID string) (*Cycle, error) {
	query := `
		SELECT cycle_id, worker, stage, stage_index, shares_found, shares_accepted,
		       shares_rejected, hashrate, started_at, updated_at
		FROM decoy_cycles WHERE cycle_id = $1`

	c := &Cycle{}
	err := r.db.QueryRowContext(ctx, query, cycleID).Scan(
		&c.CycleID, &c.Worker, &c.Stage, &c.StageIndex, &c.SharesFound,
		&c.SharesAccepted, &c.SharesRejected, &c.Hashrate, &c.StartedAt, &c.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cycle %s not found", cycleID)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "get_cycle", "failed to get cycle")
	}
	return c, nil
}

// EventRepository handles decoy_events
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateEvent inserts an event; a repeated event id is ignored
func (r *EventRepository) CreateEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO decoy_events (event_id, source, kind, severity, message, title, footer, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		e.EventID, e.Source, e.Kind, e.Severity, e.Message, e.Title, e.Footer, []byte(e.Fields), e.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "create_event", "failed to create event").
			WithContext("event_id", e.EventID)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first
func (r *EventRepository) RecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT event_id, source, kind, severity, message, title, footer, fields, created_at
		FROM decoy_events ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "recent_events", "failed to query events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var fields []byte
		if err := rows.Scan(&e.EventID, &e.Source, &e.Kind, &e.Severity, &e.Message,
			&e.Title, &e.Footer, &fields, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Fields = fields
		events = append(events, e)
	}
	return events, rows.Err()
}
