package postgres

import (
	"encoding/json"
	"time"

	"github.com/bardlex/cryptodecoy/internal/messaging"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
)

// Cycle is the latest known state of one build cycle or miner session
type Cycle struct {
	CycleID        string    `db:"cycle_id"`
	Worker         string    `db:"worker"`
	Stage          string    `db:"stage"`
	StageIndex     int       `db:"stage_index"`
	SharesFound    int64     `db:"shares_found"`
	SharesAccepted int64     `db:"shares_accepted"`
	SharesRejected int64     `db:"shares_rejected"`
	Hashrate       float64   `db:"hashrate"`
	StartedAt      time.Time `db:"started_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// CycleFromSnapshot converts a state snapshot
func CycleFromSnapshot(worker string, snap telemetry.Snapshot) *Cycle {
	return &Cycle{
		CycleID:        snap.CycleID,
		Worker:         worker,
		Stage:          string(snap.Stage),
		StageIndex:     snap.StageIndex,
		SharesFound:    snap.SharesFound,
		SharesAccepted: snap.SharesAccepted,
		SharesRejected: snap.SharesRejected,
		Hashrate:       snap.Hashrate,
		StartedAt:      snap.StartTime,
		UpdatedAt:      snap.TakenAt,
	}
}

// Event is one delivered notification
type Event struct {
	EventID   string          `db:"event_id"`
	Source    string          `db:"source"`
	Kind      string          `db:"kind"`
	Severity  string          `db:"severity"`
	Message   string          `db:"message"`
	Title     string          `db:"title"`
	Footer    string          `db:"footer"`
	Fields    json.RawMessage `db:"fields"`
	CreatedAt time.Time       `db:"created_at"`
}

// EventFromBeacon converts a mirrored event
func EventFromBeacon(m messaging.BeaconMessage) (*Event, error) {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return nil, err
	}
	if m.Fields == nil {
		fields = json.RawMessage("[]")
	}
	return &Event{
		EventID:   m.EventID,
		Source:    m.Source,
		Kind:      m.Kind,
		Severity:  m.Severity,
		Message:   m.Message,
		Title:     m.Title,
		Footer:    m.Footer,
		Fields:    fields,
		CreatedAt: m.Timestamp,
	}, nil
}
