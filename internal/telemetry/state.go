// Package telemetry holds the simulated run state shared by the beacon loop
// and the hashing workers, plus the identifiers and formatting used in reports.
package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// Stage names one phase of a simulated build
type Stage string

// StageWaiting is the quiescent state between cycles
const StageWaiting Stage = "WAITING"

// Default build pipeline stages
const (
	StageProvisioning   Stage = "PROVISIONING"
	StageDownloadSource Stage = "DOWNLOAD_SOURCE"
	StageBuild          Stage = "BUILD"
	StageDeploy         Stage = "DEPLOY"
	StageVerify         Stage = "VERIFY"
)

// RunState is the mutable record of one simulated cycle. All methods are
// safe for concurrent use; a single mutex guards every field.
type RunState struct {
	mu sync.Mutex

	cycleID        string
	stage          Stage
	stageIndex     int
	startTime      time.Time
	sharesFound    int64
	sharesAccepted int64
	hashrate       float64
}

// Snapshot is an immutable copy of a RunState
type Snapshot struct {
	CycleID        string    `json:"cycle_id"`
	Stage          Stage     `json:"stage"`
	StageIndex     int       `json:"stage_index"`
	StartTime      time.Time `json:"start_time"`
	SharesFound    int64     `json:"shares_found"`
	SharesAccepted int64     `json:"shares_accepted"`
	SharesRejected int64     `json:"shares_rejected"`
	Hashrate       float64   `json:"hashrate"`
	TakenAt        time.Time `json:"taken_at"`
}

// NewRunState returns a state in the WAITING stage
func NewRunState() *RunState {
	return &RunState{stage: StageWaiting, stageIndex: -1}
}

// Reset starts a new cycle: counters go to zero and the stage returns to WAITING
func (s *RunState) Reset(cycleID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleID = cycleID
	s.stage = StageWaiting
	s.stageIndex = -1
	s.startTime = now
	s.sharesFound = 0
	s.sharesAccepted = 0
	s.hashrate = 0
}

// EnterStage moves to stage index i. Stages only advance within a cycle.
func (s *RunState) EnterStage(i int, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i <= s.stageIndex {
		return fmt.Errorf("stage %s (index %d) does not advance past %s (index %d)", stage, i, s.stage, s.stageIndex)
	}
	s.stage = stage
	s.stageIndex = i
	return nil
}

// Wait returns the state to WAITING without touching the counters
func (s *RunState) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = StageWaiting
}

// RecordShare counts one found share as accepted or rejected
func (s *RunState) RecordShare(accepted bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sharesFound++
	if accepted {
		s.sharesAccepted++
	}
	return s.snapshotLocked(time.Now())
}

// SetHashrate replaces the current hash rate; negative values clamp to zero
func (s *RunState) SetHashrate(h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashrate = max(h, 0)
}

// Snapshot returns a consistent copy of the state
func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(time.Now())
}

func (s *RunState) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		CycleID:        s.cycleID,
		Stage:          s.stage,
		StageIndex:     s.stageIndex,
		StartTime:      s.startTime,
		SharesFound:    s.sharesFound,
		SharesAccepted: s.sharesAccepted,
		SharesRejected: s.sharesFound - s.sharesAccepted,
		Hashrate:       s.hashrate,
		TakenAt:        now,
	}
}

// Elapsed returns the time since the cycle started, as seen at now
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() || now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}
