package telemetry

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunState_Reset(t *testing.T) {
	s := NewRunState()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.RecordShare(true)
	s.SetHashrate(12.5)
	if err := s.EnterStage(0, StageProvisioning); err != nil {
		t.Fatal(err)
	}

	s.Reset("cycle-2", start)
	snap := s.Snapshot()

	if snap.CycleID != "cycle-2" || snap.Stage != StageWaiting || snap.StageIndex != -1 {
		t.Errorf("unexpected snapshot after reset: %+v", snap)
	}
	if snap.SharesFound != 0 || snap.SharesAccepted != 0 || snap.SharesRejected != 0 || snap.Hashrate != 0 {
		t.Errorf("counters not reset: %+v", snap)
	}
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", snap.StartTime, start)
	}
}

func TestRunState_EnterStageMonotonic(t *testing.T) {
	s := NewRunState()
	s.Reset("c", time.Now())

	if err := s.EnterStage(0, "A"); err != nil {
		t.Fatalf("EnterStage(0) error = %v", err)
	}
	if err := s.EnterStage(1, "B"); err != nil {
		t.Fatalf("EnterStage(1) error = %v", err)
	}
	if err := s.EnterStage(1, "B"); err == nil {
		t.Error("expected repeating a stage to fail")
	}
	if err := s.EnterStage(0, "A"); err == nil {
		t.Error("expected going backwards to fail")
	}

	s.Wait()
	if got := s.Snapshot().Stage; got != StageWaiting {
		t.Errorf("Stage after Wait = %s, want WAITING", got)
	}

	s.Reset("c2", time.Now())
	if err := s.EnterStage(0, "A"); err != nil {
		t.Errorf("expected stage 0 to be allowed after reset, got %v", err)
	}
}

func TestRunState_ShareInvariant(t *testing.T) {
	s := NewRunState()
	s.Reset("c", time.Now())
	r := rand.New(rand.NewSource(7))

	var lastFound int64
	for range 500 {
		snap := s.RecordShare(r.Float64() < 0.95)
		if snap.SharesAccepted+snap.SharesRejected != snap.SharesFound {
			t.Fatalf("invariant broken: %+v", snap)
		}
		if snap.SharesFound < lastFound {
			t.Fatalf("found decreased: %d -> %d", lastFound, snap.SharesFound)
		}
		lastFound = snap.SharesFound
	}
}

func TestRunState_ConcurrentUpdates(t *testing.T) {
	s := NewRunState()
	s.Reset("c", time.Now())

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range perWorker {
				s.RecordShare((i+id)%4 != 0)
				s.SetHashrate(float64(i))
				snap := s.Snapshot()
				if snap.SharesAccepted+snap.SharesRejected != snap.SharesFound {
					t.Errorf("invariant broken: %+v", snap)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if got := s.Snapshot().SharesFound; got != workers*perWorker {
		t.Errorf("SharesFound = %d, want %d", got, workers*perWorker)
	}
}

func TestRunState_SetHashrateClamps(t *testing.T) {
	s := NewRunState()
	s.SetHashrate(-3)
	if h := s.Snapshot().Hashrate; h != 0 {
		t.Errorf("Hashrate = %v, want 0", h)
	}
}

func TestSnapshot_Elapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start}

	if got := snap.Elapsed(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Elapsed = %v, want 90s", got)
	}
	if got := snap.Elapsed(start.Add(-time.Second)); got != 0 {
		t.Errorf("Elapsed before start = %v, want 0", got)
	}
	if got := (Snapshot{}).Elapsed(start); got != 0 {
		t.Errorf("Elapsed without start = %v, want 0", got)
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatRuntime(3*time.Hour + 4*time.Minute + 5*time.Second + 600*time.Millisecond); got != "03:04:05" {
		t.Errorf("FormatRuntime = %q", got)
	}
	if got := FormatRuntime(-time.Second); got != "00:00:00" {
		t.Errorf("FormatRuntime(negative) = %q", got)
	}
	if got := FormatHashrate(12.345, "randomx"); got != "12.35 KH/s" {
		t.Errorf("FormatHashrate = %q", got)
	}
	if got := HashrateUnit("ethash"); got != "MH/s" {
		t.Errorf("HashrateUnit(ethash) = %q", got)
	}

	snap := Snapshot{SharesFound: 5, SharesAccepted: 4, SharesRejected: 1}
	if got := snap.FormatShares(); got != "4/5" {
		t.Errorf("FormatShares = %q", got)
	}
	if got := snap.FormatSharesDetailed(); got != "Found: 5, Accepted: 4, Rejected: 1" {
		t.Errorf("FormatSharesDetailed = %q", got)
	}
}

func TestIdentity(t *testing.T) {
	id := NewIdentity(rand.New(rand.NewSource(1)))

	if !strings.HasPrefix(id.InstanceID, "i-") || len(id.InstanceID) != 10 {
		t.Errorf("InstanceID = %q", id.InstanceID)
	}
	if !strings.HasPrefix(id.AppID, "d") || len(id.AppID) != 9 {
		t.Errorf("AppID = %q", id.AppID)
	}
	if len(id.AccountID) != 12 {
		t.Errorf("AccountID = %q, want 12 digits", id.AccountID)
	}
	if len(id.BuildID) != 8 {
		t.Errorf("BuildID = %q", id.BuildID)
	}

	next := id.NextBuild()
	if next.BuildID == id.BuildID {
		t.Error("NextBuild should change the build id")
	}
	if next.AppID != id.AppID || next.InstanceID != id.InstanceID {
		t.Error("NextBuild should keep the other identifiers")
	}
	if next.AmplifyDomain() != next.BuildID+".amplifyapp.com" {
		t.Errorf("AmplifyDomain = %q", next.AmplifyDomain())
	}
	if !strings.Contains(next.AmplifyFooter(), "Build: "+next.BuildID) {
		t.Errorf("AmplifyFooter = %q", next.AmplifyFooter())
	}
	if !strings.Contains(id.MinerFooter(true), "Account: "+id.AccountID) {
		t.Errorf("MinerFooter(true) = %q", id.MinerFooter(true))
	}
	if strings.Contains(id.MinerFooter(false), "Account") {
		t.Errorf("MinerFooter(false) = %q", id.MinerFooter(false))
	}
}

func TestMinerFooter_ShortID(t *testing.T) {
	tests := []struct {
		minerID string
		want    string
	}{
		{"", "Instance: i-1 | ID: "},
		{"abc", "Instance: i-1 | ID: abc"},
		{"0f0e0d0c-1111", "Instance: i-1 | ID: 0f0e0d0c"},
	}
	for _, tt := range tests {
		id := Identity{InstanceID: "i-1", MinerID: tt.minerID}
		if got := id.MinerFooter(false); got != tt.want {
			t.Errorf("MinerFooter(%q) = %q, want %q", tt.minerID, got, tt.want)
		}
	}
}
