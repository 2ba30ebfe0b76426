package miner

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/cryptodecoy/internal/flavor"
	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	ctxs   []context.Context
}

func (r *recorder) Notify(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.ctxs = append(r.ctxs, ctx)
	return nil
}

var testIdentity = telemetry.Identity{
	MinerID:    "0f0e0d0c-1111-2222-3333-444444444444",
	InstanceID: "i-deadbeef",
	AccountID:  "123456789012",
	AppID:      "dcafebabe",
	BuildID:    "b1234567",
}

func fakeSystemInfo() flavor.SystemInfo {
	return flavor.SystemInfo{Hostname: "build-host", IP: "10.0.0.5", OS: "linux", Architecture: "amd64", CPUCount: 4, GoVersion: "go1.24"}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Worker = "worker-test"
	s.Algo = "cryptonight"
	s.CredentialProbability = 0
	s.Workers.Threads = 1
	s.Workers.Intensity = 1
	s.Workers.ShareProbability = 0
	s.Workers.Pause = time.Millisecond
	s.Workers.Seed = 1
	return s
}

// cancellingSleeper cancels ctx on the nth call
func cancellingSleeper(cancel context.CancelFunc, n int) func(context.Context, time.Duration) error {
	calls := 0
	return func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls >= n {
			cancel()
		}
		return ctx.Err()
	}
}

func newTestMiner(settings Settings, rec *recorder, sleeper func(context.Context, time.Duration) error, extra ...Option) *Miner {
	options := append([]Option{
		WithSleeper(sleeper),
		WithRand(rand.New(rand.NewSource(1))),
		WithIdentity(testIdentity),
		WithSystemInfo(fakeSystemInfo),
	}, extra...)
	return New(settings, rec, log.Discard(), options...)
}

func TestRun_ReportSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	m := newTestMiner(testSettings(), rec, cancellingSleeper(cancel, 6))

	err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	var got []string
	for _, ev := range rec.events {
		got = append(got, ev.Message)
	}
	want := []string{
		"Miner started",
		"Mining operation in progress",
		"Mining operation in progress",
		"Mining operation in progress",
		"Mining operation in progress",
		"Detailed status report of the simulated cryptominer",
		"Miner stopped",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %v, want %v", got, want)
	}

	first := rec.events[0]
	if first.Title != "Simulated Cryptominer Report" || first.Footer != "Instance: i-deadbeef | ID: 0f0e0d0c" {
		t.Errorf("unexpected envelope %q / %q", first.Title, first.Footer)
	}
	if first.Severity != notify.SeverityInfo {
		t.Errorf("start severity = %v", first.Severity)
	}
	if first.Fields[2].Title != "Hashrate" || !strings.HasSuffix(first.Fields[2].Value, "KH/s") {
		t.Errorf("unexpected hashrate field %+v", first.Fields[2])
	}

	detailed := rec.events[5]
	if detailed.Title != "Detailed Cryptominer Report" || !strings.Contains(detailed.Footer, "Account: 123456789012") {
		t.Errorf("unexpected detailed envelope %q / %q", detailed.Title, detailed.Footer)
	}
	titles := make(map[string]string)
	for _, f := range detailed.Fields {
		titles[f.Title] = f.Value
	}
	if !strings.HasPrefix(titles["Shares"], "Found: 0, Accepted: 0, Rejected: 0") {
		t.Errorf("shares field = %q", titles["Shares"])
	}
	if !strings.Contains(titles["System Information"], "*hostname*: build-host") {
		t.Errorf("system information = %q", titles["System Information"])
	}
	if titles["Estimated Reward"] != "0 BTC" {
		t.Errorf("estimated reward = %q", titles["Estimated Reward"])
	}
	if _, ok := titles[flavor.CredentialsTitle]; ok {
		t.Error("credentials should not appear with probability 0")
	}

	last := rec.events[len(rec.events)-1]
	if last.Severity != notify.SeverityDanger {
		t.Errorf("stop severity = %v", last.Severity)
	}
	if rec.ctxs[len(rec.ctxs)-1].Err() != nil {
		t.Error("stop report should be sent on a live context")
	}
}

func TestRun_DetailedCredentials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := testSettings()
	settings.DetailEvery = 1
	settings.CredentialProbability = 1

	rec := &recorder{}
	m := newTestMiner(settings, rec, cancellingSleeper(cancel, 2))
	_ = m.Run(ctx)

	var found bool
	for _, ev := range rec.events {
		for _, f := range ev.Fields {
			if f.Title == flavor.CredentialsTitle && strings.Contains(f.Value, "Access Key: AKIA") {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected simulated credentials in the detailed report")
	}
}

func TestRun_GPUSetupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := testSettings()
	settings.UseGPU = true

	rec := &recorder{}
	m := newTestMiner(settings, rec, cancellingSleeper(cancel, 1))

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("no reports expected before the miner starts, got %d", len(rec.events))
	}
}

func TestRun_SharesReachCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := testSettings()
	settings.Workers.ShareProbability = 0.05

	rec := &recorder{}
	sleeper := func(ctx context.Context, d time.Duration) error {
		// Let the workers hash for a moment, then stop
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		cancel()
		return ctx.Err()
	}
	m := newTestMiner(settings, rec, sleeper)
	_ = m.Run(ctx)

	snap := m.State().Snapshot()
	if snap.SharesFound == 0 {
		t.Fatal("expected shares from the workers")
	}
	if snap.SharesAccepted+snap.SharesRejected != snap.SharesFound {
		t.Errorf("accepted+rejected != found: %+v", snap)
	}
}

func TestEstimatedReward(t *testing.T) {
	tests := []struct {
		accepted int64
		want     string
	}{
		{0, "0 BTC"},
		{4, "0.00005 BTC"},
		{80000, "1 BTC"},
	}
	for _, tt := range tests {
		got := EstimatedReward(telemetry.Snapshot{SharesAccepted: tt.accepted}).String()
		if got != tt.want {
			t.Errorf("EstimatedReward(%d) = %s, want %s", tt.accepted, got, tt.want)
		}
	}
}
