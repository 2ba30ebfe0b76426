// Package miner is the long-running miner decoy: hashing workers in the
// background, a progress log, and a beacon report every interval with a
// detailed report every fifth time.
package miner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/cryptodecoy/internal/flavor"
	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/internal/workers"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// RewardPerShare is the fake payout credited for each accepted share
const RewardPerShare btcutil.Amount = 1250

// Settings tunes the miner
type Settings struct {
	Worker string
	Algo   string

	BeaconInterval        time.Duration
	DetailEvery           int
	CredentialProbability float64
	UseGPU                bool

	Workers workers.Config
}

// DefaultSettings returns a 30s beacon with a detailed report every fifth beacon
func DefaultSettings() Settings {
	return Settings{
		Worker:                "worker",
		Algo:                  "ethash",
		BeaconInterval:        30 * time.Second,
		DetailEvery:           5,
		CredentialProbability: 0.2,
		Workers:               workers.DefaultConfig(),
	}
}

// StateSink receives a snapshot after every report
type StateSink interface {
	SaveSnapshot(ctx context.Context, snap telemetry.Snapshot) error
}

// Miner owns the workers and the reporting loop
type Miner struct {
	settings Settings
	notifier notify.Notifier
	logger   *log.Logger

	state    *telemetry.RunState
	identity telemetry.Identity
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	sysinfo  func() flavor.SystemInfo
	sink     StateSink

	pool     *workers.Pool
	progress *workers.ProgressReporter
	reports  int
}

// Option customizes a Miner
type Option func(*Miner)

// WithSleeper replaces the real sleep between beacons and GPU setup steps
func WithSleeper(s func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Miner) { m.sleep = s }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Miner) { m.now = now }
}

// WithRand sets the random source for report decisions
func WithRand(r *rand.Rand) Option {
	return func(m *Miner) { m.rng = r }
}

// WithIdentity sets the identifiers printed in footers
func WithIdentity(id telemetry.Identity) Option {
	return func(m *Miner) { m.identity = id }
}

// WithSystemInfo replaces host inspection
func WithSystemInfo(f func() flavor.SystemInfo) Option {
	return func(m *Miner) { m.sysinfo = f }
}

// WithSink registers a snapshot store
func WithSink(s StateSink) Option {
	return func(m *Miner) { m.sink = s }
}

// New creates a miner
func New(settings Settings, notifier notify.Notifier, logger *log.Logger, options ...Option) *Miner {
	if settings.DetailEvery <= 0 {
		settings.DetailEvery = 5
	}
	if settings.BeaconInterval <= 0 {
		settings.BeaconInterval = 30 * time.Second
	}
	settings.Workers.Username = settings.Worker

	m := &Miner{
		settings: settings,
		notifier: notifier,
		logger:   logger.WithComponent("miner"),
		state:    telemetry.NewRunState(),
		sleep:    retry.Sleep,
		now:      time.Now,
		sysinfo:  flavor.CollectSystemInfo,
	}
	for _, o := range options {
		o(m)
	}

	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.identity.MinerID == "" {
		m.identity = telemetry.NewIdentity(m.rng)
	}

	m.pool = workers.NewPool(settings.Workers, m.state, logger)
	m.progress = workers.NewProgressReporter(m.state, settings.Algo,
		rand.New(rand.NewSource(m.rng.Int63())), logger)
	return m
}

// State returns the shared counters
func (m *Miner) State() *telemetry.RunState {
	return m.state
}

// Run mines until ctx is cancelled, then sends "Miner stopped", joins the
// workers and returns ctx.Err().
func (m *Miner) Run(ctx context.Context) error {
	m.state.Reset(m.identity.MinerID, m.now())

	m.logger.Info("starting miner",
		"algo", m.settings.Algo,
		"worker", m.settings.Worker,
		"beacon_interval", m.settings.BeaconInterval.String(),
		"threads", m.settings.Workers.Threads,
		"instance_id", m.identity.InstanceID,
	)

	if m.settings.UseGPU {
		if err := m.simulateGPU(ctx); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	m.pool.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.progress.Run(ctx)
	}()

	m.report(ctx, notify.KindLifecycle, notify.SeverityInfo, "Miner started")

	err := m.beacons(ctx)

	m.stop(ctx)
	m.pool.Wait()
	wg.Wait()

	snap := m.state.Snapshot()
	m.logger.Info("mining session ended",
		"runtime", telemetry.FormatRuntime(snap.Elapsed(m.now())),
		"shares", snap.FormatShares(),
		"shares_rejected", snap.SharesRejected,
		"total_hashes", m.pool.TotalHashes(),
	)
	return err
}

func (m *Miner) beacons(ctx context.Context) error {
	for {
		if err := m.sleep(ctx, m.settings.BeaconInterval); err != nil {
			return err
		}

		m.reports++
		if m.reports%m.settings.DetailEvery == 0 {
			m.detailedReport(ctx)
		} else {
			m.report(ctx, notify.KindStatus, notify.SeverityInfo, "Mining operation in progress")
		}
		m.persist(ctx)
	}
}

// simulateGPU logs the device scan and DAG generation a GPU miner prints
func (m *Miner) simulateGPU(ctx context.Context) error {
	m.logger.Info("checking GPU devices")
	if err := m.sleep(ctx, time.Second); err != nil {
		return err
	}
	m.logger.Info("found 2 compatible GPU devices")
	m.logger.Info("initializing DAG on GPU")
	if err := m.sleep(ctx, 3*time.Second); err != nil {
		return err
	}
	m.logger.Info("DAG generation complete")
	return nil
}

func (m *Miner) stop(ctx context.Context) {
	m.logger.Info("stopping miner")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	m.report(stopCtx, notify.KindLifecycle, notify.SeverityDanger, "Miner stopped")
	m.persist(stopCtx)
}

func (m *Miner) statusFields(snap telemetry.Snapshot) []notify.Field {
	return []notify.Field{
		{Title: "Worker", Value: m.settings.Worker, Short: true},
		{Title: "Algorithm", Value: m.settings.Algo, Short: true},
		{Title: "Hashrate", Value: telemetry.FormatHashrate(snap.Hashrate, m.settings.Algo), Short: true},
		{Title: "Runtime", Value: telemetry.FormatRuntime(snap.Elapsed(m.now())), Short: true},
	}
}

func (m *Miner) report(ctx context.Context, kind notify.Kind, severity notify.Severity, message string) {
	snap := m.state.Snapshot()
	ev := notify.NewEvent(kind, severity, message, m.statusFields(snap), m.now()).
		WithEnvelope("Simulated Cryptominer Report", m.identity.MinerFooter(false))
	m.send(ctx, ev)
}

func (m *Miner) detailedReport(ctx context.Context) {
	snap := m.state.Snapshot()
	fields := append(m.statusFields(snap),
		notify.Field{Title: "Shares", Value: snap.FormatSharesDetailed(), Short: false},
		notify.Field{Title: "Estimated Reward", Value: EstimatedReward(snap).String(), Short: true},
		m.sysinfo().Field(),
	)
	if m.rng.Float64() < m.settings.CredentialProbability {
		fields = append(fields, flavor.NewCredentials(m.rng).Field())
	}

	ev := notify.NewEvent(notify.KindStatus, notify.SeverityInfo,
		"Detailed status report of the simulated cryptominer", fields, m.now()).
		WithEnvelope("Detailed Cryptominer Report", m.identity.MinerFooter(true))
	m.send(ctx, ev)
}

func (m *Miner) send(ctx context.Context, ev notify.Event) {
	err := m.notifier.Notify(ctx, ev)
	m.logger.LogNotification(ev.Message, ev.Severity.String(), err)
}

func (m *Miner) persist(ctx context.Context) {
	if m.sink == nil {
		return
	}
	if err := m.sink.SaveSnapshot(ctx, m.state.Snapshot()); err != nil {
		m.logger.WithError(err).Warn("failed to persist snapshot")
	}
}

// EstimatedReward is the fake payout for the accepted shares in snap
func EstimatedReward(snap telemetry.Snapshot) btcutil.Amount {
	return RewardPerShare * btcutil.Amount(snap.SharesAccepted)
}
