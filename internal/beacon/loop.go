// Package beacon drives the build pipeline decoy: it walks a fixed stage
// list on a timer, simulates mining during the work stage and reports
// every transition through a notifier.
package beacon

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/bardlex/cryptodecoy/internal/flavor"
	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// Sleeper blocks for d or until ctx is done, whichever comes first
type Sleeper func(ctx context.Context, d time.Duration) error

// StateSink receives a snapshot after every state change
type StateSink interface {
	SaveSnapshot(ctx context.Context, snap telemetry.Snapshot) error
}

// Labels are the cosmetic values repeated in every report
type Labels struct {
	Service string
	Worker  string
	Algo    string
	Region  string
}

// Loop is the beacon loop. It is not safe for concurrent use; run one
// RunForever per Loop.
type Loop struct {
	opts     Options
	labels   Labels
	notifier notify.Notifier
	logger   *log.Logger

	state    *telemetry.RunState
	identity telemetry.Identity
	rng      *rand.Rand
	sleep    Sleeper
	now      func() time.Time
	sink     StateSink
}

// Option customizes a Loop
type Option func(*Loop)

// WithSleeper replaces the real sleep; tests use it to run instantly
func WithSleeper(s Sleeper) Option {
	return func(l *Loop) { l.sleep = s }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithRand sets the random source used for every draw
func WithRand(r *rand.Rand) Option {
	return func(l *Loop) { l.rng = r }
}

// WithState shares a RunState with other components
func WithState(s *telemetry.RunState) Option {
	return func(l *Loop) { l.state = s }
}

// WithIdentity sets the identifiers printed in footers
func WithIdentity(id telemetry.Identity) Option {
	return func(l *Loop) { l.identity = id }
}

// WithSink registers a snapshot store
func WithSink(s StateSink) Option {
	return func(l *Loop) { l.sink = s }
}

// New creates a loop. Options are validated here so a bad plan fails
// before anything is sent.
func New(opts Options, labels Labels, notifier notify.Notifier, logger *log.Logger, options ...Option) (*Loop, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.CPUCount <= 0 {
		opts.CPUCount = runtime.NumCPU()
	}

	l := &Loop{
		opts:     opts,
		labels:   labels,
		notifier: notifier,
		logger:   logger.WithComponent("beacon"),
		sleep:    retry.Sleep,
		now:      time.Now,
	}
	for _, o := range options {
		o(l)
	}

	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if l.state == nil {
		l.state = telemetry.NewRunState()
	}
	if l.identity.BuildID == "" {
		l.identity = telemetry.NewIdentity(l.rng)
	}
	return l, nil
}

// State returns the shared run state
func (l *Loop) State() *telemetry.RunState {
	return l.state
}

// Identity returns the identifiers of the current build
func (l *Loop) Identity() telemetry.Identity {
	return l.identity
}

// RunForever runs cycles until ctx is cancelled or a cycle fails.
// Cancellation returns ctx.Err(). Any other failure is reported once as
// a "Simulation error" and returned.
func (l *Loop) RunForever(ctx context.Context) error {
	l.logger.Info("starting simulation",
		"service", l.labels.Service,
		"worker", l.labels.Worker,
		"instance_id", l.identity.InstanceID,
		"build_id", l.identity.BuildID,
		"app_id", l.identity.AppID,
	)

	if l.rng.Float64() < l.opts.CredentialLeakProbability {
		l.logger.Info("simulating AWS credential leak")
		l.decorate(ctx, flavor.CredentialLeakEvent(l.rng, l.now()))
	}

	for {
		if err := l.runCycleSafe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WithError(err).Error("simulation cycle failed")
			l.emit(ctx, notify.KindLifecycle, notify.SeverityDanger,
				"Simulation error: "+err.Error(), nil)
			return err
		}

		l.decorate(ctx, flavor.BuildLogEvent(l.rng, l.labels.Algo, l.now()))

		l.state.Wait()
		l.persist(ctx)

		wait := l.draw(l.opts.WaitMin, l.opts.WaitMax)
		l.logger.Info("waiting before next build", "wait", wait.String())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}

		l.identity = l.identity.NextBuild()
		l.logger.Info("starting new build", "build_id", l.identity.BuildID)
	}
}

// runCycleSafe turns a panic inside a cycle into an error
func (l *Loop) runCycleSafe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrorTypeInternal, "run_cycle",
				fmt.Sprintf("cycle panicked: %v", r))
		}
	}()
	return l.RunCycle(ctx)
}

// RunCycle walks every stage of the plan once. It returns nil after the
// cycle completion report, or ctx.Err() if cancelled; no stage is started
// after cancellation.
func (l *Loop) RunCycle(ctx context.Context) error {
	cycleID := l.identity.BuildID
	l.state.Reset(cycleID, l.now())
	ctx = context.WithValue(ctx, log.CycleIDKey, cycleID)
	logger := l.logger.WithCycle(cycleID, l.identity.BuildID)

	start := l.now()
	l.emit(ctx, notify.KindCycleStarted, notify.SeverityInfo,
		"Build started: "+l.identity.BuildID, nil)

	for i, st := range l.opts.Plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.state.EnterStage(i, st.Name); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "enter_stage",
				"stage order violated").WithContext("stage", string(st.Name))
		}

		duration := l.draw(st.Min, st.Max)
		logger.WithStage(string(st.Name)).Info("entering stage",
			"estimated_duration", duration.String())
		l.emit(ctx, notify.KindStageStarted, notify.SeverityInfo, "Stage started: "+string(st.Name), nil)
		l.persist(ctx)

		var err error
		if st.Work {
			err = l.work(ctx, st.Name, duration)
		} else {
			err = l.sleep(ctx, duration)
		}
		if err != nil {
			logger.WithStage(string(st.Name)).Info("stage interrupted", "reason", err.Error())
			return err
		}

		l.emit(ctx, notify.KindStageCompleted, notify.SeverityInfo, "Stage completed: "+string(st.Name), nil)
	}

	l.emit(ctx, notify.KindCycleCompleted, notify.SeverityInfo,
		"Build completed: "+l.identity.BuildID,
		[]notify.Field{{Title: "Build URL", Value: "https://" + l.identity.AmplifyDomain(), Short: false}})
	l.persist(ctx)
	logger.LogDuration("cycle", l.now().Sub(start))
	return nil
}

// work simulates mining for duration, split into randomly sized ticks
func (l *Loop) work(ctx context.Context, stage telemetry.Stage, duration time.Duration) error {
	hashrate := (10 + l.rng.Float64()*15) * float64(l.opts.CPUCount)
	l.state.SetHashrate(hashrate)

	l.emit(ctx, notify.KindStatus, notify.SeverityWarn, fmt.Sprintf("Mining started during %s phase", stage), nil)

	var elapsed time.Duration
	for elapsed < duration {
		if l.rng.Float64() < l.opts.ShareProbability {
			accepted := l.rng.Float64() < l.opts.AcceptProbability
			snap := l.state.RecordShare(accepted)
			l.logger.LogShare(accepted, snap.SharesFound, snap.SharesAccepted, snap.SharesRejected)
		}

		if l.rng.Float64() < l.opts.StatusProbability {
			snap := l.state.Snapshot()
			l.emit(ctx, notify.KindStatus, notify.SeverityWarn,
				fmt.Sprintf("Mining in progress: %d shares found", snap.SharesAccepted),
				l.miningFields(snap, elapsed))
		}

		tick := min(l.draw(l.opts.TickMin, l.opts.TickMax), duration-elapsed)
		if err := l.sleep(ctx, tick); err != nil {
			return err
		}
		elapsed += tick
		l.persist(ctx)
	}

	snap := l.state.Snapshot()
	l.emit(ctx, notify.KindStatus, notify.SeverityWarn,
		fmt.Sprintf("Mining completed: %d shares found", snap.SharesAccepted),
		l.miningFields(snap, duration))
	return nil
}

func (l *Loop) miningFields(snap telemetry.Snapshot, elapsed time.Duration) []notify.Field {
	return []notify.Field{
		{Title: "Hashrate", Value: telemetry.FormatHashrate(snap.Hashrate, l.labels.Algo), Short: true},
		{Title: "Runtime", Value: telemetry.FormatRuntime(elapsed), Short: true},
		{Title: "Shares", Value: snap.FormatShares(), Short: true},
	}
}

func (l *Loop) baseFields() []notify.Field {
	return []notify.Field{
		{Title: "Service", Value: l.labels.Service, Short: true},
		{Title: "Worker", Value: l.labels.Worker, Short: true},
		{Title: "Algorithm", Value: l.labels.Algo, Short: true},
		{Title: "Region", Value: l.labels.Region, Short: true},
		{Title: "Build Stage", Value: string(l.state.Snapshot().Stage), Short: true},
	}
}

// emit builds a report with the common fields and sends it
func (l *Loop) emit(ctx context.Context, kind notify.Kind, severity notify.Severity, message string, extra []notify.Field) {
	fields := append(l.baseFields(), extra...)
	l.send(ctx, notify.NewEvent(kind, severity, message, fields, l.now()))
}

// decorate sends a pre-built flavor event with the common fields prepended
func (l *Loop) decorate(ctx context.Context, ev notify.Event) {
	l.emit(ctx, ev.Kind, ev.Severity, ev.Message, ev.Fields)
}

// send delivers one event. A failed delivery is logged once and dropped.
func (l *Loop) send(ctx context.Context, event notify.Event) {
	event = event.WithEnvelope(
		fmt.Sprintf("Simulated AWS %s Cryptominer", l.labels.Service),
		l.identity.AmplifyFooter(),
	)
	err := l.notifier.Notify(ctx, event)
	l.logger.LogNotification(event.Message, event.Severity.String(), err)
}

// NotifyStopped sends the final "Simulation stopped" report. It detaches
// from ctx so it still goes out after cancellation.
func (l *Loop) NotifyStopped(ctx context.Context, timeout time.Duration) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	l.logger.Info("simulation interrupted, shutting down")
	l.emit(sendCtx, notify.KindLifecycle, notify.SeverityDanger, "Simulation stopped", nil)
}

func (l *Loop) persist(ctx context.Context) {
	if l.sink == nil {
		return
	}
	if err := l.sink.SaveSnapshot(ctx, l.state.Snapshot()); err != nil {
		l.logger.WithError(err).Warn("failed to persist snapshot")
	}
}

// draw returns a duration uniformly distributed in [lo, hi]
func (l *Loop) draw(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(l.rng.Int63n(int64(hi-lo)+1))
}
