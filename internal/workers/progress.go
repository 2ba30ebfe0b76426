package workers

import (
	"context"
	"math/rand"
	"time"

	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// ProgressReporter logs a miner-style progress line at random intervals
type ProgressReporter struct {
	counters Counters
	algo     string
	min, max time.Duration
	rng      *rand.Rand
	logger   *log.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewProgressReporter reports every 5 to 15 seconds
func NewProgressReporter(counters Counters, algo string, rng *rand.Rand, logger *log.Logger) *ProgressReporter {
	return &ProgressReporter{
		counters: counters,
		algo:     algo,
		min:      5 * time.Second,
		max:      15 * time.Second,
		rng:      rng,
		logger:   logger.WithComponent("progress"),
		now:      time.Now,
		sleep:    retry.Sleep,
	}
}

// Run logs until ctx is cancelled
func (p *ProgressReporter) Run(ctx context.Context) {
	for {
		wait := p.min + time.Duration(p.rng.Int63n(int64(p.max-p.min)+1))
		if err := p.sleep(ctx, wait); err != nil {
			return
		}
		p.Report()
	}
}

// Report logs one progress line from the current counters
func (p *ProgressReporter) Report() telemetry.Snapshot {
	snap := p.counters.Snapshot()
	p.logger.LogProgress(
		snap.Elapsed(p.now()),
		snap.Hashrate,
		telemetry.HashrateUnit(p.algo),
		snap.SharesFound,
		snap.SharesAccepted,
		snap.SharesRejected,
	)
	return snap
}
