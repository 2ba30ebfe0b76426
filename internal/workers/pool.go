// Package workers runs the background hashing goroutines of the miner
// decoy. They burn a modest, bursty amount of CPU hashing synthetic block
// headers so host monitoring sees a miner-shaped load.
package workers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/cryptodecoy/internal/pow"
	"github.com/bardlex/cryptodecoy/internal/stratum"
	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// UserAgent is what the workers claim to be in Stratum handshakes
const UserAgent = "xmrig/6.16.2"

// Counters is the shared state the workers update
type Counters interface {
	RecordShare(accepted bool) telemetry.Snapshot
	SetHashrate(h float64)
	Snapshot() telemetry.Snapshot
}

// Config tunes the pool
type Config struct {
	Threads   int
	Intensity int // 1-10; scales the hashes per batch

	// ShareProbability is the chance that one hash meets the share target
	ShareProbability  float64
	AcceptProbability float64

	// Pause is the sleep between batches
	Pause time.Duration

	// Username goes into the logged mining.submit lines
	Username string
	Seed     int64
}

// DefaultConfig hashes 1000 headers per batch at intensity 8, with about
// a 1% chance of a share per batch
func DefaultConfig() Config {
	return Config{
		Threads:           1,
		Intensity:         8,
		ShareProbability:  0.00001,
		AcceptProbability: 0.95,
		Pause:             100 * time.Millisecond,
		Username:          "worker",
	}
}

// BatchSize returns the hashes per batch for the configured intensity
func (c Config) BatchSize() int {
	return 125 * min(max(c.Intensity, 1), 10)
}

// Pool is a fixed set of hashing goroutines
type Pool struct {
	cfg      Config
	counters Counters
	logger   *log.Logger
	target   []byte

	mu    sync.Mutex
	rates []float64

	wg       sync.WaitGroup
	started  atomic.Bool
	hashes   atomic.Uint64
	submitID atomic.Uint64
}

// NewPool creates a pool; nothing runs until Start
func NewPool(cfg Config, counters Counters, logger *log.Logger) *Pool {
	cfg.Threads = max(cfg.Threads, 1)
	if cfg.Pause <= 0 {
		cfg.Pause = 100 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Pool{
		cfg:      cfg,
		counters: counters,
		logger:   logger.WithComponent("workers"),
		target:   pow.DifficultyToTarget(pow.DifficultyForProbability(cfg.ShareProbability)),
		rates:    make([]float64, cfg.Threads),
	}
}

// Start launches the workers. They stop when ctx is cancelled; call Wait
// to join them. Start is a no-op after the first call.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.logger.LogStratumMessage("out", stratum.NewSubscribe(p.submitID.Add(1), UserAgent).String())
	p.logger.LogStratumMessage("out", stratum.NewAuthorize(p.submitID.Add(1), p.cfg.Username, "x").String())

	p.logger.Info("starting mining threads",
		"threads", p.cfg.Threads,
		"batch_size", p.cfg.BatchSize(),
		"target", pow.TargetHex(p.target),
	)

	for i := range p.cfg.Threads {
		p.wg.Add(1)
		go p.run(ctx, i)
		p.logger.Info("thread started", "thread", i)
	}
}

// Wait blocks until every worker has returned
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Hashrate returns the summed rate of all workers
func (p *Pool) Hashrate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sumLocked()
}

// TotalHashes returns the number of headers hashed so far
func (p *Pool) TotalHashes() uint64 {
	return p.hashes.Load()
}

func (p *Pool) sumLocked() float64 {
	var sum float64
	for _, r := range p.rates {
		sum += r
	}
	return sum
}

func (p *Pool) setRate(id int, rate float64) {
	p.mu.Lock()
	p.rates[id] = rate
	total := p.sumLocked()
	p.mu.Unlock()

	p.counters.SetHashrate(total)
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.WithWorker(id)
	r := rand.New(rand.NewSource(p.cfg.Seed + int64(id)))
	batch := p.cfg.BatchSize()
	logger.Debug("worker initialized")

	for {
		start := time.Now()
		header := pow.NewHeader(r, start, 4)
		jobID := fmt.Sprintf("%08x", r.Uint32())

		for i := range batch {
			if i%100 == 0 && ctx.Err() != nil {
				return
			}
			hash, err := pow.HashHeader(&header)
			if err != nil {
				logger.WithError(err).Warn("failed to hash header")
				break
			}
			if pow.HashMeetsTarget(hash, p.target) {
				p.submit(logger, r, &header, jobID)
			}
			header.Nonce++
		}
		p.hashes.Add(uint64(batch))

		if err := retry.Sleep(ctx, p.cfg.Pause); err != nil {
			return
		}

		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			p.setRate(id, float64(batch)/elapsed/1000)
		}
	}
}

// submit records a found share and logs the Stratum exchange for it
func (p *Pool) submit(logger *log.Logger, r *rand.Rand, header *wire.BlockHeader, jobID string) {
	accepted := r.Float64() < p.cfg.AcceptProbability
	snap := p.counters.RecordShare(accepted)

	id := p.submitID.Add(1)
	extraNonce2 := fmt.Sprintf("%08x", r.Uint32())
	logger.LogStratumMessage("out",
		stratum.NewSubmit(id, p.cfg.Username, jobID, extraNonce2, uint32(header.Timestamp.Unix()), header.Nonce).String())
	logger.LogStratumMessage("in", stratum.ShareResponse(id, accepted).String())
	logger.LogShare(accepted, snap.SharesFound, snap.SharesAccepted, snap.SharesRejected)
}
