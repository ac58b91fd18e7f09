package miner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/screa/pow-round-miner/internal/crypto"
	"github.com/screa/pow-round-miner/internal/logger"
	"github.com/screa/pow-round-miner/pkg/partition"
	"github.com/screa/pow-round-miner/pkg/types"
	"github.com/screa/pow-round-miner/pkg/worker"
)

// Errors
var (
	ErrNoCores     = errors.New("no usable cpu cores")
	ErrWorkerPanic = errors.New("search worker failed")
)

// DefaultExpiryGrace is how long after the cutoff the coordinator waits for
// the reporter before declaring the round expired itself
const DefaultExpiryGrace = 250 * time.Millisecond

// Options tune a Coordinator. Zero values select the defaults.
type Options struct {
	CheckStride       int
	HeartbeatInterval time.Duration
	ExpiryGrace       time.Duration
	LogInterval       time.Duration // progress logging; zero disables it

	// NoPin leaves workers unpinned instead of binding each to its CPU
	NoPin bool

	NewSolver func() worker.Solver
	Sampler   worker.Sampler
	CoreIDs   func() ([]int, error)
}

// Coordinator fans a round out to one worker per core and funnels their
// messages back as a single stream of strictly improving solutions
type Coordinator struct {
	opts   Options
	logger *logger.Logger

	// enumerated once, before any worker has pinned a thread
	cpus    []int
	cpusErr error
}

// NewCoordinator creates a new coordinator
func NewCoordinator(opts Options, log *logger.Logger) *Coordinator {
	if opts.ExpiryGrace <= 0 {
		opts.ExpiryGrace = DefaultExpiryGrace
	}
	if opts.NewSolver == nil {
		opts.NewSolver = func() worker.Solver { return crypto.NewSolver() }
	}
	if opts.CoreIDs == nil {
		opts.CoreIDs = worker.CoreIDs
	}
	cpus, err := opts.CoreIDs()
	return &Coordinator{
		opts:    opts,
		logger:  log,
		cpus:    cpus,
		cpusErr: err,
	}
}

// Run searches one round. It returns after forwarding Expired upstream,
// when ctx is cancelled, or when a worker fails. Workers are released when
// Run returns and stop at their next checkpoint.
func (c *Coordinator) Run(ctx context.Context, round types.Round, upstream chan<- types.Message) error {
	if c.cpusErr != nil {
		return fmt.Errorf("%w: %v", ErrNoCores, c.cpusErr)
	}
	cpus := c.cpus
	if len(cpus) > int(round.Cores) {
		cpus = cpus[:round.Cores]
	}
	if len(cpus) == 0 {
		return ErrNoCores
	}
	if len(cpus) < int(round.Cores) {
		c.logger.Warnw("fewer cores available than requested", "requested", round.Cores, "available", len(cpus))
	}

	assignments, err := partition.ComputeAssignments(round.Member, round.Cores)
	if err != nil {
		return fmt.Errorf("partition nonce space: %w", err)
	}

	if !forward(ctx, upstream, types.Init()) {
		return ctx.Err()
	}

	msgs := make(chan types.Message, 4*len(cpus))
	failures := make(chan error, len(cpus))
	done := make(chan struct{})
	defer close(done)

	var hashes atomic.Uint64
	start := time.Now()

	for core, cpu := range cpus {
		if c.opts.NoPin {
			cpu = -1
		}
		w := worker.New(worker.Config{
			Core:              core,
			CPU:               cpu,
			StartNonce:        assignments[core],
			Challenge:         round.Challenge,
			Cutoff:            round.Cutoff,
			MinDifficulty:     round.MinDifficulty,
			Reporter:          core == 0,
			CheckStride:       c.opts.CheckStride,
			HeartbeatInterval: c.opts.HeartbeatInterval,
			Solver:            c.opts.NewSolver(),
			Sampler:           c.opts.Sampler,
			Hashes:            &hashes,
		}, msgs, done, c.logger)

		go func() {
			if err := w.Run(); err != nil {
				failures <- err
			}
		}()
	}

	c.logger.Infow("round started",
		"last_hash_at", round.Challenge.LastHashAt,
		"workers", len(cpus),
		"cutoff", round.Cutoff,
		"min_difficulty", round.MinDifficulty)

	if c.opts.LogInterval > 0 {
		ticker := time.NewTicker(c.opts.LogInterval)
		logDone := make(chan struct{})
		defer func() {
			ticker.Stop()
			close(logDone)
		}()
		go c.periodicLogger(ticker, logDone, start, &hashes)
	}

	best, err := c.relay(ctx, round, msgs, failures, upstream)

	elapsed := time.Since(start)
	total := hashes.Load()
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(total) / elapsed.Seconds()
	}
	if err != nil {
		c.logger.Errorw("round failed", "error", err, "hashes", total)
		return err
	}
	c.logger.Infow("round finished",
		"hashes", total,
		"hash_rate", fmt.Sprintf("%.2f H/s", rate),
		"best_difficulty", best.value(),
		"duration", elapsed)
	return nil
}

// relay forwards heartbeats, improving solutions and the first expiry
func (c *Coordinator) relay(ctx context.Context, round types.Round, in <-chan types.Message, failures <-chan error, upstream chan<- types.Message) (*bestFilter, error) {
	best := &bestFilter{}

	grace := time.NewTimer(round.Cutoff + c.opts.ExpiryGrace)
	defer grace.Stop()

	for {
		select {
		case <-ctx.Done():
			return best, ctx.Err()

		case err := <-failures:
			return best, fmt.Errorf("%w: %v", ErrWorkerPanic, err)

		case <-grace.C:
			c.logger.Warn("reporter missed the cutoff, expiring round")
			if !forward(ctx, upstream, types.Expired(round.Challenge.LastHashAt)) {
				return best, ctx.Err()
			}
			return best, nil

		case msg := <-in:
			switch msg.Kind {
			case types.KindSolution:
				if !best.accept(msg.Candidate.Difficulty) {
					continue
				}
				c.logger.Debugw("new best", "difficulty", msg.Candidate.Difficulty, "core", msg.Candidate.Core)
			case types.KindExpired:
				if !forward(ctx, upstream, msg) {
					return best, ctx.Err()
				}
				return best, nil
			}
			if !forward(ctx, upstream, msg) {
				return best, ctx.Err()
			}
		}
	}
}

// forward sends upstream unless ctx ends first
func forward(ctx context.Context, upstream chan<- types.Message, msg types.Message) bool {
	select {
	case upstream <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// bestFilter admits only strictly increasing difficulties
type bestFilter struct {
	best uint32
	seen bool
}

func (f *bestFilter) accept(difficulty uint32) bool {
	if f.seen && difficulty <= f.best {
		return false
	}
	f.best = difficulty
	f.seen = true
	return true
}

// value returns the best difficulty forwarded, or -1 when there was none
func (f *bestFilter) value() int64 {
	if !f.seen {
		return -1
	}
	return int64(f.best)
}

// periodicLogger logs search progress at regular intervals
func (c *Coordinator) periodicLogger(ticker *time.Ticker, done chan struct{}, start time.Time, hashes *atomic.Uint64) {
	for {
		select {
		case <-ticker.C:
			total := hashes.Load()
			elapsed := time.Since(start)

			rate := 0.0
			if elapsed.Seconds() > 0 {
				rate = float64(total) / elapsed.Seconds()
			}
			c.logger.Infof("Progress: %d hashes, %.2f hashes/sec", total, rate)
		case <-done:
			return
		}
	}
}
