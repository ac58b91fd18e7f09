package worker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/screa/pow-round-miner/internal/crypto"
	"github.com/screa/pow-round-miner/internal/logger"
	"github.com/screa/pow-round-miner/pkg/types"
)

// Defaults
const (
	DefaultCheckStride       = 100
	DefaultHeartbeatInterval = 200 * time.Millisecond
)

// ErrSolverPanic wraps a panic recovered from the hash loop
var ErrSolverPanic = errors.New("solver panicked")

// Solver computes the candidate digests of one (challenge, nonce) pair.
// Each worker owns its own Solver.
type Solver interface {
	Solve(challenge *[crypto.ChallengeLen]byte, nonce *[crypto.NonceLen]byte) []crypto.Hash
}

// Sampler provides CPU utilisation samples for heartbeats
type Sampler interface {
	Sample() []float64
}

// Config contains the per-core search parameters
type Config struct {
	Core          int // index into the nonce assignment
	CPU           int // logical CPU to pin to; negative disables pinning
	StartNonce    uint64
	Challenge     types.Challenge
	Cutoff        time.Duration
	MinDifficulty uint32
	Reporter      bool // emits heartbeats and the expiry message

	CheckStride       int
	HeartbeatInterval time.Duration

	Solver  Solver
	Sampler Sampler        // optional
	Hashes  *atomic.Uint64 // optional shared hash counter
}

// Worker scans a dense run of nonces from its start nonce until the cutoff
type Worker struct {
	config Config
	out    chan<- types.Message
	done   <-chan struct{}
	logger *logger.Logger

	// round state, owned by the goroutine running Run
	nonce     uint64
	best      uint32
	found     bool
	startedAt time.Time
	lastBeat  time.Time
	nonceBuf  [crypto.NonceLen]byte
}

// New creates a worker. Messages go to out; closing done stops the worker
// at its next checkpoint.
func New(config Config, out chan<- types.Message, done <-chan struct{}, log *logger.Logger) *Worker {
	if config.CheckStride <= 0 {
		config.CheckStride = DefaultCheckStride
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.Solver == nil {
		config.Solver = crypto.NewSolver()
	}
	return &Worker{
		config: config,
		out:    out,
		done:   done,
		logger: log.With("core", config.Core),
	}
}

// Run searches until the cutoff passes or done is closed. A panic in the
// solver is recovered and returned as ErrSolverPanic.
func (w *Worker) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: core %d: %v", ErrSolverPanic, w.config.Core, r)
			w.logger.Errorw("search aborted", "error", err)
		}
	}()

	if w.config.CPU >= 0 {
		runtime.LockOSThread()
		restore, err := pin(w.config.CPU)
		if err != nil {
			w.logger.Warnw("running unpinned", "cpu", w.config.CPU, "error", err)
		}
		defer func() {
			if restore != nil {
				if err := restore(); err != nil {
					// stay locked: the runtime discards the thread when this goroutine exits
					w.logger.Warnw("restoring cpu mask failed", "cpu", w.config.CPU, "error", err)
					return
				}
			}
			runtime.UnlockOSThread()
		}()
	}

	w.nonce = w.config.StartNonce
	w.best = 0
	w.found = false
	w.startedAt = time.Now()

	w.logger.Debugw("search started", "start_nonce", w.config.StartNonce, "reporter", w.config.Reporter)

	for {
		for i := 0; i < w.config.CheckStride; i++ {
			w.step()
		}
		if w.config.Hashes != nil {
			w.config.Hashes.Add(uint64(w.config.CheckStride))
		}
		if w.checkpoint() {
			w.logger.Debugw("search stopped", "last_nonce", w.nonce, "best_difficulty", w.best)
			return nil
		}
	}
}

// BestDifficulty returns the best difficulty seen so far. Only valid from
// the goroutine running Run or after it returned.
func (w *Worker) BestDifficulty() uint32 {
	return w.best
}

// step hashes the current nonce and advances it
func (w *Worker) step() {
	binary.LittleEndian.PutUint64(w.nonceBuf[:], w.nonce)

	for _, h := range w.config.Solver.Solve(&w.config.Challenge.Seed, &w.nonceBuf) {
		difficulty := h.Difficulty()
		if w.found && difficulty <= w.best {
			continue
		}
		w.found = true
		w.best = difficulty

		if difficulty >= w.config.MinDifficulty {
			w.send(types.Solution(types.Candidate{
				Digest:     h.Digest,
				Solution:   h.Solution,
				Nonce:      w.nonceBuf,
				Difficulty: difficulty,
				Core:       w.config.Core,
			}))
		}
	}

	// no upper bound: the cutoff alone ends the scan
	w.nonce++
}

// checkpoint reports whether the loop should exit, emitting heartbeat or
// expiry messages when this worker is the reporter
func (w *Worker) checkpoint() bool {
	select {
	case <-w.done:
		return true
	default:
	}

	now := time.Now()
	elapsed := now.Sub(w.startedAt)
	if elapsed >= w.config.Cutoff {
		if w.config.Reporter {
			w.send(types.Expired(w.config.Challenge.LastHashAt))
		}
		return true
	}

	if w.config.Reporter && now.Sub(w.lastBeat) >= w.config.HeartbeatInterval {
		w.lastBeat = now
		var samples []float64
		if w.config.Sampler != nil {
			samples = w.config.Sampler.Sample()
		}
		left := uint64((w.config.Cutoff - elapsed) / time.Second)
		w.send(types.TimeRemaining(left, samples))
	}
	return false
}

// send delivers a message unless the round has already been closed
func (w *Worker) send(msg types.Message) {
	select {
	case w.out <- msg:
	case <-w.done:
		w.logger.Debugw("dropped message after round closed", "kind", msg.Kind)
	}
}
