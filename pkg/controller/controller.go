// Package controller drives consecutive mining rounds: it fetches a
// challenge, runs the search for it, relays telemetry and hands the best
// candidate to the submission path before moving to the next challenge.
package controller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/screa/pow-round-miner/internal/logger"
	"github.com/screa/pow-round-miner/pkg/telemetry"
	"github.com/screa/pow-round-miner/pkg/types"
)

// DefaultRetryDelay is the pause after a failed challenge fetch
const DefaultRetryDelay = time.Second

// ChallengeSource issues round challenges
type ChallengeSource interface {
	// NextChallenge blocks until a challenge with LastHashAt greater than
	// after is available
	NextChallenge(ctx context.Context, after int64) (types.Challenge, error)
}

// SolutionSink receives the best candidate of each round
type SolutionSink interface {
	Submit(ctx context.Context, challenge types.Challenge, candidate types.Candidate) error
}

// Searcher runs a single round, streaming messages upstream
type Searcher interface {
	Run(ctx context.Context, round types.Round, upstream chan<- types.Message) error
}

// Config holds the controller settings
type Config struct {
	Member     types.MemberContext
	Budget     types.Budget
	Rounds     int // zero runs until ctx is cancelled
	RetryDelay time.Duration
}

// Controller runs rounds back to back. Round failures are logged and the
// controller moves on to the next challenge.
type Controller struct {
	config   Config
	searcher Searcher
	source   ChallengeSource
	sink     SolutionSink
	logger   *logger.Logger
	now      func() time.Time
}

// New creates a controller. sink may be nil.
func New(cfg Config, searcher Searcher, source ChallengeSource, sink SolutionSink, log *logger.Logger) *Controller {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Controller{
		config:   cfg,
		searcher: searcher,
		source:   source,
		sink:     sink,
		logger:   log,
		now:      time.Now,
	}
}

// Run mines until the configured number of rounds completed or ctx ends.
// Every message of every round is copied to out when it is not nil.
func (c *Controller) Run(ctx context.Context, out chan<- types.Message) error {
	var last int64
	for completed := 0; c.config.Rounds == 0 || completed < c.config.Rounds; {
		if err := ctx.Err(); err != nil {
			return err
		}

		challenge, err := c.source.NextChallenge(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warnw("fetching challenge failed", "error", err, "retry_in", c.config.RetryDelay)
			if !sleep(ctx, c.config.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		last = challenge.LastHashAt
		completed++

		best, err := c.runRound(ctx, challenge, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorw("round produced no solution", "last_hash_at", challenge.LastHashAt, "error", err)
			continue
		}
		if best == nil {
			c.logger.Infow("round expired without a solution", "last_hash_at", challenge.LastHashAt)
			continue
		}
		if c.sink != nil {
			if err := c.sink.Submit(ctx, challenge, *best); err != nil {
				c.logger.Errorw("submitting solution failed", "difficulty", best.Difficulty, "error", err)
			}
		}
	}
	return nil
}

// runRound searches one challenge and returns the best candidate forwarded
func (c *Controller) runRound(ctx context.Context, challenge types.Challenge, out chan<- types.Message) (*types.Candidate, error) {
	round := types.Round{
		Challenge:     challenge,
		Member:        c.config.Member,
		Cutoff:        c.config.Budget.Cutoff(challenge, c.now()),
		MinDifficulty: c.config.Budget.MinDifficulty,
		Cores:         c.config.Budget.Cores,
	}

	msgs := make(chan types.Message, 16)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(msgs)
		return c.searcher.Run(gctx, round, msgs)
	})

	var best *types.Candidate
	g.Go(func() error {
		for msg := range msgs {
			switch msg.Kind {
			case types.KindSolution:
				best = msg.Candidate
			case types.KindTimeRemaining:
				c.logger.Debugw("heartbeat",
					"seconds_left", msg.SecondsLeft,
					"cpu_avg", telemetry.Average(msg.CPUSamples))
			case types.KindExpired:
				c.logger.Debugw("round expired", "last_hash_at", msg.LastHashAt)
			}
			if out != nil {
				select {
				case out <- msg:
				case <-gctx.Done():
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return best, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
