package controller

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/screa/pow-round-miner/pkg/types"
)

// LocalSource issues challenges without a pool. With Seed set every round
// reuses it; otherwise each round draws a random seed.
type LocalSource struct {
	Seed *[types.ChallengeSize]byte
	now  func() time.Time
}

// NewLocalSource creates a local challenge source
func NewLocalSource(seed *[types.ChallengeSize]byte) *LocalSource {
	return &LocalSource{Seed: seed, now: time.Now}
}

// NextChallenge returns a challenge stamped with the current time, moved
// forward when needed so it is always newer than after
func (s *LocalSource) NextChallenge(ctx context.Context, after int64) (types.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return types.Challenge{}, err
	}

	var ch types.Challenge
	if s.Seed != nil {
		ch.Seed = *s.Seed
	} else if _, err := rand.Read(ch.Seed[:]); err != nil {
		return types.Challenge{}, err
	}

	ch.LastHashAt = s.now().Unix()
	if ch.LastHashAt <= after {
		ch.LastHashAt = after + 1
	}
	return ch, nil
}
