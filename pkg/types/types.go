package types

import (
	"fmt"
	"time"
)

// ChallengeSize is the length of a round seed in bytes
const ChallengeSize = 32

// NonceSize is the length of an encoded nonce in bytes
const NonceSize = 8

// Challenge is the seed of one proof-of-work round
type Challenge struct {
	Seed       [ChallengeSize]byte
	LastHashAt int64 // unix seconds at which the round began
}

// MemberContext describes this participant's slice of the pool search space
type MemberContext struct {
	MemberID        uint32
	NumTotalMembers uint32
	NumDevices      uint8
	DeviceID        uint8
}

// Budget bounds a round
type Budget struct {
	CutoffTime    uint64 // seconds; used when RoundDuration is zero
	MinDifficulty uint32
	Cores         uint8

	// Optional: derive the cutoff from Challenge.LastHashAt
	RoundDuration time.Duration
	Buffer        time.Duration
}

// Cutoff returns the search time allowed for a challenge at the given instant
func (b Budget) Cutoff(ch Challenge, now time.Time) time.Duration {
	if b.RoundDuration <= 0 {
		return time.Duration(b.CutoffTime) * time.Second
	}
	deadline := time.Unix(ch.LastHashAt, 0).Add(b.RoundDuration - b.Buffer)
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Round contains everything the coordinator needs for one search
type Round struct {
	Challenge     Challenge
	Member        MemberContext
	Cutoff        time.Duration
	MinDifficulty uint32
	Cores         uint8
}

// Candidate is a solution found at a specific nonce
type Candidate struct {
	Digest     [32]byte
	Solution   [16]byte
	Nonce      [NonceSize]byte
	Difficulty uint32
	Core       int
}

// MessageKind tags a Message
type MessageKind int

const (
	KindInit MessageKind = iota
	KindSolution
	KindTimeRemaining
	KindExpired
)

func (k MessageKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindSolution:
		return "solution"
	case KindTimeRemaining:
		return "time-remaining"
	case KindExpired:
		return "expired"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is emitted by workers and the coordinator. Only the fields
// belonging to Kind are set.
type Message struct {
	Kind MessageKind

	Candidate *Candidate // KindSolution

	SecondsLeft uint64    // KindTimeRemaining
	CPUSamples  []float64 // KindTimeRemaining

	LastHashAt int64 // KindExpired
}

// Init returns the message that opens a round
func Init() Message {
	return Message{Kind: KindInit}
}

// Solution wraps a candidate
func Solution(c Candidate) Message {
	return Message{Kind: KindSolution, Candidate: &c}
}

// TimeRemaining builds a heartbeat
func TimeRemaining(seconds uint64, samples []float64) Message {
	return Message{Kind: KindTimeRemaining, SecondsLeft: seconds, CPUSamples: samples}
}

// Expired marks the end of the round started at lastHashAt
func Expired(lastHashAt int64) Message {
	return Message{Kind: KindExpired, LastHashAt: lastHashAt}
}
