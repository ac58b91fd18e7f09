package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/screa/pow-round-miner/pkg/types"
)

// Errors
var (
	ErrInvalidChallenge = errors.New("challenge must be 32 bytes of 0x-prefixed hex")
	ErrNoCores          = errors.New("--cores must be between 1 and 255")
	ErrNoCutoff         = errors.New("must specify --cutoff or --round-duration")
	ErrTooManyDevices   = errors.New("--device-id must not exceed --devices")
)

// Config holds the application configuration
type Config struct {
	Cores         int
	Challenge     string // hex seed; empty draws a random seed each round
	CutoffTime    int    // seconds
	RoundDuration time.Duration
	Buffer        time.Duration
	MinDifficulty uint32
	Rounds        int

	MemberID   uint32
	NumMembers uint32
	NumDevices uint8
	DeviceID   uint8

	Pin               bool
	HeartbeatInterval time.Duration
	Verbose           bool
	LogFile           string
	LogInterval       int // progress logging interval in seconds, zero disables
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cores := runtime.NumCPU()
	if cores > math.MaxUint8 {
		cores = math.MaxUint8
	}
	return &Config{
		Cores:             cores,
		CutoffTime:        60,
		NumMembers:        1,
		NumDevices:        1,
		Pin:               true,
		HeartbeatInterval: 200 * time.Millisecond,
		LogInterval:       5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cores < 1 || c.Cores > math.MaxUint8 {
		return ErrNoCores
	}
	if c.CutoffTime <= 0 && c.RoundDuration <= 0 {
		return ErrNoCutoff
	}
	if c.DeviceID > c.NumDevices {
		return ErrTooManyDevices
	}
	if c.Challenge != "" {
		if _, err := c.ChallengeSeed(); err != nil {
			return err
		}
	}
	return nil
}

// ChallengeSeed decodes the configured challenge, nil when none is set
func (c *Config) ChallengeSeed() (*[types.ChallengeSize]byte, error) {
	if c.Challenge == "" {
		return nil, nil
	}
	return ParseChallenge(c.Challenge)
}

// ParseChallenge decodes a 32-byte hex challenge, with or without 0x
func ParseChallenge(s string) (*[types.ChallengeSize]byte, error) {
	h := strings.TrimSpace(s)
	if !strings.HasPrefix(h, "0x") && !strings.HasPrefix(h, "0X") {
		h = "0x" + h
	}
	b, err := hexutil.Decode(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if len(b) != types.ChallengeSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidChallenge, len(b))
	}
	var seed [types.ChallengeSize]byte
	copy(seed[:], b)
	return &seed, nil
}

// Member returns the pool membership described by the flags
func (c *Config) Member() types.MemberContext {
	return types.MemberContext{
		MemberID:        c.MemberID,
		NumTotalMembers: c.NumMembers,
		NumDevices:      c.NumDevices,
		DeviceID:        c.DeviceID,
	}
}

// Budget returns the per-round search budget
func (c *Config) Budget() types.Budget {
	cutoff := uint64(0)
	if c.CutoffTime > 0 {
		cutoff = uint64(c.CutoffTime)
	}
	return types.Budget{
		CutoffTime:    cutoff,
		MinDifficulty: c.MinDifficulty,
		Cores:         uint8(c.Cores),
		RoundDuration: c.RoundDuration,
		Buffer:        c.Buffer,
	}
}

// GetTargetDescription returns a human-readable description of the round budget
func (c *Config) GetTargetDescription() string {
	if c.RoundDuration > 0 {
		return fmt.Sprintf("difficulty >= %d, round %v minus %v buffer", c.MinDifficulty, c.RoundDuration, c.Buffer)
	}
	return fmt.Sprintf("difficulty >= %d, cutoff %ds", c.MinDifficulty, c.CutoffTime)
}
