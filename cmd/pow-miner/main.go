package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/screa/pow-round-miner/internal/config"
	"github.com/screa/pow-round-miner/internal/crypto"
	logpkg "github.com/screa/pow-round-miner/internal/logger"
	"github.com/screa/pow-round-miner/pkg/controller"
	minerpkg "github.com/screa/pow-round-miner/pkg/miner"
	"github.com/screa/pow-round-miner/pkg/partition"
	"github.com/screa/pow-round-miner/pkg/telemetry"
	"github.com/screa/pow-round-miner/pkg/types"
)

var (
	cfg    = config.NewConfig()
	logger *logpkg.Logger
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "pow-miner",
		Short: "Pool proof-of-work round miner",
		Long: `Searches each round's challenge on every allotted core until the cutoff,
starting every core at its own slice of the pool's nonce space.`,
		RunE: runMiner,
	}

	addMemberFlags(rootCmd)
	rootCmd.Flags().IntVarP(&cfg.Cores, "cores", "c", cfg.Cores, "Number of cores to mine on")
	rootCmd.Flags().StringVarP(&cfg.Challenge, "challenge", "C", "", "Challenge seed (32 bytes hex); random per round when empty")
	rootCmd.Flags().IntVarP(&cfg.CutoffTime, "cutoff", "t", cfg.CutoffTime, "Search time per round in seconds")
	rootCmd.Flags().DurationVar(&cfg.RoundDuration, "round-duration", 0, "Derive the cutoff from the challenge timestamp plus this duration")
	rootCmd.Flags().DurationVar(&cfg.Buffer, "buffer", 0, "Time reserved for submission before the round ends")
	rootCmd.Flags().Uint32VarP(&cfg.MinDifficulty, "min-difficulty", "d", 0, "Minimum difficulty of a reported solution")
	rootCmd.Flags().IntVarP(&cfg.Rounds, "rounds", "r", 0, "Number of rounds to mine (0 = until interrupted)")
	rootCmd.Flags().BoolVar(&cfg.Pin, "pin", cfg.Pin, "Pin each worker to its own core")
	rootCmd.Flags().DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "Interval between time-remaining heartbeats")
	rootCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file for progress tracking (default: stdout)")
	rootCmd.Flags().IntVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Progress logging interval in seconds (0 disables)")

	partitionCmd := &cobra.Command{
		Use:   "partition",
		Short: "Print the starting nonce of every core",
		RunE:  runPartition,
	}
	addMemberFlags(partitionCmd)
	partitionCmd.Flags().IntVarP(&cfg.Cores, "cores", "c", cfg.Cores, "Number of cores")

	verifyCmd := &cobra.Command{
		Use:   "verify <challenge> <nonce> <digest>",
		Short: "Check that a digest was produced by a challenge and nonce",
		Args:  cobra.ExactArgs(3),
		RunE:  runVerify,
	}

	rootCmd.AddCommand(partitionCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addMemberFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&cfg.MemberID, "member-id", 0, "Pool member id")
	cmd.Flags().Uint32Var(&cfg.NumMembers, "members", cfg.NumMembers, "Total pool members")
	cmd.Flags().Uint8Var(&cfg.NumDevices, "devices", cfg.NumDevices, "Devices registered by this member")
	cmd.Flags().Uint8Var(&cfg.DeviceID, "device-id", 0, "Index of this device")
}

func runMiner(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	seed, err := cfg.ChallengeSeed()
	if err != nil {
		return err
	}

	if err := setupLogging(); err != nil {
		return err
	}
	defer logger.Sync()

	logger.Printf("Starting round miner on %d cores...", cfg.Cores)
	logger.Printf("Target: %s", cfg.GetTargetDescription())
	logger.Printf("Member %d of %d, device %d of %d", cfg.MemberID, cfg.NumMembers, cfg.DeviceID, cfg.NumDevices)

	coordinator := minerpkg.NewCoordinator(minerpkg.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		LogInterval:       time.Duration(cfg.LogInterval) * time.Second,
		NoPin:             !cfg.Pin,
		Sampler:           telemetry.NewSampler(telemetry.DefaultInterval),
	}, logger)

	ctrl := controller.New(controller.Config{
		Member: cfg.Member(),
		Budget: cfg.Budget(),
		Rounds: cfg.Rounds,
	}, coordinator, controller.NewLocalSource(seed), &logSink{}, logger)

	// Stop on Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := make(chan types.Message, 64)
	go displayTelemetry(out)

	if err := ctrl.Run(ctx, out); err != nil && ctx.Err() == nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Println("Mining stopped by user.")
	}
	return nil
}

func runPartition(cmd *cobra.Command, args []string) error {
	if cfg.Cores < 1 || cfg.Cores > 255 {
		return config.ErrNoCores
	}
	member := cfg.Member()
	for core := 0; core < cfg.Cores; core++ {
		start, end, err := partition.Range(member, uint8(cfg.Cores), core)
		if err != nil {
			return err
		}
		fmt.Printf("core %3d: start %20d  end %20d\n", core, start, end)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	challenge, err := config.ParseChallenge(args[0])
	if err != nil {
		return err
	}

	var nonce [crypto.NonceLen]byte
	if n, err := strconv.ParseUint(args[1], 10, 64); err == nil {
		binary.LittleEndian.PutUint64(nonce[:], n)
	} else {
		b, err := hexutil.Decode(args[1])
		if err != nil || len(b) != crypto.NonceLen {
			return fmt.Errorf("nonce must be a decimal integer or 8 bytes of 0x-prefixed hex")
		}
		copy(nonce[:], b)
	}

	digest, err := hexutil.Decode(args[2])
	if err != nil {
		return fmt.Errorf("invalid digest: %w", err)
	}

	if !crypto.Verify(challenge, &nonce, digest) {
		return fmt.Errorf("digest does not match challenge and nonce")
	}
	h := crypto.Hash{}
	copy(h.Digest[:], digest)
	fmt.Printf("valid, difficulty %d\n", h.Difficulty())
	return nil
}

// displayTelemetry prints heartbeats and new bests as they arrive
func displayTelemetry(out <-chan types.Message) {
	for msg := range out {
		switch msg.Kind {
		case types.KindSolution:
			logger.Printf("New best: difficulty %d at nonce %s (core %d)",
				msg.Candidate.Difficulty, hexutil.Encode(msg.Candidate.Nonce[:]), msg.Candidate.Core)
		case types.KindTimeRemaining:
			if cfg.Verbose {
				logger.Printf("%ds left, cpu %.1f%%", msg.SecondsLeft, telemetry.Average(msg.CPUSamples))
			}
		case types.KindExpired:
			logger.Printf("Round %d expired", msg.LastHashAt)
		}
	}
}

// logSink stands in for the transaction submission path
type logSink struct{}

func (logSink) Submit(_ context.Context, challenge types.Challenge, c types.Candidate) error {
	logger.Printf("🎉 Round %d best solution", challenge.LastHashAt)
	logger.Printf("Challenge: %s", hexutil.Encode(challenge.Seed[:]))
	logger.Printf("Nonce: %s", hexutil.Encode(c.Nonce[:]))
	logger.Printf("Digest: %s", hexutil.Encode(c.Digest[:]))
	logger.Printf("Difficulty: %d", c.Difficulty)
	return nil
}

func setupLogging() error {
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger = logpkg.NewWriter(file)
	} else {
		logger = logpkg.New()
	}
	logger.SetVerbose(cfg.Verbose)
	return nil
}
