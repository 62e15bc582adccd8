package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/multios-dev/syscore/frontend"
)

var (
	workersFlag    int
	callsFlag      int
	seedFlag       int64
	errorShareFlag float64
	layoutFlag     string
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic workload through the dispatch pipeline",
	Long: `Simulate assembles the full pipeline with in-memory handlers,
drives a concurrent mixed workload through it, and prints a JSON
report with dispatch counters, per-syscall latency aggregates and any
anomaly flags.

	USAGE
		syscore simulate --workers 8 --calls 10000
	`,
	Run: func(cmd *cobra.Command, args []string) {
		newLogger := zap.NewProduction
		if verboseFlag {
			newLogger = zap.NewDevelopment
		}

		l, err := newLogger()
		if err != nil {
			log.Fatalf("failed to get zap logger: %v\n", err)
		}

		logger := l.Sugar()
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		sys, err := frontend.NewSystem(&frontend.SystemCfg{
			Logger:   logger,
			PlanPath: planPathFlag,
		})
		if err != nil {
			log.Fatalf("failed to assemble system: %v", err)
		}
		defer sys.Close()

		cfg := &frontend.SimulateCfg{
			Workers:    workersFlag,
			Calls:      callsFlag,
			LayoutPath: layoutFlag,
			Seed:       seedFlag,
			ErrorShare: errorShareFlag,
			Verbose:    verboseFlag,
		}

		if err := frontend.RunSimulation(ctx, sys, cfg, os.Stdout); err != nil {
			log.Fatalf("simulation failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	applyFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&workersFlag, "workers", 4, "Concurrent workers")
	simulateCmd.Flags().IntVar(&callsFlag, "calls", 1000, "Calls per worker")
	simulateCmd.Flags().Int64Var(&seedFlag, "seed", 1, "Workload RNG seed")
	simulateCmd.Flags().Float64Var(&errorShareFlag, "error-share", 0.1, "Fraction of calls built to fail")
	simulateCmd.Flags().StringVar(&layoutFlag, "layout", "", "Path to an address-space layout file")
}
