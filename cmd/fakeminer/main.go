// Package main implements fakeminer, a long-running decoy that hashes
// synthetic block headers in the background and reports miner-style
// status beacons to a webhook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardlex/cryptodecoy/internal/app"
	"github.com/bardlex/cryptodecoy/internal/config"
	"github.com/bardlex/cryptodecoy/internal/miner"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

const source = "fakeminer"

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if code := app.ExitCode(err); code != 0 {
		fmt.Fprintf(os.Stderr, "fakeminer: %v\n", err)
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	cfg, loadErr := config.Load(config.ProfileMiner)
	if cfg == nil {
		cfg = config.Defaults(config.ProfileMiner)
	}
	service := cfg.Service

	cmd := &cobra.Command{
		Use:           "fakeminer",
		Short:         "Run a simulated cryptominer that reports to a webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return loadErr
			}
			app.ApplyFlags(cmd, cfg, service)
			if err := cfg.ValidateMiner(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New(source, cfg.Version, cfg.LogLevel, cfg.LogFormat)
			return run(ctx, cfg, logger)
		},
	}

	app.BindCommonFlags(cmd, cfg)
	f := cmd.Flags()
	f.IntVar(&cfg.Threads, "threads", cfg.Threads, "hashing threads")
	f.IntVar(&cfg.Intensity, "intensity", cfg.Intensity, "hashes per batch, 1-10")
	f.BoolVar(&cfg.UseGPU, "use-gpu", cfg.UseGPU, "log a simulated GPU setup")
	f.DurationVar(&cfg.BeaconInterval, "beacon-interval", cfg.BeaconInterval, "time between beacons")
	return cmd
}

// MinerSettings maps the configuration onto the miner settings
func MinerSettings(cfg *config.Config) miner.Settings {
	s := miner.DefaultSettings()
	s.Worker = cfg.Worker
	s.Algo = cfg.Algo
	s.BeaconInterval = cfg.BeaconInterval
	s.UseGPU = cfg.UseGPU
	s.Workers.Threads = cfg.Threads
	s.Workers.Intensity = cfg.Intensity
	s.Workers.Seed = cfg.Seed
	return s
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	logger.Info("starting fakeminer",
		"version", cfg.Version,
		"worker", cfg.Worker,
		"algo", cfg.Algo,
		"threads", cfg.Threads,
		"intensity", cfg.Intensity,
	)

	rng := app.NewRand(cfg.Seed)
	app.ScaffoldArtifacts(cfg, rng, logger)

	stack, err := app.NewStack(ctx, cfg, source, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.WithError(err).Warn("failed to close notification stack")
		}
	}()

	options := []miner.Option{miner.WithRand(rng)}
	if stack.Store != nil {
		options = append(options, miner.WithSink(stack.Store))
	}

	m := miner.New(MinerSettings(cfg), stack.Notifier, logger, options...)
	return m.Run(ctx)
}
