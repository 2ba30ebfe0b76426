// Package main implements amplifysim, a decoy that looks like a
// cryptominer hiding inside a cloud build pipeline. It walks through
// fake build stages forever and reports each step to a webhook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/cryptodecoy/internal/app"
	"github.com/bardlex/cryptodecoy/internal/beacon"
	"github.com/bardlex/cryptodecoy/internal/config"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

const source = "amplifysim"

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if code := app.ExitCode(err); code != 0 {
		fmt.Fprintf(os.Stderr, "amplifysim: %v\n", err)
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	cfg, loadErr := config.Load(config.ProfileAmplify)
	if cfg == nil {
		cfg = config.Defaults(config.ProfileAmplify)
	}
	service := cfg.Service

	cmd := &cobra.Command{
		Use:           "amplifysim",
		Short:         "Simulate a cryptominer running inside AWS Amplify builds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return loadErr
			}
			app.ApplyFlags(cmd, cfg, service)
			if err := cfg.Validate(); err != nil {
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
	f.StringVar(&cfg.Service, "service", cfg.Service, "cloud service named in reports")
	f.StringVar(&cfg.Region, "region", cfg.Region, "AWS region named in reports")
	f.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "upper bound of the mining tick; ticks are drawn from half of it up to it")
	return cmd
}

// BeaconOptions maps the configuration onto the loop options
func BeaconOptions(cfg *config.Config) beacon.Options {
	opts := beacon.DefaultOptions()
	opts.TickMin = cfg.TickInterval / 2
	opts.TickMax = cfg.TickInterval
	opts.WaitMin = cfg.CycleWaitMin
	opts.WaitMax = cfg.CycleWaitMax
	return opts
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	logger.Info("starting amplifysim",
		"version", cfg.Version,
		"service", cfg.Service,
		"worker", cfg.Worker,
		"algo", cfg.Algo,
		"region", cfg.Region,
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

	options := []beacon.Option{beacon.WithRand(rng)}
	if stack.Store != nil {
		options = append(options, beacon.WithSink(stack.Store))
	}

	loop, err := beacon.New(BeaconOptions(cfg), beacon.Labels{
		Service: cfg.Service,
		Worker:  cfg.Worker,
		Algo:    cfg.Algo,
		Region:  cfg.Region,
	}, stack.Notifier, logger, options...)
	if err != nil {
		return err
	}

	err = loop.RunForever(ctx)
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
		loop.NotifyStopped(ctx, 10*time.Second)
	}
	return err
}
