// Package app wires the shared outer layer of the decoy commands: the
// webhook with its mirrors, the snapshot stores, the artifact tree and
// the flags both commands accept.
package app

import (
	"context"
	stdErrors "errors"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/cryptodecoy/internal/artifacts"
	"github.com/bardlex/cryptodecoy/internal/config"
	"github.com/bardlex/cryptodecoy/internal/database"
	"github.com/bardlex/cryptodecoy/internal/database/influx"
	"github.com/bardlex/cryptodecoy/internal/database/postgres"
	"github.com/bardlex/cryptodecoy/internal/database/redis"
	"github.com/bardlex/cryptodecoy/internal/messaging"
	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

// Stack is the notification and storage layer of one process
type Stack struct {
	Notifier *notify.Fanout
	Store    *database.Manager // nil when no store is reachable

	logger  *log.Logger
	closers []func() error
}

// NewStack builds the webhook notifier and attaches every configured
// mirror. Mirrors that cannot be set up are logged and skipped.
func NewStack(ctx context.Context, cfg *config.Config, source string, logger *log.Logger) (*Stack, error) {
	logger = logger.WithComponent("app")
	s := &Stack{
		Notifier: notify.NewFanout(notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout), logger),
		logger:   logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		client := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		mirror := messaging.NewKafkaMirror(client, cfg.KafkaTopic, source, messaging.Encoding(cfg.KafkaEncoding))
		s.Notifier.AddMirror("kafka", mirror)
		s.closers = append(s.closers, mirror.Close)
	}

	if cfg.ZMQEndpoint != "" {
		pub, err := messaging.NewZMQPublisher(cfg.ZMQEndpoint, source, logger)
		if err != nil {
			logger.WithError(err).Warn("ZeroMQ mirror disabled")
		} else {
			s.Notifier.AddMirror("zmq", pub)
			s.closers = append(s.closers, pub.Close)
		}
	}

	dbCfg := StoreConfig(cfg, source)
	if dbCfg.Redis != nil || dbCfg.Postgres != nil || dbCfg.Influx != nil {
		manager, err := database.NewManager(ctx, dbCfg, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if manager.Enabled() {
			s.Store = manager
			s.Notifier.AddMirror("database", manager)
			s.closers = append(s.closers, func() error {
				manager.Flush()
				return manager.Close()
			})
		}
	}

	logger.Info("notification stack ready", "mirrors", s.Notifier.Mirrors())
	return s, nil
}

// StoreConfig maps the mirror URLs onto the database configuration
func StoreConfig(cfg *config.Config, source string) *database.Config {
	dbCfg := &database.Config{Worker: cfg.Worker, Source: source}
	if cfg.RedisURL != "" {
		dbCfg.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.PostgresURL != "" {
		dbCfg.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbCfg
}

// Close releases the mirrors and stores
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return stdErrors.Join(errs...)
}

// ScaffoldArtifacts writes the decoy file tree. Failures are logged and
// never stop the command.
func ScaffoldArtifacts(cfg *config.Config, r *rand.Rand, logger *log.Logger) {
	res, err := artifacts.Scaffold(cfg.ArtifactDir, artifacts.Params{
		Wallet:  cfg.Wallet,
		Worker:  cfg.Worker,
		Algo:    cfg.Algo,
		Threads: cfg.Threads,
		UseGPU:  cfg.UseGPU,
	}, r)
	if err != nil {
		logger.WithError(err).Warn("failed to create some artifacts", "dir", cfg.ArtifactDir)
	}
	logger.Info("artifacts ready",
		"dir", cfg.ArtifactDir,
		"written", len(res.Written),
		"skipped", len(res.Skipped),
	)
}

// NewRand returns a generator seeded from cfg.Seed, or from the clock
// when the seed is zero
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// BindCommonFlags registers the flags shared by both commands over cfg
func BindCommonFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "webhook receiving the reports (env WEBHOOK_URL)")
	f.StringVar(&cfg.Worker, "worker", cfg.Worker, "worker name shown in reports")
	f.StringVar(&cfg.Algo, "algo", cfg.Algo, "claimed mining algorithm")
	f.StringVar(&cfg.Wallet, "wallet", cfg.Wallet, "wallet written to the decoy config")
	f.StringVar(&cfg.ArtifactDir, "artifact-dir", cfg.ArtifactDir, "directory for decoy files")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed, 0 for time based")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
}

// ApplyFlags settles values that depend on which flags were given. service
// is the service name before flag parsing.
func ApplyFlags(cmd *cobra.Command, cfg *config.Config, service string) {
	if cmd.Flags().Changed("worker") {
		cfg.SetWorker(cfg.Worker)
	}
	cfg.FollowService(service)
}

// ExitCode maps a command error to the process exit status: cancellation
// is a clean stop
func ExitCode(err error) int {
	if err == nil || stdErrors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
