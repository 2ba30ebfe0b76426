// Package config provides configuration management for the decoy commands.
// Values come from defaults, then an optional YAML file named by CONFIG_FILE,
// then environment variables. Commands bind flags on top and call Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// Algorithms lists the mining algorithms the decoy can claim to run
var Algorithms = []string{"ethash", "sha256", "scrypt", "randomx", "cryptonight"}

// Profile selects the per-command defaults
type Profile int

const (
	// ProfileAmplify is the build pipeline decoy
	ProfileAmplify Profile = iota
	// ProfileMiner is the long-running miner decoy
	ProfileMiner
)

// Config holds the configuration shared by amplifysim and fakeminer
type Config struct {
	// Service identification
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`

	// Primary notification sink
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// Cosmetic labels
	Service string `yaml:"service"`
	Worker  string `yaml:"worker"`
	Algo    string `yaml:"algo"`
	Region  string `yaml:"region"`
	Wallet  string `yaml:"wallet"`

	// Timing
	BeaconInterval time.Duration `yaml:"beacon_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	CycleWaitMin   time.Duration `yaml:"cycle_wait_min"`
	CycleWaitMax   time.Duration `yaml:"cycle_wait_max"`

	// Simulated load
	Threads   int  `yaml:"threads"`
	UseGPU    bool `yaml:"use_gpu"`
	Intensity int  `yaml:"intensity"`

	// Side effects
	ArtifactDir string `yaml:"artifact_dir"`
	Seed        int64  `yaml:"seed"`

	// Optional mirrors; empty disables
	RedisURL      string   `yaml:"redis_url"`
	PostgresURL   string   `yaml:"postgres_url"`
	InfluxURL     string   `yaml:"influx_url"`
	InfluxToken   string   `yaml:"influx_token"`
	InfluxOrg     string   `yaml:"influx_org"`
	InfluxBucket  string   `yaml:"influx_bucket"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	KafkaEncoding string   `yaml:"kafka_encoding"`
	ZMQEndpoint   string   `yaml:"zmq_endpoint"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// workerSet is true once the worker was named explicitly
	workerSet bool
}

// Defaults returns the configuration used when nothing is set. The miner
// profile claims ethash as worker-<hostname>; the build decoy claims
// randomx as <service>-<hostname>.
func Defaults(p Profile) *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	artifactDir := ".mining"
	if home, err := os.UserHomeDir(); err == nil {
		artifactDir = filepath.Join(home, ".mining")
	}

	cfg := &Config{
		ServiceName:    "cryptodecoy",
		Version:        "dev",
		WebhookTimeout: 10 * time.Second,
		Service:        "amplify",
		Worker:         "amplify-" + hostname,
		Algo:           "randomx",
		Region:         "us-east-1",
		Wallet:         "0x0000000000000000000000000000000000000000",
		BeaconInterval: 30 * time.Second,
		TickInterval:   10 * time.Second,
		CycleWaitMin:   30 * time.Minute,
		CycleWaitMax:   60 * time.Minute,
		Threads:        max(1, runtime.NumCPU()-1),
		Intensity:      8,
		ArtifactDir:    artifactDir,
		InfluxOrg:      "decoy",
		InfluxBucket:   "decoy",
		KafkaTopic:     "decoy.beacons",
		KafkaEncoding:  "json",
		LogLevel:       "info",
		LogFormat:      "json",
	}
	if p == ProfileMiner {
		cfg.Worker = "worker-" + hostname
		cfg.Algo = "ethash"
	}
	return cfg
}

// Load loads configuration from defaults, CONFIG_FILE and environment variables.
// It does not validate: flags may still supply required values.
func Load(p Profile) (*Config, error) {
	cfg := Defaults(p)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "read_config_file",
			"failed to read config file").WithContext("path", path)
	}

	prevService, prevWorker := c.Service, c.Worker
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "parse_config_file",
			"failed to parse config file").WithContext("path", path)
	}
	if c.Worker != prevWorker {
		c.workerSet = true
	}
	c.FollowService(prevService)
	return nil
}

// FollowService renames a derived <service>-<hostname> worker after the
// service changed from prev. An explicitly named worker is left alone.
func (c *Config) FollowService(prev string) {
	if c.workerSet || c.Service == prev {
		return
	}
	if suffix, ok := strings.CutPrefix(c.Worker, prev+"-"); ok {
		c.Worker = c.Service + "-" + suffix
	}
}

// SetWorker names the worker explicitly
func (c *Config) SetWorker(worker string) {
	c.Worker = worker
	c.workerSet = true
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Version = getEnv("VERSION", c.Version)

	// Provider-specific names are accepted as fallbacks
	c.WebhookURL = getEnv("WEBHOOK_URL",
		getEnv("CLOUDFLARE_WEBHOOK_URL",
			getEnv("SLACK_WEBHOOK_URL", c.WebhookURL)))
	c.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", c.WebhookTimeout)

	if worker := os.Getenv("WORKER"); worker != "" {
		c.SetWorker(worker)
	}
	prev := c.Service
	c.Service = getEnv("SERVICE", c.Service)
	c.FollowService(prev)
	c.Algo = getEnv("ALGO", c.Algo)
	c.Region = getEnv("AWS_DEFAULT_REGION", c.Region)
	c.Wallet = getEnv("WALLET", c.Wallet)

	c.BeaconInterval = getEnvDuration("BEACON_INTERVAL", c.BeaconInterval)
	c.TickInterval = getEnvDuration("AMPLIFY_TICK_INTERVAL", c.TickInterval)
	c.CycleWaitMin = getEnvDuration("CYCLE_WAIT_MIN", c.CycleWaitMin)
	c.CycleWaitMax = getEnvDuration("CYCLE_WAIT_MAX", c.CycleWaitMax)

	c.Threads = getEnvInt("THREADS", c.Threads)
	c.UseGPU = getEnvBool("USE_GPU", c.UseGPU)
	c.Intensity = getEnvInt("INTENSITY", c.Intensity)

	c.ArtifactDir = getEnv("ARTIFACT_DIR", c.ArtifactDir)
	c.Seed = int64(getEnvInt("SEED", int(c.Seed)))

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.PostgresURL = getEnv("POSTGRES_URL", c.PostgresURL)
	c.InfluxURL = getEnv("INFLUX_URL", c.InfluxURL)
	c.InfluxToken = getEnv("INFLUX_TOKEN", c.InfluxToken)
	c.InfluxOrg = getEnv("INFLUX_ORG", c.InfluxOrg)
	c.InfluxBucket = getEnv("INFLUX_BUCKET", c.InfluxBucket)
	c.KafkaBrokers = getEnvSlice("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.KafkaEncoding = getEnv("KAFKA_ENCODING", c.KafkaEncoding)
	c.ZMQEndpoint = getEnv("ZMQ_ENDPOINT", c.ZMQEndpoint)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks what every command depends on. A missing webhook URL is
// reported before anything else so the command can exit without doing any
// work. The cosmetic labels are not checked here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WebhookURL) == "" {
		return errors.New(errors.ErrorTypeConfig, "validate",
			"webhook URL is required: set WEBHOOK_URL or use --webhook-url")
	}
	if problems := c.commonProblems(); len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "validate", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateMiner runs Validate plus the checks on the miner's own options
func (c *Config) ValidateMiner() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var problems []string
	if !slices.Contains(Algorithms, c.Algo) {
		problems = append(problems, fmt.Sprintf("ALGO must be one of %s", strings.Join(Algorithms, ", ")))
	}
	if c.Threads < 1 {
		problems = append(problems, "THREADS must be at least 1")
	}
	if c.Intensity < 1 || c.Intensity > 10 {
		problems = append(problems, "INTENSITY must be between 1 and 10")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "validate_miner", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) commonProblems() []string {
	var problems []string
	if !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		problems = append(problems, "webhook URL must be http or https")
	}
	if c.BeaconInterval <= 0 {
		problems = append(problems, "BEACON_INTERVAL must be positive")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "AMPLIFY_TICK_INTERVAL must be positive")
	}
	if c.CycleWaitMin <= 0 || c.CycleWaitMax < c.CycleWaitMin {
		problems = append(problems, "CYCLE_WAIT_MIN must be positive and not above CYCLE_WAIT_MAX")
	}
	// The encoding only matters once a Kafka mirror is configured
	if len(c.KafkaBrokers) > 0 && c.KafkaEncoding != "json" && c.KafkaEncoding != "proto" {
		problems = append(problems, "KAFKA_ENCODING must be json or proto")
	}
	return problems
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") and bare seconds ("45")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
