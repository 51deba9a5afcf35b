package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the relay configuration shared by all binaries
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Journal      JournalConfig      `yaml:"journal"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Detector     DetectorConfig     `yaml:"detector"`
	Worker       WorkerConfig       `yaml:"worker"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	InvocationQueue string `yaml:"invocation_queue"`
	EventChannel    string `yaml:"event_channel"`
	StopChannel     string `yaml:"stop_channel"`
	ClaimPrefix     string `yaml:"claim_prefix"`
}

type JournalConfig struct {
	TTLDays           int           `yaml:"ttl_days"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// Retention is the TTL applied to every journal record.
func (j JournalConfig) Retention() time.Duration {
	return time.Duration(j.TTLDays) * 24 * time.Hour
}

type RetryConfig struct {
	Attempts       uint          `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type OrchestratorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Budget       time.Duration `yaml:"budget"`
	Retry        RetryConfig   `yaml:"retry"`
}

type DetectorConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	ClaimTTL      time.Duration `yaml:"claim_ttl"`
	BatchSize     int           `yaml:"batch_size"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	PopTimeout  time.Duration `yaml:"pop_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// Load reads configuration from a YAML file. An empty path yields the defaults.
// Environment overrides are applied before defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("RELAY_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RELAY_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("RELAY_JOURNAL_TTL_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_JOURNAL_TTL_DAYS: %w", err)
		}
		c.Journal.TTLDays = days
	}
	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.InvocationQueue == "" {
		c.Redis.InvocationQueue = "relay:queue:invocations"
	}
	if c.Redis.EventChannel == "" {
		c.Redis.EventChannel = "relay:events:terminal"
	}
	if c.Redis.StopChannel == "" {
		c.Redis.StopChannel = "relay:control:stop"
	}
	if c.Redis.ClaimPrefix == "" {
		c.Redis.ClaimPrefix = "relay:claim:"
	}

	if c.Journal.TTLDays == 0 {
		c.Journal.TTLDays = 30
	}
	if c.Journal.RetentionInterval == 0 {
		c.Journal.RetentionInterval = time.Hour
	}

	if c.Orchestrator.PollInterval == 0 {
		c.Orchestrator.PollInterval = 5 * time.Second
	}
	if c.Orchestrator.Budget == 0 {
		c.Orchestrator.Budget = 900 * time.Second
	}
	if c.Orchestrator.Retry.Attempts == 0 {
		c.Orchestrator.Retry.Attempts = 3
	}
	if c.Orchestrator.Retry.InitialBackoff == 0 {
		c.Orchestrator.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if c.Orchestrator.Retry.MaxBackoff == 0 {
		c.Orchestrator.Retry.MaxBackoff = 2 * time.Second
	}

	if c.Detector.SweepInterval == 0 {
		c.Detector.SweepInterval = time.Minute
	}
	if c.Detector.StaleAfter == 0 {
		c.Detector.StaleAfter = time.Hour
	}
	if c.Detector.ClaimTTL == 0 {
		c.Detector.ClaimTTL = 24 * time.Hour
	}
	if c.Detector.BatchSize == 0 {
		c.Detector.BatchSize = 100
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.TaskTimeout == 0 {
		c.Worker.TaskTimeout = 30 * time.Minute
	}
	if c.Worker.PopTimeout == 0 {
		c.Worker.PopTimeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Journal.TTLDays < 0 {
		return fmt.Errorf("journal.ttl_days must not be negative")
	}
	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("orchestrator.poll_interval must be positive")
	}
	if c.Orchestrator.Budget < c.Orchestrator.PollInterval {
		return fmt.Errorf("orchestrator.budget (%s) must not be shorter than poll_interval (%s)",
			c.Orchestrator.Budget, c.Orchestrator.PollInterval)
	}
	if c.Orchestrator.Retry.MaxBackoff < c.Orchestrator.Retry.InitialBackoff {
		return fmt.Errorf("orchestrator.retry.max_backoff must not be shorter than initial_backoff")
	}
	if c.Detector.StaleAfter <= 0 {
		return fmt.Errorf("detector.stale_after must be positive")
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must not be negative")
	}
	return nil
}
