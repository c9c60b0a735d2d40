package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Oracle    OracleConfig    `toml:"oracle"`
	Consensus ConsensusConfig `toml:"consensus"`
	Round     RoundConfig     `toml:"round"`
	Env       EnvConfig       `toml:"env"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Raw       map[string]any  `toml:"-"`
	Path      string          `toml:"-"`
}

type OracleConfig struct {
	Endpoint          string  `toml:"endpoint"`
	Model             string  `toml:"model"`
	ReasoningEffort   string  `toml:"reasoning_effort"`
	APIKeyEnv         string  `toml:"api_key_env"`
	TimeoutMS         int     `toml:"timeout_ms"`
	Retries           int     `toml:"retries"`
	BackoffMS         int     `toml:"backoff_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	BreakerThreshold  int     `toml:"breaker_threshold"`
	BreakerCooldownMS int     `toml:"breaker_cooldown_ms"`
	MaxOutputTokens   int     `toml:"max_output_tokens"`
	Encoding          string  `toml:"encoding"`
}

type ConsensusConfig struct {
	Mode               string `toml:"mode"`
	MaxRounds          int    `toml:"max_rounds"`
	Fallback           string `toml:"fallback"`
	TranscriptCap      int    `toml:"transcript_cap"`
	FramingTurns       int    `toml:"framing_turns"`
	AcceptToken        string `toml:"accept_token"`
	ConcurrentFeedback bool   `toml:"concurrent_feedback"`
}

type RoundConfig struct {
	Level             string `toml:"level"`
	PresetsFile       string `toml:"presets_file"`
	Seed              int64  `toml:"seed"`
	MaxSteps          int    `toml:"max_steps"`
	StepHistoryWindow int    `toml:"step_history_window"`
	MessageLogCap     int    `toml:"message_log_cap"`
	MessageMaxAge     int    `toml:"message_max_age"`
	HistoryCap        int    `toml:"history_cap"`
	Perception        bool   `toml:"perception"`
	Concurrency       int    `toml:"concurrency"`
}

type EnvConfig struct {
	Kind             string `toml:"kind"`
	Slots            int    `toml:"slots"`
	NATSURL          string `toml:"nats_url"`
	SubjectPrefix    string `toml:"subject_prefix"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
	LogDir string `toml:"log_dir"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Oracle = c.Oracle.withDefaults()
	c.Consensus = c.Consensus.withDefaults()
	c.Round = c.Round.withDefaults()
	c.Env = c.Env.withDefaults()
	c.Store = c.Store.withDefaults()
	c.Server = c.Server.withDefaults()
	c.Logging = c.Logging.withDefaults()
}

func (c OracleConfig) withDefaults() OracleConfig {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.openai.com/v1/responses"
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 90000
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 1500
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldownMS <= 0 {
		c.BreakerCooldownMS = 30000
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 4000
	}
	return c
}

func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c OracleConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

func (c OracleConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

// APIKey reads the key from the configured environment variable.
func (c OracleConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

func (c ConsensusConfig) withDefaults() ConsensusConfig {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = "central"
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	c.Fallback = strings.ToLower(strings.TrimSpace(c.Fallback))
	if c.Fallback == "" {
		c.Fallback = "commit_last"
	}
	if c.TranscriptCap <= 0 {
		c.TranscriptCap = 8
	}
	if c.FramingTurns <= 0 {
		c.FramingTurns = 2
	}
	if c.AcceptToken == "" {
		c.AcceptToken = "ACCEPT"
	}
	return c
}

func (c RoundConfig) withDefaults() RoundConfig {
	if c.Level == "" {
		c.Level = "Cut_Trees_Sparse_small"
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 200
	}
	if c.StepHistoryWindow <= 0 {
		c.StepHistoryWindow = 5
	}
	if c.MessageLogCap <= 0 {
		c.MessageLogCap = 30
	}
	if c.MessageMaxAge <= 0 {
		c.MessageMaxAge = 1
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

func (c EnvConfig) withDefaults() EnvConfig {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = "loopback"
	}
	if c.Slots <= 0 {
		c.Slots = 20
	}
	if c.NATSURL == "" {
		c.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "wildfire"
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 30000
	}
	return c
}

func (c EnvConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.DBPath == "" {
		c.DBPath = "wildfire.db"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	return c
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8091"
	}
	return c
}

func (c LoggingConfig) withDefaults() LoggingConfig {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	return c
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Consensus.Mode {
	case "central", "leader":
	default:
		return fmt.Errorf("consensus.mode must be central or leader, got %q", c.Consensus.Mode)
	}
	switch c.Consensus.Fallback {
	case "commit_last", "idle":
	default:
		return fmt.Errorf("consensus.fallback must be commit_last or idle, got %q", c.Consensus.Fallback)
	}
	if c.Consensus.TranscriptCap < c.Consensus.FramingTurns+2 {
		return fmt.Errorf("consensus.transcript_cap %d must leave room for one exchange after %d framing turns",
			c.Consensus.TranscriptCap, c.Consensus.FramingTurns)
	}
	switch c.Env.Kind {
	case "loopback", "nats":
	default:
		return fmt.Errorf("env.kind must be loopback or nats, got %q", c.Env.Kind)
	}
	return nil
}

// Load reads path, or the default location when path is empty. A missing
// default file yields Default().
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg := Default()
			cfg.Path = resolved
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Raw = raw
	cfg.Path = resolved
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", resolved, err)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wildfire/config.toml"
	}
	return filepath.Join(home, ".wildfire", "config.toml")
}
