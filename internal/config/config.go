package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the credex configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Manifest ManifestConfig `yaml:"manifest"`
	Channel  ChannelConfig  `yaml:"channel"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey (alias; default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// LedgerConfig holds budget accounting settings.
type LedgerConfig struct {
	KeyPrefix        string   `yaml:"key_prefix"`
	Agents           []string `yaml:"agents"`
	DailyLimit       int64    `yaml:"daily_limit"`       // units per agent per UTC day
	WarningThreshold float64  `yaml:"warning_threshold"` // fraction of the limit
	OverageTolerance int64    `yaml:"overage_tolerance"` // units above estimate before a warning
	ReservationTTL   Duration `yaml:"reservation_ttl"`   // open reservations older than this are refunded
	SweepInterval    Duration `yaml:"sweep_interval"`    // how often the sweeper scans
	ResetOffset      Duration `yaml:"reset_offset"`      // delay after UTC midnight for the daily reset
}

// ManifestConfig holds coordination manifest settings.
type ManifestConfig struct {
	StalenessThreshold Duration `yaml:"staleness_threshold"`
	PublishInterval    Duration `yaml:"publish_interval"`
}

// ChannelConfig holds message channel settings.
type ChannelConfig struct {
	PollLimit int      `yaml:"poll_limit"`
	Retention Duration `yaml:"retention"` // 0 = keep everything
}

// Duration wraps time.Duration for YAML values like "90s" or "1h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Ledger.KeyPrefix == "" {
		c.Ledger.KeyPrefix = "credex:"
	}
	if c.Ledger.DailyLimit <= 0 {
		c.Ledger.DailyLimit = 300000
	}
	if c.Ledger.WarningThreshold <= 0 {
		c.Ledger.WarningThreshold = 0.8
	}
	if c.Ledger.ReservationTTL.Std() <= 0 {
		c.Ledger.ReservationTTL = Duration(time.Hour)
	}
	if c.Ledger.SweepInterval.Std() <= 0 {
		c.Ledger.SweepInterval = Duration(5 * time.Minute)
	}
	if c.Ledger.ResetOffset.Std() <= 0 {
		c.Ledger.ResetOffset = Duration(5 * time.Minute)
	}
	if c.Manifest.StalenessThreshold.Std() <= 0 {
		c.Manifest.StalenessThreshold = Duration(15 * time.Minute)
	}
	if c.Manifest.PublishInterval.Std() <= 0 {
		c.Manifest.PublishInterval = Duration(time.Minute)
	}
	if c.Channel.PollLimit <= 0 {
		c.Channel.PollLimit = 100
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "redis", "valkey":
		// ok; rueidis speaks to both
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	if len(c.Ledger.Agents) < 1 {
		return fmt.Errorf("ledger.agents requires at least one agent id")
	}
	for _, a := range c.Ledger.Agents {
		if strings.Contains(a, ":") {
			return fmt.Errorf("ledger.agents: agent id %q must not contain ':'", a)
		}
	}
	if c.Ledger.WarningThreshold > 1 {
		return fmt.Errorf("ledger.warning_threshold must be a fraction in (0, 1], got %v", c.Ledger.WarningThreshold)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
