// Package config loads the pager configuration from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/leaky-pager/pkg/admission"
	"github.com/Sternrassler/leaky-pager/pkg/client"
	"github.com/Sternrassler/leaky-pager/pkg/logging"
	"github.com/Sternrassler/leaky-pager/pkg/pagination"
	"github.com/Sternrassler/leaky-pager/pkg/query"
	"github.com/Sternrassler/leaky-pager/pkg/server"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "PAGER_CONFIG"

// Config holds the pager configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds settings of the admission-controlled server.
type ServerConfig struct {
	Addr          string      `yaml:"addr"`
	Capacity      int         `yaml:"capacity"`
	LeakPerSecond int         `yaml:"leak_per_second"`
	QueueSize     int         `yaml:"queue_size"`
	Noise         NoiseConfig `yaml:"noise"`

	// Dataset is a JSON array file; empty serves SyntheticRecords generated records.
	Dataset          string `yaml:"dataset"`
	SyntheticRecords int    `yaml:"synthetic_records"`

	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// NoiseConfig simulates other tenants charging the bucket.
type NoiseConfig struct {
	Disabled    bool    `yaml:"disabled"`
	Probability float64 `yaml:"probability"`
	MaxPoints   int     `yaml:"max_points"`
}

// ClientConfig holds settings of the fetch stream and its HTTP client.
type ClientConfig struct {
	BaseURL       string   `yaml:"base_url"`
	UserAgent     string   `yaml:"user_agent"`
	Fields        []string `yaml:"fields"`
	PageSize      int      `yaml:"page_size"`
	StartPage     int      `yaml:"start_page"`
	MaxRejections int      `yaml:"max_rejections"` // 0 = unlimited
	TimeoutSec    int      `yaml:"timeout_sec"`
}

// RedisConfig holds Redis settings. An empty Addr disables the page cache
// and the snapshot tracker.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"` // debug, info, warn, error
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from path. An empty path falls back to
// $PAGER_CONFIG, then to the built-in defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML after ${VAR} substitution, applies defaults and validates.
func Parse(data []byte) (Config, error) {
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

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.Capacity <= 0 {
		c.Server.Capacity = query.DefaultCapacity
	}
	if c.Server.LeakPerSecond <= 0 {
		c.Server.LeakPerSecond = query.DefaultLeakPerSecond
	}
	if c.Server.QueueSize <= 0 {
		c.Server.QueueSize = admission.DefaultQueueSize
	}
	if c.Server.Noise.Probability == 0 {
		c.Server.Noise.Probability = admission.DefaultNoiseProbability
	}
	if c.Server.Noise.MaxPoints <= 0 {
		c.Server.Noise.MaxPoints = admission.DefaultNoiseMaxPoints
	}
	if c.Server.Dataset == "" && c.Server.SyntheticRecords <= 0 {
		c.Server.SyntheticRecords = 1000
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 10
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 10
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = 10
	}

	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://" + c.Server.Addr
	}
	if c.Client.UserAgent == "" {
		c.Client.UserAgent = client.DefaultUserAgent
	}
	if c.Client.PageSize <= 0 {
		c.Client.PageSize = query.DefaultPageSize
	}
	if c.Client.TimeoutSec <= 0 {
		c.Client.TimeoutSec = 30
	}

	if c.Redis.CacheTTLSec <= 0 {
		c.Redis.CacheTTLSec = 300
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LevelInfo)
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Server.Capacity > math.MaxUint16 {
		return fmt.Errorf("server.capacity must be at most %d, got %d", math.MaxUint16, c.Server.Capacity)
	}
	if c.Server.LeakPerSecond > math.MaxUint8 {
		return fmt.Errorf("server.leak_per_second must be at most %d, got %d", math.MaxUint8, c.Server.LeakPerSecond)
	}
	if p := c.Server.Noise.Probability; p < 0 || p > 1 {
		return fmt.Errorf("server.noise.probability must be between 0 and 1, got %v", p)
	}
	if c.Server.Noise.MaxPoints > math.MaxUint16 {
		return fmt.Errorf("server.noise.max_points must be at most %d, got %d", math.MaxUint16, c.Server.Noise.MaxPoints)
	}
	if c.Server.SyntheticRecords < 0 {
		return fmt.Errorf("server.synthetic_records must be >= 0, got %d", c.Server.SyntheticRecords)
	}

	if c.Client.PageSize > math.MaxUint16 {
		return fmt.Errorf("client.page_size must be at most %d, got %d", math.MaxUint16, c.Client.PageSize)
	}
	if c.Client.StartPage < 0 {
		return fmt.Errorf("client.start_page must be >= 0, got %d", c.Client.StartPage)
	}
	if c.Client.MaxRejections < 0 {
		return fmt.Errorf("client.max_rejections must be >= 0, got %d", c.Client.MaxRejections)
	}
	for _, f := range c.Client.Fields {
		if !query.IsField(f) {
			return fmt.Errorf("client.fields: unknown field %q", f)
		}
	}
	if !strings.HasPrefix(c.Client.BaseURL, "http://") && !strings.HasPrefix(c.Client.BaseURL, "https://") {
		return fmt.Errorf("client.base_url must be an http or https URL, got %q", c.Client.BaseURL)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// Admission returns the controller configuration.
func (s ServerConfig) Admission() admission.Config {
	return admission.Config{
		Capacity:      uint16(s.Capacity),
		LeakPerSecond: uint8(s.LeakPerSecond),
		QueueSize:     s.QueueSize,
	}
}

// NoiseSource returns the configured simulated load.
func (s ServerConfig) NoiseSource() admission.Noise {
	if s.Noise.Disabled {
		return admission.NoNoise{}
	}
	return admission.RandomNoise{
		Probability: s.Noise.Probability,
		MaxPoints:   uint16(s.Noise.MaxPoints),
	}
}

// HTTP returns the HTTP server configuration.
func (s ServerConfig) HTTP() server.Config {
	return server.Config{
		Addr:            s.Addr,
		ReadTimeout:     time.Duration(s.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(s.WriteTimeoutSec) * time.Second,
		ShutdownTimeout: time.Duration(s.ShutdownSec) * time.Second,
	}
}

// HTTPClient returns the page client configuration.
func (c ClientConfig) HTTPClient() client.Config {
	return client.Config{
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
		Timeout:   time.Duration(c.TimeoutSec) * time.Second,
	}
}

// Stream returns the fetch stream configuration.
func (c ClientConfig) Stream() pagination.Config {
	cfg := pagination.DefaultConfig()
	cfg.Fields = c.Fields
	cfg.PageSize = uint16(c.PageSize)
	cfg.StartPage = c.StartPage
	cfg.MaxRejections = c.MaxRejections
	return cfg
}

// Enabled reports whether Redis-backed features are configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// CacheTTL returns the page cache TTL.
func (r RedisConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSec) * time.Second
}

// Options returns the logging setup for stderr.
func (l LoggingConfig) Options() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(l.Level)
	cfg.Pretty = l.Pretty
	return cfg
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
