package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
)

// Config holds the application configuration
type Config struct {
	// Automation server connection
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Endpoint       string        `yaml:"endpoint"`
	Secure         bool          `yaml:"secure"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Password from a Kubernetes Secret ("namespace/name" or "namespace/name/key")
	PasswordSecret string `yaml:"password_secret"`
	Kubeconfig     string `yaml:"kubeconfig"`
	InCluster      bool   `yaml:"in_cluster"`

	// Action defaults
	Action     string `yaml:"action"`
	IgnoreCase bool   `yaml:"ignore_case"`

	// Serve mode
	APIPort     int `yaml:"api_port"`
	MetricsPort int `yaml:"metrics_port"`
	HealthPort  int `yaml:"health_port"`

	// Observability
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or console
}

// Options controls where configuration is read from
type Options struct {
	File    string // optional YAML profile
	EnvFile string // optional .env file
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Endpoint:       "/",
		RequestTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		APIPort:        8090,
		MetricsPort:    9090,
		HealthPort:     8091,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load builds the configuration from defaults, the YAML profile, the .env
// file and the environment, in increasing order of precedence, and
// validates the result.
func Load(opts Options) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides and validate afterwards.
func Read(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := cfg.loadFile(opts.File); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file '%s': %w", opts.EnvFile, err)
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	return Load(Options{})
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal config file '%s': %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnvOrDefault("SB_HOST", c.Host)
	c.Port = parseInt(os.Getenv("SB_PORT"), c.Port)
	c.Endpoint = getEnvOrDefault("SB_ENDPOINT", c.Endpoint)
	c.Secure = parseBool(os.Getenv("SB_SECURE"), c.Secure)
	c.Password = getEnvOrDefault("SB_PASSWORD", c.Password)
	c.RequestTimeout = parseDuration(os.Getenv("REQUEST_TIMEOUT"), c.RequestTimeout)
	c.ReconnectDelay = parseDuration(os.Getenv("RECONNECT_DELAY"), c.ReconnectDelay)
	c.PasswordSecret = getEnvOrDefault("SB_PASSWORD_SECRET", c.PasswordSecret)
	c.Kubeconfig = getEnvOrDefault("KUBECONFIG", c.Kubeconfig)
	c.InCluster = parseBool(os.Getenv("IN_CLUSTER"), c.InCluster)
	c.Action = getEnvOrDefault("SB_ACTION", c.Action)
	c.IgnoreCase = parseBool(os.Getenv("SB_IGNORE_CASE"), c.IgnoreCase)
	c.APIPort = parseInt(os.Getenv("API_PORT"), c.APIPort)
	c.MetricsPort = parseInt(os.Getenv("METRICS_PORT"), c.MetricsPort)
	c.HealthPort = parseInt(os.Getenv("HEALTH_PORT"), c.HealthPort)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
}

// Normalize applies the connection form fallbacks: a blank host means the
// default host and a non-positive port means the default port.
func (c *Config) Normalize() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Endpoint == "" {
		c.Endpoint = "/"
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	var errs []error

	if c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got: %d", c.Port))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got: %s", c.RequestTimeout))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be positive, got: %s", c.ReconnectDelay))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be either 'json' or 'console', got: %s", c.LogFormat))
	}
	if c.Password != "" && c.PasswordSecret != "" {
		errs = append(errs, errors.New("password and password secret are mutually exclusive"))
	}
	ports := []struct {
		name string
		port int
	}{
		{"api", c.APIPort},
		{"metrics", c.MetricsPort},
		{"health", c.HealthPort},
	}
	for _, p := range ports {
		if p.port <= 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s port must be between 1 and 65535, got: %d", p.name, p.port))
		}
	}

	return errors.Join(errs...)
}

// Scheme returns the WebSocket scheme for the connection
func (c *Config) Scheme() string {
	if c.Secure {
		return "wss"
	}
	return "ws"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	var result int
	fmt.Sscanf(value, "%d", &result)
	if result == 0 {
		return defaultValue
	}
	return result
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func parseBool(value string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
