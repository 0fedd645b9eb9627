// Package config handles configuration loading for caucus.
// It supports XDG config paths, environment variable overrides, and
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for caucus.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Mediation MediationConfig `mapstructure:"mediation"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8020".
	Addr string `mapstructure:"addr"`
	// AllowedOrigins lists CORS origins allowed to call the API.
	// Empty means localhost-only development mode.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file path. Empty selects the XDG
	// data directory default.
	Path string `mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model used for statement generation and
	// preference prediction.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region, e.g. "us-west-2".
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS shared-config profile.
	AWSProfile string `mapstructure:"aws_profile"`
}

// MediationConfig holds deliberation mediation settings.
type MediationConfig struct {
	// Candidates is the number of candidate statements generated per round.
	Candidates int `mapstructure:"candidates"`
	// CritiqueRounds is the default number of critique rounds for new
	// deliberations.
	CritiqueRounds int `mapstructure:"critique_rounds"`
	// MaxRetries bounds retries of a failed external model call.
	MaxRetries int `mapstructure:"max_retries"`
	// CallTimeout bounds a single generation or prediction call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// RetryBackoff is the base backoff between retries; it grows
	// linearly with the attempt number.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// PredictRankings makes the preference predictor rank candidates on
	// behalf of participants instead of waiting for them to rank.
	PredictRankings bool `mapstructure:"predict_rankings"`
}

// Load loads configuration from the XDG config path and environment.
// Precedence (highest to lowest):
// 1. Environment variables (CAUCUS_*, ANTHROPIC_API_KEY)
// 2. User config (~/.config/caucus/config.yaml)
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	v.SetEnvPrefix("CAUCUS")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("server.addr", "CAUCUS_ADDR")
	v.BindEnv("store.path", "CAUCUS_DB")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.Set("store.path", cfg.Store.Path)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("mediation.candidates", cfg.Mediation.Candidates)
	v.Set("mediation.critique_rounds", cfg.Mediation.CritiqueRounds)
	v.Set("mediation.max_retries", cfg.Mediation.MaxRetries)
	v.Set("mediation.call_timeout", cfg.Mediation.CallTimeout.String())
	v.Set("mediation.retry_backoff", cfg.Mediation.RetryBackoff.String())
	v.Set("mediation.predict_rankings", cfg.Mediation.PredictRankings)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// DefaultStorePath returns the XDG data path for the caucus database.
func DefaultStorePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "caucus", "caucus.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8020")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("store.path", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("mediation.candidates", 16)
	v.SetDefault("mediation.critique_rounds", 1)
	v.SetDefault("mediation.max_retries", 5)
	v.SetDefault("mediation.call_timeout", "60s")
	v.SetDefault("mediation.retry_backoff", "1s")
	v.SetDefault("mediation.predict_rankings", false)
}

// getUserConfigDir returns the XDG config directory for caucus.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "caucus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "caucus")
	}
	return filepath.Join(home, ".config", "caucus")
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}
