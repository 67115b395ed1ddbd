// Package config handles configuration loading for agentflow.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for agentflow.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig holds scheduler limits and timeouts.
type SchedulerConfig struct {
	// MaxConcurrentPerType bounds simultaneous executors per task type.
	MaxConcurrentPerType int64 `mapstructure:"max_concurrent_per_type"`
	// DefaultTimeout applies to tasks that carry no timeout of their own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// TypeLimits overrides MaxConcurrentPerType for specific task types.
	TypeLimits map[string]int64 `mapstructure:"type_limits"`
}

// CacheConfig holds settings shared by both caches and the ones specific
// to each.
type CacheConfig struct {
	// MaxSize is the entry capacity, applied independently to each cache.
	MaxSize int `mapstructure:"max_size"`
	// TTL is the decision cache's entry time-to-live.
	TTL time.Duration `mapstructure:"ttl"`
	// SimilarityThreshold is the semantic cache's default minimum
	// Jaccard similarity for a hit.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// PurgeInterval is how often the janitor drops expired entries.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// AnthropicConfig holds Anthropic API settings for the bundled executor.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model to use.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// HistoryConfig holds batch history persistence settings.
type HistoryConfig struct {
	// Path is the SQLite database location. Empty means the XDG data dir.
	Path string `mapstructure:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is the minimum zerolog level (debug, info, warn, error).
	Level string `mapstructure:"level"`
}

// Load loads configuration with the following precedence (highest first):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.agentflow.yaml in the current directory or a parent)
//  3. User config (~/.config/agentflow/config.yaml)
//  4. Built-in defaults
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

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// Watch loads configuration from path and invokes onChange with the
// re-parsed config every time the file changes on disk. Parse failures
// during reload keep the previous config and are reported to onError.
func Watch(path string, onChange func(*Config), onError func(error)) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		reloaded, err := unmarshal(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(reloaded)
	})
	v.WatchConfig()

	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_concurrent_per_type", 4)
	v.SetDefault("scheduler.default_timeout", "5m")

	v.SetDefault("cache.max_size", 128)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.similarity_threshold", 0.8)
	v.SetDefault("cache.purge_interval", "5m")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("history.path", "")

	v.SetDefault("logging.level", "info")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for agentflow.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agentflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "agentflow")
	}
	return filepath.Join(home, ".config", "agentflow")
}

// findProjectConfig searches for .agentflow.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".agentflow.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrentPerType: 4,
			DefaultTimeout:       5 * time.Minute,
		},
		Cache: CacheConfig{
			MaxSize:             128,
			TTL:                 30 * time.Minute,
			SimilarityThreshold: 0.8,
			PurgeInterval:       5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
