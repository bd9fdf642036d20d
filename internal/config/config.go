// Package config provides configuration management for agentrelay.
// It supports loading configuration from environment variables, a
// config file, and defaults, following the same viper-based layering
// the rest of the corpus uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentrelay.
type Config struct {
	Plane    PlaneConfig              `mapstructure:"plane"`
	Projects map[string]ProjectConfig `mapstructure:"projects"`
	Agent    AgentConfig              `mapstructure:"agent"`
	Logging  LoggingConfig            `mapstructure:"logging"`
}

// PlaneConfig holds the tracker connection configuration.
type PlaneConfig struct {
	BaseURL       string `mapstructure:"baseUrl"`
	WorkspaceSlug string `mapstructure:"workspaceSlug"`
}

// ProjectConfig holds per-project orchestration configuration.
type ProjectConfig struct {
	RepoPath      string   `mapstructure:"repoPath" yaml:"repoPath"`
	RepoURL       string   `mapstructure:"repoUrl" yaml:"repoUrl"`
	DefaultBranch string   `mapstructure:"defaultBranch" yaml:"defaultBranch"`
	CIChecks      []string `mapstructure:"ciChecks" yaml:"ciChecks"`
}

// AgentConfig holds scheduler and budget configuration.
type AgentConfig struct {
	MaxConcurrent    int     `mapstructure:"maxConcurrent"`
	MaxBudgetPerTask float64 `mapstructure:"maxBudgetPerTask"`
	MaxDailyBudget   float64 `mapstructure:"maxDailyBudget"`
	MaxTurns         int     `mapstructure:"maxTurns"`
	PollIntervalMs   int     `mapstructure:"pollIntervalMs"`
	SpawnDelayMs     int     `mapstructure:"spawnDelayMs"`
	MaxRetries       int     `mapstructure:"maxRetries"`
	RetryBaseDelayMs int     `mapstructure:"retryBaseDelayMs"`
	LabelName        string  `mapstructure:"labelName"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func (a AgentConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

func (a AgentConfig) SpawnDelay() time.Duration {
	return time.Duration(a.SpawnDelayMs) * time.Millisecond
}

func (a AgentConfig) RetryBaseDelay() time.Duration {
	return time.Duration(a.RetryBaseDelayMs) * time.Millisecond
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the AGENTRELAY_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path, or default
// locations, honoring CONFIG_PATH if configPath is empty.
func LoadWithPath(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentrelay/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.maxConcurrent", 2)
	v.SetDefault("agent.maxBudgetPerTask", 5)
	v.SetDefault("agent.maxDailyBudget", 20)
	v.SetDefault("agent.maxTurns", 200)
	v.SetDefault("agent.pollIntervalMs", 30000)
	v.SetDefault("agent.spawnDelayMs", 15000)
	v.SetDefault("agent.maxRetries", 2)
	v.SetDefault("agent.retryBaseDelayMs", 60000)
	v.SetDefault("agent.labelName", "agent")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// validate checks required configuration and collects every violation
// before returning, rather than failing on the first.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Plane.BaseURL == "" {
		errs = append(errs, "plane.baseUrl is required")
	}
	if cfg.Plane.WorkspaceSlug == "" {
		errs = append(errs, "plane.workspaceSlug is required")
	}
	if len(cfg.Projects) == 0 {
		errs = append(errs, "at least one entry under projects is required")
	}
	for id, p := range cfg.Projects {
		if p.RepoPath == "" {
			errs = append(errs, fmt.Sprintf("projects.%s.repoPath is required", id))
		}
		if p.DefaultBranch == "" {
			p.DefaultBranch = "main"
			cfg.Projects[id] = p
		}
	}

	if cfg.Agent.MaxConcurrent <= 0 {
		errs = append(errs, "agent.maxConcurrent must be positive")
	}
	if cfg.Agent.MaxBudgetPerTask <= 0 {
		errs = append(errs, "agent.maxBudgetPerTask must be positive")
	}
	if cfg.Agent.MaxDailyBudget < cfg.Agent.MaxBudgetPerTask {
		errs = append(errs, "agent.maxDailyBudget must be >= agent.maxBudgetPerTask")
	}
	if cfg.Agent.MaxRetries < 0 {
		errs = append(errs, "agent.maxRetries must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
