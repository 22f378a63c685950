package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the full duetlab configuration
type Config struct {
	Research ResearchConfig `mapstructure:"research"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ResearchConfig contains the simulation parameters
type ResearchConfig struct {
	Topic    string `mapstructure:"topic"`
	MaxSteps int    `mapstructure:"max_steps"`
}

// GitHubConfig contains the hosting settings for both scientists.
// TokenA and TokenB hold personal access tokens; when AppID is set the
// GitHub App flow is used instead and the private key is read from
// Secret Manager.
type GitHubConfig struct {
	Owner            string `mapstructure:"owner"`
	RepoName         string `mapstructure:"repo_name"`
	BaseBranch       string `mapstructure:"base_branch"`
	TokenA           string `mapstructure:"token_a"`
	TokenB           string `mapstructure:"token_b"`
	AppID            string `mapstructure:"app_id"`
	InstallationID   int64  `mapstructure:"installation_id"`
	PrivateKeySecret string `mapstructure:"private_key_secret"`
}

// GeminiConfig contains model access settings
type GeminiConfig struct {
	APIKey       string `mapstructure:"api_key"`
	APIKeySecret string `mapstructure:"api_key_secret"`
	Model        string `mapstructure:"model"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
}

// CloudConfig contains GCP settings for secrets and cloud logging
type CloudConfig struct {
	Project string `mapstructure:"project"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Dir        string `mapstructure:"dir"`
	CloudLog   bool   `mapstructure:"cloud_log"`
	CloudLogID string `mapstructure:"cloud_log_id"`
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Research.Topic == "" {
		cfg.Research.Topic = "自然言語処理における感情分析"
	}

	if cfg.Research.MaxSteps == 0 {
		cfg.Research.MaxSteps = 100
	}

	if cfg.GitHub.RepoName == "" {
		cfg.GitHub.RepoName = "ai-scientists-research"
	}

	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}

	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash-lite"
	}

	if cfg.Gemini.MaxAttempts == 0 {
		cfg.Gemini.MaxAttempts = 5
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}

	if cfg.Logging.CloudLogID == "" {
		cfg.Logging.CloudLogID = "duetlab-simulation"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Research.Topic == "" {
		return fmt.Errorf("research topic is required")
	}

	if c.Research.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.Research.MaxSteps)
	}

	if c.Logging.CloudLog && c.Cloud.Project == "" {
		return fmt.Errorf("cloud project is required when cloud logging is enabled")
	}

	return nil
}

// ValidateForRun performs additional validation required before running
// a simulation
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.GitHub.Owner == "" {
		return fmt.Errorf("GitHub owner is required")
	}

	if c.GitHub.RepoName == "" {
		return fmt.Errorf("GitHub repository name is required")
	}

	usingApp := c.GitHub.AppID != ""
	usingTokens := c.GitHub.TokenA != "" && c.GitHub.TokenB != ""
	if !usingApp && !usingTokens {
		return fmt.Errorf("GitHub credentials are required: either token_a and token_b, or App settings")
	}

	if usingApp {
		if c.GitHub.InstallationID == 0 {
			return fmt.Errorf("GitHub App installation ID is required")
		}
		if c.GitHub.PrivateKeySecret == "" {
			return fmt.Errorf("GitHub App private key secret path is required")
		}
		if c.Cloud.Project == "" {
			return fmt.Errorf("cloud project is required for GitHub App authentication")
		}
	}

	if c.Gemini.APIKey == "" && c.Gemini.APIKeySecret == "" {
		return fmt.Errorf("Gemini API key or secret path is required")
	}

	if c.Gemini.APIKeySecret != "" && c.Cloud.Project == "" {
		return fmt.Errorf("cloud project is required when the Gemini key comes from Secret Manager")
	}

	return nil
}
