// Package cli holds the configuration and output helpers of the splitctl command.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvBaseURL = "SPLITFEATURE_BASE_URL"
	EnvAPIKey  = "SPLITFEATURE_API_KEY"
)

// Config represents the CLI configuration
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig represents configuration for a specific environment. APIKey is only
// needed for tracking.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".splitfeature", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				DefaultEnv:   "dev",
				Environments: make(map[string]EnvConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvConfig)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetEnvConfig resolves the connection settings.
// Priority: command flags > environment variables > config file.
// It returns the settings and the effective environment name, which is empty when
// the base URL came from a flag or the environment.
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, string, error) {
	envBaseURL := os.Getenv(EnvBaseURL)
	envAPIKey := os.Getenv(EnvAPIKey)

	pick := func(flag, env, file string) string {
		switch {
		case flag != "":
			return flag
		case env != "":
			return env
		default:
			return file
		}
	}

	if baseURLFlag != "" || envBaseURL != "" {
		return &EnvConfig{
			BaseURL: pick(baseURLFlag, envBaseURL, ""),
			APIKey:  pick(apiKeyFlag, envAPIKey, ""),
		}, envName, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}
	if envName == "" {
		envName = cfg.DefaultEnv
	}

	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return nil, "", fmt.Errorf("environment '%s' not found in config", envName)
	}
	envCfg.APIKey = pick(apiKeyFlag, envAPIKey, envCfg.APIKey)

	if envCfg.BaseURL == "" {
		return nil, "", fmt.Errorf("base_url must be configured for environment '%s'", envName)
	}
	return &envCfg, envName, nil
}

// InitConfig creates a default config file. An existing file is kept unless force is set.
func InitConfig(force bool) error {
	if !force {
		path, err := GetConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}
	}

	cfg := &Config{
		DefaultEnv: "dev",
		Environments: map[string]EnvConfig{
			"dev": {
				BaseURL: "http://localhost:8080",
				APIKey:  "track-123",
			},
			"prod": {
				BaseURL: "https://flags.example.com",
			},
		},
	}
	return SaveConfig(cfg)
}

// MaskKey hides all but the first four characters of an API key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > 4 {
		return key[:4] + "***"
	}
	return "***"
}
