package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the mira configuration
type Config struct {
	Owner  OwnerConfig  `yaml:"owner"`
	Gemini GeminiConfig `yaml:"gemini"`
	Ingest IngestConfig `yaml:"ingest"`
}

// OwnerConfig identifies the archive owner all records are scoped to
type OwnerConfig struct {
	Email    string `yaml:"email"`
	Username string `yaml:"username,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// GeminiConfig holds generation settings
type GeminiConfig struct {
	Model string `yaml:"model,omitempty"`
	RPM   int    `yaml:"rpm,omitempty"`
	// Pointer so an explicit temperature of 0 survives the yaml round trip.
	Temperature *float64 `yaml:"temperature,omitempty"`
	// Minimum delay between consecutive people in the enrichment loop,
	// in milliseconds. 0 means the 1500ms default.
	IntervalMS int `yaml:"interval_ms,omitempty"`
}

// IngestConfig holds archive ingestion settings
type IngestConfig struct {
	// Directory watched by `mira watch`; defaults to <data>/drop.
	DropDir string `yaml:"drop_dir,omitempty"`
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("MIRA_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mira"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("MIRA_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Mira"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mira"), nil
	}

	return filepath.Join(home, ".local", "share", "mira"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default empty config
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GeminiAPIKey resolves the Gemini API key from the environment, loading a
// .env file from the config dir (then the working dir) first if one exists.
// Empty string falls back to Application Default Credentials.
func GeminiAPIKey() string {
	if configDir, err := GetConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(configDir, ".env"))
	}
	_ = godotenv.Load()

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}
