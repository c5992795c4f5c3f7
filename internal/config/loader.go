package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skillnet-labs/examchain-backend/internal/common"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "EXAMCHAIN_"

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return LoadFromYAML(path)
	case ".json":
		return LoadFromJSON(path)
	case ".toml":
		return LoadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadDotEnv loads variables from a .env file into the process environment
// if the file exists. Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides overrides selected configuration values from
// EXAMCHAIN_* environment variables. Secrets and deploy-specific endpoints
// are the intended use, not full configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "STREAM_URL"); v != "" {
		cfg.Stream.ServerURL = v
	}

	if v := os.Getenv(EnvPrefix + "STARTING_BLOCK"); v != "" {
		block, err := common.ParseUint64orHex(&v)
		if err != nil {
			return fmt.Errorf("invalid %sSTARTING_BLOCK: %w", EnvPrefix, err)
		}
		cfg.Stream.StartingBlock = block
	}

	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DB.Path = v
	}

	if v := os.Getenv(EnvPrefix + "CONTRACT_ADDRESS"); v != "" && len(cfg.Contracts) > 0 {
		cfg.Contracts[0].Address = v
	}

	if cfg.API != nil {
		if v := os.Getenv(EnvPrefix + "API_TOKEN"); v != "" {
			cfg.API.AuthToken = v
		}
		if v := os.Getenv(EnvPrefix + "API_ADMIN_TOKEN"); v != "" {
			cfg.API.AdminToken = v
		}
	}

	return nil
}

// processConfig applies environment overrides and defaults, then validates
// the configuration.
func processConfig(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
