package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, LLM_API_KEY, MEMORY_WINDOW, ...)
//  2. YAML config file (~/.config/loopd/config.yaml by default)
//  3. Hardcoded defaults
//
// Environment variables map to YAML fields by splitting on the first
// underscore: SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout,
// ORCHESTRATOR_MAX_ITERATIONS -> orchestrator.max_iterations.
//
// A missing config file is not an error; defaults plus environment are used.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "loopd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and read through the descriptor so the size check and
		// the parse see the same file.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment override. Split on the first underscore only, so field
	// names keep their own underscores: MEMORY_SUMMARY_LIMIT ->
	// memory.summary_limit.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	// Expand the storage directory after defaults so "~" defaults resolve.
	if strings.HasPrefix(cfg.Storage.Dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to expand storage dir: %w", err)
		}
		cfg.Storage.Dir = filepath.Join(home, strings.TrimPrefix(cfg.Storage.Dir, "~"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone. Useful for
// tests and for the one-shot CLI path where no daemon config exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
