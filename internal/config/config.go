// Package config provides configuration loading for loopd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Defaults are applied for anything left unset, and the result is
// validated before use.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config holds the complete loopd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	NATS         NATSConfig         `koanf:"nats"`
	Logging      LoggingConfig      `koanf:"logging"`
	LLM          LLMConfig          `koanf:"llm"`
	Storage      StorageConfig      `koanf:"storage"`
	Memory       MemoryConfig       `koanf:"memory"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds the optional NATS transport configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// QuerySubject is the subject queries arrive on. The conversation
	// identity rides in the message body, not the subject.
	QuerySubject string `koanf:"query_subject"`
	// ApprovalSubjectPrefix is prepended to the conversation identity to
	// form the per-conversation approval request subject.
	ApprovalSubjectPrefix string   `koanf:"approval_subject_prefix"`
	ApprovalTimeout       Duration `koanf:"approval_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level     string          `koanf:"level"`
	Format    string          `koanf:"format"`
	Redaction RedactionConfig `koanf:"redaction"`
}

// RedactionConfig controls sensitive data redaction in log output.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// LLMConfig holds the reasoning collaborator configuration.
type LLMConfig struct {
	Provider   string   `koanf:"provider"` // "anthropic" or "openai"
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	RateBurst  int      `koanf:"rate_burst"`
}

// StorageConfig holds keyed document storage configuration.
type StorageConfig struct {
	// Dir is the directory holding per-conversation memory and scratchpad
	// documents.
	Dir string `koanf:"dir"`
}

// MemoryConfig holds rolling memory bounds and rendering caps.
type MemoryConfig struct {
	Window       int `koanf:"window"`        // active interaction capacity
	SummaryLimit int `koanf:"summary_limit"` // retained summary blocks
	// Per-field rendering caps applied when building the context payload.
	QueryPreviewChars    int `koanf:"query_preview_chars"`
	ResponsePreviewChars int `koanf:"response_preview_chars"`
	SummaryPreviewChars  int `koanf:"summary_preview_chars"`
}

// OrchestratorConfig holds loop policy constants.
type OrchestratorConfig struct {
	MaxIterations int `koanf:"max_iterations"`
	DenialLimit   int `koanf:"denial_limit"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.QuerySubject == "" {
		cfg.NATS.QuerySubject = "loopd.query"
	}
	if cfg.NATS.ApprovalSubjectPrefix == "" {
		cfg.NATS.ApprovalSubjectPrefix = "loopd.approval."
	}
	if cfg.NATS.ApprovalTimeout == 0 {
		cfg.NATS.ApprovalTimeout = Duration(2 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Redaction.Fields == nil {
		cfg.Logging.Redaction.Enabled = true
		cfg.Logging.Redaction.Fields = []string{
			"password", "secret", "token", "api_key",
			"authorization", "bearer", "credential", "private_key",
		}
		cfg.Logging.Redaction.Patterns = []string{
			`(?i)bearer\s+\S+`,
			`(?i)api[_-]?key[=:]\s*\S+`,
		}
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 2
	}
	if cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 4
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join("~", ".local", "share", "loopd")
	}

	if cfg.Memory.Window == 0 {
		cfg.Memory.Window = 21
	}
	if cfg.Memory.SummaryLimit == 0 {
		cfg.Memory.SummaryLimit = 3
	}
	if cfg.Memory.QueryPreviewChars == 0 {
		cfg.Memory.QueryPreviewChars = 200
	}
	if cfg.Memory.ResponsePreviewChars == 0 {
		cfg.Memory.ResponsePreviewChars = 300
	}
	if cfg.Memory.SummaryPreviewChars == 0 {
		cfg.Memory.SummaryPreviewChars = 500
	}

	if cfg.Orchestrator.MaxIterations == 0 {
		cfg.Orchestrator.MaxIterations = 5
	}
	if cfg.Orchestrator.DenialLimit == 0 {
		cfg.Orchestrator.DenialLimit = 2
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm provider must be 'anthropic' or 'openai', got %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.RateLimit <= 0 {
		return fmt.Errorf("llm rate_limit must be > 0, got %v", c.LLM.RateLimit)
	}

	if c.Memory.Window < 1 {
		return fmt.Errorf("memory window must be >= 1, got %d", c.Memory.Window)
	}
	if c.Memory.SummaryLimit < 1 {
		return fmt.Errorf("memory summary_limit must be >= 1, got %d", c.Memory.SummaryLimit)
	}

	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator max_iterations must be >= 1, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.DenialLimit < 1 {
		return fmt.Errorf("orchestrator denial_limit must be >= 1, got %d", c.Orchestrator.DenialLimit)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats url required when nats is enabled")
		}
		if c.NATS.ApprovalTimeout.Duration() <= 0 {
			return fmt.Errorf("nats approval_timeout must be positive")
		}
	}

	return nil
}
