// Package config provides quizzer configuration loaded from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all quizzer configuration.
type Config struct {
	// HTTP front door
	Server ServerConfig `yaml:"server"`

	// Quiz loop behaviour
	Quiz QuizConfig `yaml:"quiz"`

	// LLM provider
	LLM LLMConfig `yaml:"llm"`

	// Page rendering
	Render RenderConfig `yaml:"render"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server and session identity.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	Email       string `yaml:"email"`
	Secret      string `yaml:"secret"`
	MaxSessions int    `yaml:"max_sessions"`
}

// QuizConfig configures the chain orchestrator.
type QuizConfig struct {
	Deadline         string `yaml:"deadline"`          // wall-clock budget per session
	MaxAttempts      int    `yaml:"max_attempts"`      // answer submissions per round
	FetchRetries     int    `yaml:"fetch_retries"`     // page fetch retries per round
	ComposeRetries   int    `yaml:"compose_retries"`   // malformed-model-output retries
	TransportRetries int    `yaml:"transport_retries"` // submission transport retries
	MaxAttachments   int    `yaml:"max_attachments"`   // files downloaded per round
	PayloadCeiling   int    `yaml:"payload_ceiling"`   // serialized submission byte cap
	SubmitTimeout    string `yaml:"submit_timeout"`
	UserAgent        string `yaml:"user_agent"`
}

// LLMConfig configures the answer model.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// RenderConfig configures page fetching and headless rendering.
type RenderConfig struct {
	StaticTimeout     string `yaml:"static_timeout"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	Headless          bool   `yaml:"headless"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	MaxDownloadBytes  int    `yaml:"max_download_bytes"`
	PreviewCap        int    `yaml:"preview_cap"`
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MaxSessions: 8,
		},
		Quiz: QuizConfig{
			Deadline:         "3m",
			MaxAttempts:      2,
			FetchRetries:     2,
			ComposeRetries:   2,
			TransportRetries: 2,
			MaxAttachments:   10,
			PayloadCeiling:   1_000_000,
			SubmitTimeout:    "30s",
			UserAgent:        "quizzer/1.0",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4.1-mini",
			Timeout:  "60s",
		},
		Render: RenderConfig{
			StaticTimeout:     "10s",
			NavigationTimeout: "60s",
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			MaxDownloadBytes:  10_000_000,
			PreviewCap:        6000,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file is absent, and applies environment overrides last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUIZZER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("QUIZZER_EMAIL"); v != "" {
		c.Server.Email = v
	}
	if v := os.Getenv("QUIZZER_SECRET"); v != "" {
		c.Server.Secret = v
	}
	if v := os.Getenv("QUIZZER_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.MaxSessions = n
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.Provider = "openai"
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.Provider = "gemini"
		c.LLM.APIKey = key
	}
	if v := os.Getenv("QUIZZER_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("QUIZZER_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.Secret == "" {
		return fmt.Errorf("server.secret is required")
	}
	if c.Quiz.MaxAttempts < 1 {
		return fmt.Errorf("quiz.max_attempts must be >= 1")
	}
	if c.Quiz.PayloadCeiling < 1 {
		return fmt.Errorf("quiz.payload_ceiling must be >= 1")
	}
	if _, err := time.ParseDuration(c.Quiz.Deadline); err != nil {
		return fmt.Errorf("quiz.deadline: %w", err)
	}
	return nil
}

// GetDeadline returns the session wall-clock budget.
func (c *Config) GetDeadline() time.Duration {
	return parseDuration(c.Quiz.Deadline, 3*time.Minute)
}

// GetSubmitTimeout returns the answer submission timeout.
func (c *Config) GetSubmitTimeout() time.Duration {
	return parseDuration(c.Quiz.SubmitTimeout, 30*time.Second)
}

// GetLLMTimeout returns the model invocation timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetStaticTimeout returns the static fetch timeout.
func (c *Config) GetStaticTimeout() time.Duration {
	return parseDuration(c.Render.StaticTimeout, 10*time.Second)
}

// GetNavigationTimeout returns the headless navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Render.NavigationTimeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
