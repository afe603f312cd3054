package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.Quiz.MaxAttempts)
	assert.Equal(t, 1_000_000, cfg.Quiz.PayloadCeiling)
	assert.Equal(t, 3*time.Minute, cfg.GetDeadline())
	assert.Equal(t, 10, cfg.Quiz.MaxAttachments)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quizzer.yaml")
	yaml := `
server:
  addr: ":9999"
  email: student@example.com
  secret: hunter2
quiz:
  deadline: 2m
  max_attempts: 3
llm:
  provider: gemini
  api_key: test-key
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Quiz.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.GetDeadline())
	// Untouched fields keep defaults.
	assert.Equal(t, 1_000_000, cfg.Quiz.PayloadCeiling)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUIZZER_SECRET", "env-secret")
	t.Setenv("QUIZZER_EMAIL", "env@example.com")
	t.Setenv("QUIZZER_LLM_MODEL", "env-model")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Server.Secret)
	assert.Equal(t, "env@example.com", cfg.Server.Email)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Secret = "s"
	require.NoError(t, cfg.Validate())

	cfg.Server.Secret = ""
	assert.Error(t, cfg.Validate(), "missing secret must be rejected")

	cfg = DefaultConfig()
	cfg.Server.Secret = "s"
	cfg.Quiz.Deadline = "not-a-duration"
	assert.Error(t, cfg.Validate(), "unparseable deadline must be rejected")
}
