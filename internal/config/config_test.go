package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmtrace/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"LLM_TELEMETRY_ENABLED", "LLM_TELEMETRY_DIR", "LLM_STORE_PROMPTS",
		"LLM_STORE_RESPONSES", "LLM_RETENTION_DAYS", "LLM_PUSHGATEWAY_URL",
		"LLM_PROJECT_NAME", "LLM_CACHE_DIR",
	} {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, ".llm-telemetry", cfg.TelemetryDir)
	assert.False(t, cfg.StorePrompts)
	assert.False(t, cfg.StoreResponses)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Empty(t, cfg.PushgatewayURL)
	assert.NotEmpty(t, cfg.ProjectName, "project defaults to the working directory name")
	assert.NotEmpty(t, cfg.CacheDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_TELEMETRY_ENABLED", "false")
	t.Setenv("LLM_TELEMETRY_DIR", "/var/lib/telemetry")
	t.Setenv("LLM_STORE_PROMPTS", "yes")
	t.Setenv("LLM_RETENTION_DAYS", "7")
	t.Setenv("LLM_PUSHGATEWAY_URL", "http://localhost:7101")
	t.Setenv("LLM_PROJECT_NAME", "my-project")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "/var/lib/telemetry", cfg.TelemetryDir)
	assert.True(t, cfg.StorePrompts)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, "http://localhost:7101", cfg.PushgatewayURL)
	assert.Equal(t, "my-project", cfg.ProjectName)
}

func TestLoadBoolVariants(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"Yes", true}, {"ON", true},
		{"0", false}, {"false", false}, {"No", false}, {"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("LLM_TELEMETRY_ENABLED", tt.value)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Enabled)
		})
	}
}

func TestLoadFailsFastOnInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		value    string
		variable string
	}{
		{"non-numeric retention", "LLM_RETENTION_DAYS", "soon", "LLM_RETENTION_DAYS"},
		{"negative retention", "LLM_RETENTION_DAYS", "-3", "LLM_RETENTION_DAYS"},
		{"bad bool", "LLM_TELEMETRY_ENABLED", "maybe", "LLM_TELEMETRY_ENABLED"},
		{"bad prompts bool", "LLM_STORE_PROMPTS", "2", "LLM_STORE_PROMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load()
			require.Error(t, err)

			var cfgErr *models.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.variable, cfgErr.Variable)
			assert.Equal(t, tt.value, cfgErr.Value)
		})
	}
}

func TestResolveTelemetryDir(t *testing.T) {
	cfg := &Config{TelemetryDir: "/abs/path"}
	dir, err := cfg.ResolveTelemetryDir()
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", dir)

	cfg = &Config{TelemetryDir: ".llm-telemetry"}
	dir, err = cfg.ResolveTelemetryDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, ".llm-telemetry", filepath.Base(dir))
}
