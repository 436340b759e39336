package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"llmtrace/internal/models"
)

// Config holds every tunable the library reads from the environment. It is
// loaded once at startup and passed into constructors; no component consults
// the environment after Load returns.
type Config struct {
	Enabled        bool
	TelemetryDir   string
	StorePrompts   bool
	StoreResponses bool
	RetentionDays  int
	PushgatewayURL string
	ProjectName    string
	CacheDir       string
}

// Load reads configuration from the environment via viper. Invalid values
// fail fast with a ConfigError instead of being deferred to call time.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("telemetry_dir", ".llm-telemetry")
	v.SetDefault("retention_days", "30")

	// Explicit bindings keep the documented LLM_* surface authoritative
	// rather than relying on a prefix convention.
	bindings := map[string]string{
		"enabled":         "LLM_TELEMETRY_ENABLED",
		"telemetry_dir":   "LLM_TELEMETRY_DIR",
		"store_prompts":   "LLM_STORE_PROMPTS",
		"store_responses": "LLM_STORE_RESPONSES",
		"retention_days":  "LLM_RETENTION_DAYS",
		"pushgateway_url": "LLM_PUSHGATEWAY_URL",
		"project_name":    "LLM_PROJECT_NAME",
		"cache_dir":       "LLM_CACHE_DIR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		TelemetryDir:   v.GetString("telemetry_dir"),
		PushgatewayURL: v.GetString("pushgateway_url"),
		ProjectName:    v.GetString("project_name"),
		CacheDir:       v.GetString("cache_dir"),
	}

	var err error
	if cfg.Enabled, err = parseBool(v.GetString("enabled"), true, "LLM_TELEMETRY_ENABLED"); err != nil {
		return nil, err
	}
	if cfg.StorePrompts, err = parseBool(v.GetString("store_prompts"), false, "LLM_STORE_PROMPTS"); err != nil {
		return nil, err
	}
	if cfg.StoreResponses, err = parseBool(v.GetString("store_responses"), false, "LLM_STORE_RESPONSES"); err != nil {
		return nil, err
	}

	raw := v.GetString("retention_days")
	cfg.RetentionDays, err = strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, &models.ConfigError{Variable: "LLM_RETENTION_DAYS", Value: raw, Err: err}
	}
	if cfg.RetentionDays < 0 {
		return nil, &models.ConfigError{Variable: "LLM_RETENTION_DAYS", Value: raw, Err: fmt.Errorf("must be >= 0")}
	}

	if cfg.ProjectName == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.ProjectName = filepath.Base(cwd)
		}
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.CacheDir = filepath.Join(home, ".cache", "llmtrace")
	}

	return cfg, nil
}

// ResolveTelemetryDir returns the absolute storage root, anchoring a relative
// configured path at the current working directory.
func (c *Config) ResolveTelemetryDir() (string, error) {
	if filepath.IsAbs(c.TelemetryDir) {
		return filepath.Clean(c.TelemetryDir), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve telemetry dir: %w", err)
	}
	return filepath.Join(cwd, c.TelemetryDir), nil
}

func parseBool(raw string, def bool, variable string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, nil
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, &models.ConfigError{Variable: variable, Value: raw, Err: fmt.Errorf("not a boolean")}
	}
}
