package telemetry

import (
	"llmtrace/internal/config"
	"llmtrace/internal/models"
	"llmtrace/internal/storage"
)

// Aliases exposing the types that appear in this package's signatures, so
// importing packages outside this module can name them.
type (
	Config          = config.Config
	TokenCounts     = models.TokenCounts
	TelemetryRecord = models.TelemetryRecord
	Payload         = storage.Payload
	LocalStore      = storage.LocalStore
)

// LoadConfig reads the LLM_* environment surface once at process startup.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// NewLocalStore opens the date-partitioned JSONL store a recorder normally
// dispatches to.
func NewLocalStore(cfg *Config) (*LocalStore, error) {
	return storage.NewLocalStore(cfg)
}
