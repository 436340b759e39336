package models

import "time"

// SchemaVersion is stamped on every stored record so the on-disk shape can
// evolve without breaking aggregation over historical files. Records written
// before versioning existed are read as version 1.
const SchemaVersion = 1

// TokenCounts holds normalized token usage for a single call.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// TelemetryRecord is one immutable entry describing a single completed AI
// call. It is created exactly once by a tracker at finalize time and is never
// mutated after it has been appended to storage.
type TelemetryRecord struct {
	SchemaVersion int         `json:"schema_version"`
	RecordID      string      `json:"record_id"`
	Timestamp     time.Time   `json:"timestamp"`
	AgentName     string      `json:"agent_name"`
	Operation     string      `json:"operation"`
	Model         string      `json:"model"`
	SessionID     string      `json:"session_id"`
	UserID        string      `json:"user_id"`
	DurationMs    int64       `json:"duration_ms"`
	Tokens        TokenCounts `json:"tokens"`
	CostUSD       float64     `json:"cost_usd"`
	Success       bool        `json:"success"`
	Project       string      `json:"project"`
	PromptHash    string      `json:"prompt_hash,omitempty"`
	ResponseHash  string      `json:"response_hash,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// SectionStats accumulates per-key totals inside a summary section.
type SectionStats struct {
	Calls   int64   `json:"calls"`
	CostUSD float64 `json:"cost_usd"`
	Tokens  int64   `json:"tokens"`
}

// SummaryStats is the rolling aggregate kept in summary.json. It is a derived
// cache owned by the local store: losing or corrupting it is recoverable by
// replaying the telemetry log.
type SummaryStats struct {
	SchemaVersion int                      `json:"schema_version"`
	TotalCalls    int64                    `json:"total_calls"`
	TotalCostUSD  float64                  `json:"total_cost_usd"`
	TotalTokens   TokenCounts              `json:"total_tokens"`
	ByDay         map[string]*SectionStats `json:"by_day"`
	ByAgent       map[string]*SectionStats `json:"by_agent"`
	ByModel       map[string]*SectionStats `json:"by_model"`
	ByStatus      map[string]int64         `json:"by_status"`
}

// NewSummaryStats returns an empty summary with all sections allocated.
func NewSummaryStats() *SummaryStats {
	return &SummaryStats{
		SchemaVersion: SchemaVersion,
		ByDay:         make(map[string]*SectionStats),
		ByAgent:       make(map[string]*SectionStats),
		ByModel:       make(map[string]*SectionStats),
		ByStatus:      map[string]int64{"success": 0, "failure": 0},
	}
}

// Add folds one record into the summary.
func (s *SummaryStats) Add(rec TelemetryRecord) {
	s.TotalCalls++
	s.TotalCostUSD += rec.CostUSD
	s.TotalTokens.Input += rec.Tokens.Input
	s.TotalTokens.Output += rec.Tokens.Output
	s.TotalTokens.Total += rec.Tokens.Total

	day := rec.Timestamp.UTC().Format("2006-01-02")
	bump(s.ByDay, day, rec)
	bump(s.ByAgent, rec.AgentName, rec)
	bump(s.ByModel, rec.Model, rec)

	if rec.Success {
		s.ByStatus["success"]++
	} else {
		s.ByStatus["failure"]++
	}
}

func bump(section map[string]*SectionStats, key string, rec TelemetryRecord) {
	entry, ok := section[key]
	if !ok {
		entry = &SectionStats{}
		section[key] = entry
	}
	entry.Calls++
	entry.CostUSD += rec.CostUSD
	entry.Tokens += rec.Tokens.Total
}
