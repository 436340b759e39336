// Package telemetry is the public instrumentation surface: callers open a
// tracker around an AI call, record tokens/cost/model while it is live, and
// finalize it on every exit path. Finalization stores exactly one record and
// never disturbs the instrumented operation, whatever the sinks do.
//
// Usage:
//
//	tr := recorder.Begin("doc-finder", "search")
//	defer tr.End(&err)
//
//	resp, err := client.Do(req)
//	if err != nil {
//		return err
//	}
//	counts, err := telemetry.ExtractOpenRouter(body)
//	if err != nil {
//		return err
//	}
//	tr.RecordTokens(counts)
//	tr.RecordModel("anthropic/claude-3-5-sonnet")
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"llmtrace/internal/config"
	"llmtrace/internal/models"
	"llmtrace/internal/storage"
)

// Sink is a destination finalized records are dispatched to. Dispatch is
// best-effort: a failing sink is logged, never propagated.
type Sink interface {
	Record(rec models.TelemetryRecord, payload storage.Payload) error
	Name() string
}

// Recorder hands out trackers bound to a fixed config, session identity and
// sink set. Construct one per process at startup.
type Recorder struct {
	enabled bool
	project string
	session SessionInfo
	sinks   []Sink
}

// NewRecorder builds a recorder from an explicit config. Session identity is
// detected here, once; no environment reads happen on the call path.
func NewRecorder(cfg *config.Config, sinks ...Sink) *Recorder {
	return &Recorder{
		enabled: cfg.Enabled,
		project: cfg.ProjectName,
		session: DetectSession(),
		sinks:   sinks,
	}
}

// Begin opens a tracker for one AI call. The caller must arrange for End to
// run on every exit path, normally via defer.
func (r *Recorder) Begin(agentName, operation string) *Tracker {
	return &Tracker{
		recorder:  r,
		agentName: agentName,
		operation: operation,
		model:     "unknown",
		start:     time.Now(), // monotonic
	}
}

// Track wraps fn in a begin/finalize pair. The error fn returns is recorded
// on the tracker and returned unchanged.
func (r *Recorder) Track(agentName, operation string, fn func(tr *Tracker) error) (err error) {
	tr := r.Begin(agentName, operation)
	defer tr.End(&err)
	return fn(tr)
}

// Tracker measures one call. It owns no persistent state; everything it
// gathers becomes a single immutable TelemetryRecord at End.
type Tracker struct {
	recorder  *Recorder
	agentName string
	operation string
	start     time.Time

	mu       sync.Mutex
	tokens   models.TokenCounts
	cost     float64
	model    string
	prompt   string
	response string

	once sync.Once
}

// RecordTokens stores normalized token counts for the call.
func (t *Tracker) RecordTokens(tc models.TokenCounts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = tc
}

// RecordUsage extracts counts from a raw provider body and stores them. The
// extraction error is returned to the caller: silently recording zero tokens
// on a malformed payload is worse than failing loudly here.
func (t *Tracker) RecordUsage(provider Provider, raw []byte) error {
	tc, err := ExtractTokens(provider, raw)
	if err != nil {
		return err
	}
	t.RecordTokens(tc)
	return nil
}

// RecordCost stores the provider-reported cost in USD.
func (t *Tracker) RecordCost(costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cost = costUSD
}

// RecordModel stores the model that served the call.
func (t *Tracker) RecordModel(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if model != "" {
		t.model = model
	}
}

// RecordPrompt captures the prompt text. The record always carries its hash;
// the text itself is only persisted when prompt storage is enabled.
func (t *Tracker) RecordPrompt(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompt = text
}

// RecordResponse captures the response text, same contract as RecordPrompt.
func (t *Tracker) RecordResponse(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.response = text
}

// End finalizes the tracker exactly once, however the enclosing scope exits.
// Pass a pointer to the caller's named error return: a non-nil error marks
// the record failed and is carried on it, and still propagates untouched.
// Sink failures are logged and swallowed; instrumentation must not break the
// instrumented operation.
func (t *Tracker) End(errp *error) {
	t.once.Do(func() {
		if !t.recorder.enabled {
			return
		}

		durationMs := time.Since(t.start).Milliseconds()

		t.mu.Lock()
		rec := models.TelemetryRecord{
			SchemaVersion: models.SchemaVersion,
			RecordID:      uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			AgentName:     t.agentName,
			Operation:     t.operation,
			Model:         t.model,
			SessionID:     t.recorder.session.SessionID,
			UserID:        t.recorder.session.UserID,
			DurationMs:    durationMs,
			Tokens:        t.tokens,
			CostUSD:       t.cost,
			Success:       true,
			Project:       t.recorder.project,
		}
		if t.prompt != "" {
			rec.PromptHash = contentHash(t.prompt)
		}
		if t.response != "" {
			rec.ResponseHash = contentHash(t.response)
		}
		payload := storage.Payload{Prompt: t.prompt, Response: t.response}
		t.mu.Unlock()

		if errp != nil && *errp != nil {
			rec.Success = false
			rec.Error = (*errp).Error()
		}

		for _, sink := range t.recorder.sinks {
			if err := sink.Record(rec, payload); err != nil {
				log.Warnf("telemetry sink %s failed: %v", sink.Name(), err)
			}
		}
	})
}

// contentHash is the content address stored in place of raw text.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
