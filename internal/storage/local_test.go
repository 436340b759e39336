package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmtrace/internal/config"
	"llmtrace/internal/models"
)

func newTestStore(t *testing.T, mutate func(*config.Config)) *LocalStore {
	t.Helper()
	cfg := &config.Config{
		Enabled:       true,
		TelemetryDir:  t.TempDir(),
		RetentionDays: 30,
	}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := NewLocalStore(cfg)
	require.NoError(t, err)
	return store
}

func testRecord(ts time.Time, agent string, cost float64) models.TelemetryRecord {
	return models.TelemetryRecord{
		SchemaVersion: models.SchemaVersion,
		RecordID:      fmt.Sprintf("rec-%d", ts.UnixNano()),
		Timestamp:     ts.UTC(),
		AgentName:     agent,
		Operation:     "search",
		Model:         "gpt-4o-mini",
		SessionID:     "sess-1",
		UserID:        "alice",
		DurationMs:    42,
		Tokens:        models.TokenCounts{Input: 100, Output: 50, Total: 150},
		CostUSD:       cost,
		Success:       true,
		Project:       "demo",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAppendWritesOneValidLine(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	require.NoError(t, store.Append(testRecord(now, "doc-finder", 0.01), Payload{}))

	path := filepath.Join(store.Root(), now.Format("2006-01-02"), "telemetry.jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var rec models.TelemetryRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "doc-finder", rec.AgentName)
	assert.Equal(t, int64(150), rec.Tokens.Total)
	assert.Equal(t, models.SchemaVersion, rec.SchemaVersion)
}

func TestConcurrentAppendsYieldOnlyCompleteLines(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := testRecord(now, fmt.Sprintf("agent-%d", w), 0.001)
				rec.RecordID = fmt.Sprintf("w%d-i%d", w, i)
				if err := store.Append(rec, Payload{}); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	path := filepath.Join(store.Root(), now.Format("2006-01-02"), "telemetry.jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, writers*perWriter)

	seen := make(map[string]bool)
	for _, line := range lines {
		var rec models.TelemetryRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "truncated or interleaved line: %q", line)
		assert.False(t, seen[rec.RecordID], "duplicate record %s", rec.RecordID)
		seen[rec.RecordID] = true
	}

	summary, err := store.ReadSummary()
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), summary.TotalCalls)
}

func TestSummaryTracksAppends(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	require.NoError(t, store.Append(testRecord(now, "a", 0.01), Payload{}))
	failed := testRecord(now, "b", 0.02)
	failed.Success = false
	failed.Error = "timeout"
	require.NoError(t, store.Append(failed, Payload{}))

	summary, err := store.ReadSummary()
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalCalls)
	assert.InDelta(t, 0.03, summary.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(300), summary.TotalTokens.Total)
	assert.Equal(t, int64(1), summary.ByStatus["success"])
	assert.Equal(t, int64(1), summary.ByStatus["failure"])
	assert.Equal(t, int64(1), summary.ByAgent["a"].Calls)
	assert.Equal(t, int64(2), summary.ByModel["gpt-4o-mini"].Calls)
}

func TestRebuildSummaryMatchesIncremental(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(testRecord(now.Add(time.Duration(i)*time.Second), "a", 0.01), Payload{}))
	}
	incremental, err := store.ReadSummary()
	require.NoError(t, err)

	// Corrupt the summary, then rebuild from the log.
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "summary.json"), []byte("{broken"), 0o644))

	rebuilt, err := store.RebuildSummary()
	require.NoError(t, err)
	assert.Equal(t, incremental.TotalCalls, rebuilt.TotalCalls)
	assert.InDelta(t, incremental.TotalCostUSD, rebuilt.TotalCostUSD, 1e-9)
	assert.Equal(t, incremental.TotalTokens, rebuilt.TotalTokens)
	assert.Equal(t, incremental.ByStatus, rebuilt.ByStatus)
}

func TestScanSkipsCorruptLines(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	require.NoError(t, store.Append(testRecord(now, "a", 0.01), Payload{}))

	// Simulate a torn write from a crashed process.
	path := filepath.Join(store.Root(), now.Format("2006-01-02"), "telemetry.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"schema_version":1,"agent_na` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(testRecord(now, "b", 0.02), Payload{}))

	var agents []string
	err = store.Scan(now.Add(-time.Hour), now.Add(time.Hour), func(rec models.TelemetryRecord) bool {
		agents = append(agents, rec.AgentName)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, agents)
}

func TestScanWindowSelectsDateDirs(t *testing.T) {
	store := newTestStore(t, nil)
	now := time.Now().UTC()

	require.NoError(t, store.Append(testRecord(now, "recent", 0.01), Payload{}))
	require.NoError(t, store.Append(testRecord(now.AddDate(0, 0, -10), "old", 0.01), Payload{}))

	var agents []string
	err := store.Scan(now.AddDate(0, 0, -7), now, func(rec models.TelemetryRecord) bool {
		agents = append(agents, rec.AgentName)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, agents)
}

func TestPayloadFilesOnlyWhenEnabled(t *testing.T) {
	now := time.Now().UTC()
	payload := Payload{Prompt: "what is 2+2?", Response: "4"}

	t.Run("disabled by default", func(t *testing.T) {
		store := newTestStore(t, nil)
		rec := testRecord(now, "a", 0.01)
		rec.PromptHash = "abc"
		require.NoError(t, store.Append(rec, payload))

		dateDir := filepath.Join(store.Root(), now.Format("2006-01-02"))
		assert.NoFileExists(t, filepath.Join(dateDir, "prompts.jsonl"))
		assert.NoFileExists(t, filepath.Join(dateDir, "responses.jsonl"))
	})

	t.Run("enabled", func(t *testing.T) {
		store := newTestStore(t, func(cfg *config.Config) {
			cfg.StorePrompts = true
			cfg.StoreResponses = true
		})
		rec := testRecord(now, "a", 0.01)
		rec.PromptHash = "abc"
		rec.ResponseHash = "def"
		require.NoError(t, store.Append(rec, payload))

		dateDir := filepath.Join(store.Root(), now.Format("2006-01-02"))
		promptLines := readLines(t, filepath.Join(dateDir, "prompts.jsonl"))
		require.Len(t, promptLines, 1)

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(promptLines[0]), &entry))
		assert.Equal(t, "what is 2+2?", entry["text"])
		assert.Equal(t, "abc", entry["hash"])

		responseLines := readLines(t, filepath.Join(dateDir, "responses.jsonl"))
		require.Len(t, responseLines, 1)
	})
}
