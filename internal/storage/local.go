package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"llmtrace/internal/config"
	"llmtrace/internal/models"
)

const (
	telemetryFile = "telemetry.jsonl"
	promptsFile   = "prompts.jsonl"
	responsesFile = "responses.jsonl"
	summaryFile   = "summary.json"
	lockFile      = ".lock"

	dateLayout = "2006-01-02"
)

// Payload carries the optional raw prompt/response text alongside a record.
// Text is only ever persisted when capture is explicitly enabled; the hashes
// on the record itself are always stored.
type Payload struct {
	Prompt   string
	Response string
}

// LocalStore persists telemetry records as date-partitioned JSONL under a
// single root directory and maintains a rolling summary.json. It is safe for
// concurrent use within a process (mutex) and across processes (advisory file
// lock on <root>/.lock).
type LocalStore struct {
	root           string
	storePrompts   bool
	storeResponses bool
	mu             sync.Mutex
}

// NewLocalStore resolves the storage root from config and ensures it exists.
func NewLocalStore(cfg *config.Config) (*LocalStore, error) {
	root, err := cfg.ResolveTelemetryDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &models.StorageError{Op: "mkdir", Path: root, Err: err}
	}
	return &LocalStore{
		root:           root,
		storePrompts:   cfg.StorePrompts,
		storeResponses: cfg.StoreResponses,
	}, nil
}

// Root returns the resolved storage root directory.
func (s *LocalStore) Root() string { return s.root }

// Name identifies the store when the tracker logs sink failures.
func (s *LocalStore) Name() string { return "local-storage" }

// Record implements the tracker sink contract.
func (s *LocalStore) Record(rec models.TelemetryRecord, payload Payload) error {
	return s.Append(rec, payload)
}

// Append serializes the record to one JSON line in the day's telemetry.jsonl
// and folds it into summary.json. The append, the optional payload appends and
// the summary read-modify-write all happen under the same exclusive lock
// scope, so detail and summary never diverge when writers race.
func (s *LocalStore) Append(rec models.TelemetryRecord, payload Payload) error {
	dateDir := filepath.Join(s.root, rec.Timestamp.UTC().Format(dateLayout))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return &models.StorageError{Op: "mkdir", Path: dateDir, Err: err}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return &models.StorageError{Op: "marshal", Path: dateDir, Err: err}
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := appendLine(filepath.Join(dateDir, telemetryFile), line); err != nil {
		return err
	}

	if s.storePrompts && payload.Prompt != "" {
		entry, err := json.Marshal(payloadEntry{
			Timestamp: rec.Timestamp,
			RecordID:  rec.RecordID,
			AgentName: rec.AgentName,
			Operation: rec.Operation,
			Hash:      rec.PromptHash,
			Text:      payload.Prompt,
		})
		if err != nil {
			return &models.StorageError{Op: "marshal", Path: dateDir, Err: err}
		}
		if err := appendLine(filepath.Join(dateDir, promptsFile), entry); err != nil {
			return err
		}
	}
	if s.storeResponses && payload.Response != "" {
		entry, err := json.Marshal(payloadEntry{
			Timestamp: rec.Timestamp,
			RecordID:  rec.RecordID,
			AgentName: rec.AgentName,
			Operation: rec.Operation,
			Hash:      rec.ResponseHash,
			Text:      payload.Response,
		})
		if err != nil {
			return &models.StorageError{Op: "marshal", Path: dateDir, Err: err}
		}
		if err := appendLine(filepath.Join(dateDir, responsesFile), entry); err != nil {
			return err
		}
	}

	return s.updateSummaryLocked(rec)
}

// payloadEntry is one line of prompts.jsonl or responses.jsonl: the content
// plus the hash that ties it back to its metrics record.
type payloadEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RecordID  string    `json:"record_id"`
	AgentName string    `json:"agent_name"`
	Operation string    `json:"operation"`
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
}

// RebuildSummary replays every telemetry.jsonl under the root into a fresh
// summary.json. The summary is a cache, never a source of truth, so this is
// the complete recovery path for a lost or corrupted file.
func (s *LocalStore) RebuildSummary() (*models.SummaryStats, error) {
	summary := models.NewSummaryStats()
	err := s.ScanAll(func(rec models.TelemetryRecord) bool {
		summary.Add(rec)
		return true
	})
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.writeSummary(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// ReadSummary loads the current summary.json, returning an empty summary if
// the file does not exist yet.
func (s *LocalStore) ReadSummary() (*models.SummaryStats, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.readSummaryLocked()
}

func (s *LocalStore) updateSummaryLocked(rec models.TelemetryRecord) error {
	summary, err := s.readSummaryLocked()
	if err != nil {
		// A corrupt summary is rebuilt lazily rather than blocking the
		// append; the log remains authoritative.
		log.Warnf("resetting unreadable summary: %v", err)
		summary = models.NewSummaryStats()
	}
	summary.Add(rec)
	return s.writeSummary(summary)
}

func (s *LocalStore) readSummaryLocked() (*models.SummaryStats, error) {
	path := filepath.Join(s.root, summaryFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.NewSummaryStats(), nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "read", Path: path, Err: err}
	}
	summary := models.NewSummaryStats()
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, &models.StorageError{Op: "parse", Path: path, Err: err}
	}
	return summary, nil
}

func (s *LocalStore) writeSummary(summary *models.SummaryStats) error {
	path := filepath.Join(s.root, summaryFile)
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return &models.StorageError{Op: "marshal", Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return &models.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &models.StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// lock takes the in-process mutex and the cross-process advisory lock,
// returning a func that releases both. Callers must not hold the lock across
// any network call.
func (s *LocalStore) lock() (func(), error) {
	s.mu.Lock()
	fl := flock.New(filepath.Join(s.root, lockFile))
	if err := fl.Lock(); err != nil {
		s.mu.Unlock()
		return nil, &models.StorageError{Op: "lock", Path: fl.Path(), Err: err}
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warnf("releasing storage lock: %v", err)
		}
		s.mu.Unlock()
	}, nil
}

// appendLine writes one newline-terminated line with a single O_APPEND write,
// so a concurrent reader can never observe a partial record after the call
// returns.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &models.StorageError{Op: "open", Path: path, Err: err}
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return &models.StorageError{Op: "append", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &models.StorageError{Op: "close", Path: path, Err: err}
	}
	return nil
}
