package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"llmtrace/internal/models"
)

// ScanFunc receives one record at a time. Returning false stops the scan.
type ScanFunc func(rec models.TelemetryRecord) bool

// Scan streams every telemetry record whose timestamp falls inside
// [from, to], visiting only the date directories that intersect the window.
// Records are never materialized as a full set; a corrupt or partial line is
// skipped with a warning rather than failing the whole scan.
func (s *LocalStore) Scan(from, to time.Time, fn ScanFunc) error {
	from = from.UTC()
	to = to.UTC()

	dirs, err := s.dateDirs()
	if err != nil {
		return err
	}

	fromDay := from.Truncate(24 * time.Hour)
	toDay := to.Truncate(24 * time.Hour)

	for _, d := range dirs {
		day, perr := time.ParseInLocation(dateLayout, d, time.UTC)
		if perr != nil {
			continue
		}
		if day.Before(fromDay) || day.After(toDay) {
			continue
		}
		more, err := scanFile(filepath.Join(s.root, d, telemetryFile), from, to, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// ScanAll streams every record under the root regardless of age.
func (s *LocalStore) ScanAll(fn ScanFunc) error {
	dirs, err := s.dateDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if _, perr := time.ParseInLocation(dateLayout, d, time.UTC); perr != nil {
			continue
		}
		more, err := scanFile(filepath.Join(s.root, d, telemetryFile), time.Time{}, time.Time{}, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// dateDirs lists the root's subdirectories in ascending name order, which for
// YYYY-MM-DD names is chronological order.
func (s *LocalStore) dateDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "readdir", Path: s.root, Err: err}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// scanFile reads one telemetry.jsonl. A zero from/to disables the timestamp
// filter. The bool result reports whether the caller wants more records.
func scanFile(path string, from, to time.Time, fn ScanFunc) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, &models.StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec models.TelemetryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warnf("skipping corrupt record %s:%d: %v", path, lineNo, err)
			continue
		}
		if rec.SchemaVersion == 0 {
			// Pre-versioning files carry no schema_version field.
			rec.SchemaVersion = models.SchemaVersion
		}
		if !from.IsZero() && rec.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && rec.Timestamp.After(to) {
			continue
		}
		if !fn(rec) {
			return false, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, &models.StorageError{Op: "scan", Path: path, Err: err}
	}
	return true, nil
}
