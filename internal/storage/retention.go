package storage

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"llmtrace/internal/models"
)

// EnforceRetention deletes whole date directories strictly older than
// maxAgeDays before today (UTC). It is idempotent, never touches the current
// day's directory even with maxAgeDays=0, and leaves directories whose names
// do not parse as dates alone. It returns the number of directories removed.
func (s *LocalStore) EnforceRetention(maxAgeDays int) (int, error) {
	dirs, err := s.dateDirs()
	if err != nil {
		return 0, err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -maxAgeDays)
	todayName := today.Format(dateLayout)

	removed := 0
	for _, d := range dirs {
		day, perr := time.ParseInLocation(dateLayout, d, time.UTC)
		if perr != nil {
			continue
		}
		if d == todayName || !day.Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, d)
		if err := os.RemoveAll(path); err != nil {
			return removed, &models.StorageError{Op: "remove", Path: path, Err: err}
		}
		log.Infof("retention: removed %s", path)
		removed++
	}
	return removed, nil
}
