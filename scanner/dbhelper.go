package scanner

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"simfinder/database"
	"simfinder/logging"
)

// checkAndSkipIfUnchanged returns a result when the file can be skipped or
// the check itself failed, and nil when the file must be (re)indexed.
func checkAndSkipIfUnchanged(db *sql.DB, path string, info os.FileInfo, options ScanOptions) *ProcessImageResult {
	exists, storedModTime, err := database.CheckAssetExists(db, path, options.SourcePrefix)
	if err != nil {
		return &ProcessImageResult{
			Path:  path,
			Error: fmt.Errorf("database error for %s: %w", path, err),
		}
	}
	if !exists {
		return nil
	}

	storedTime, err := time.Parse(time.RFC3339, storedModTime)
	if err != nil {
		// unparsable stamp, reindex
		return nil
	}

	if !info.ModTime().Truncate(time.Second).After(storedTime) {
		logging.DebugLog("skipping unchanged image", "path", path)
		return &ProcessImageResult{
			Path:    path,
			Success: true,
			Skipped: true,
		}
	}
	return nil
}
