package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"simfinder/logging"
	"simfinder/types"

	_ "github.com/mattn/go-sqlite3"
)

// AssetRecord is one catalogued file
type AssetRecord struct {
	Path         string
	SourcePrefix string
	Format       string
	Kind         types.MediaKind
	Width        int
	Height       int
	CapturedAt   *time.Time
	ModifiedAt   string
	Size         int64
}

// Identity returns the stable identity used by the engine and its cache
func (r AssetRecord) Identity() string {
	return AssetIdentity(r.SourcePrefix, r.Path)
}

// Asset converts the record into an engine handle
func (r AssetRecord) Asset() types.Asset {
	return types.Asset{
		ID:         r.Identity(),
		Path:       r.Path,
		Width:      r.Width,
		Height:     r.Height,
		CapturedAt: r.CapturedAt,
		Kind:       r.Kind,
	}
}

// AssetIdentity combines source prefix and path
func AssetIdentity(sourcePrefix, path string) string {
	if sourcePrefix == "" {
		return path
	}
	return sourcePrefix + ":" + path
}

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Create table if it doesn't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		source_prefix TEXT NOT NULL DEFAULT '',
		format TEXT,
		kind TEXT,
		width INTEGER,
		height INTEGER,
		captured_at TEXT,
		created_at TEXT,
		modified_at TEXT,
		size INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_assets_path ON assets(path, source_prefix);
	CREATE INDEX IF NOT EXISTS idx_assets_prefix ON assets(source_prefix);
	CREATE INDEX IF NOT EXISTS idx_assets_captured ON assets(captured_at);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, err
	}

	// Check if compared_at column exists, add it if it doesn't
	var hasComparedColumn bool
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('assets') WHERE name='compared_at'").Scan(&hasComparedColumn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error checking for compared_at column: %w", err)
	}

	if !hasComparedColumn {
		if _, err = db.Exec("ALTER TABLE assets ADD COLUMN compared_at TEXT;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("error adding compared_at column: %w", err)
		}
		logging.DebugLog("added compared_at column to asset catalog")
	}

	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath)
}

// CheckAssetExists reports whether a file is catalogued and its stored modification time
func CheckAssetExists(db *sql.DB, path string, sourcePrefix string) (bool, string, error) {
	var storedModTime sql.NullString
	err := db.QueryRow("SELECT modified_at FROM assets WHERE path = ? AND source_prefix = ?",
		path, sourcePrefix).Scan(&storedModTime)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("database error for %s: %w", path, err)
	}
	return true, storedModTime.String, nil
}

// StoreAsset inserts a record. Existing rows are replaced only with forceRewrite
// or when the file changed; a replaced row loses its compared mark.
func StoreAsset(db *sql.DB, rec AssetRecord, forceRewrite bool) error {
	now := time.Now().Format(time.RFC3339)

	var captured any
	if rec.CapturedAt != nil {
		captured = rec.CapturedAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO assets (
			identity, path, source_prefix, format, kind, width, height, captured_at, created_at, modified_at, size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			format = excluded.format,
			kind = excluded.kind,
			width = excluded.width,
			height = excluded.height,
			captured_at = excluded.captured_at,
			modified_at = excluded.modified_at,
			size = excluded.size,
			compared_at = NULL`
	if !forceRewrite {
		query += `
		WHERE assets.modified_at IS NOT excluded.modified_at`
	}

	_, err := db.Exec(query,
		rec.Identity(),
		rec.Path,
		rec.SourcePrefix,
		rec.Format,
		rec.Kind.String(),
		rec.Width,
		rec.Height,
		captured,
		now,
		rec.ModifiedAt,
		rec.Size,
	)
	if err != nil {
		return fmt.Errorf("cannot store asset %s: %w", rec.Path, err)
	}
	return nil
}

// ListAssets returns every catalogued asset of a source prefix ordered by
// path. An empty prefix lists all assets.
func ListAssets(db *sql.DB, sourcePrefix string) ([]types.Asset, error) {
	query := `SELECT path, source_prefix, format, kind, width, height, captured_at FROM assets`
	var args []any
	if sourcePrefix != "" {
		query += ` WHERE source_prefix = ?`
		args = append(args, sourcePrefix)
	}
	query += ` ORDER BY path`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []types.Asset
	for rows.Next() {
		var (
			rec      AssetRecord
			format   sql.NullString
			kind     sql.NullString
			captured sql.NullString
		)
		if err := rows.Scan(&rec.Path, &rec.SourcePrefix, &format, &kind, &rec.Width, &rec.Height, &captured); err != nil {
			return nil, fmt.Errorf("failed to read asset row: %w", err)
		}
		rec.Format = format.String
		rec.Kind = types.ParseMediaKind(kind.String)
		if captured.Valid {
			if t, err := time.Parse(time.RFC3339, captured.String); err == nil {
				rec.CapturedAt = &t
			}
		}
		assets = append(assets, rec.Asset())
	}
	return assets, rows.Err()
}

// ComparedIdentities returns the identities already included in a finished scan
func ComparedIdentities(db *sql.DB, sourcePrefix string) (map[string]bool, error) {
	query := `SELECT identity FROM assets WHERE compared_at IS NOT NULL`
	var args []any
	if sourcePrefix != "" {
		query += ` AND source_prefix = ?`
		args = append(args, sourcePrefix)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compared assets: %w", err)
	}
	defer rows.Close()

	compared := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		compared[id] = true
	}
	return compared, rows.Err()
}

// MarkCompared stamps identities as compared
func MarkCompared(db *sql.DB, identities []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`UPDATE assets SET compared_at = ? WHERE identity = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cannot prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)
	for _, id := range identities {
		if _, err := stmt.Exec(now, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("cannot mark %s compared: %w", id, err)
		}
	}
	return tx.Commit()
}

// ResetCompared clears the compared marks of a source prefix
func ResetCompared(db *sql.DB, sourcePrefix string) error {
	query := `UPDATE assets SET compared_at = NULL`
	var args []any
	if sourcePrefix != "" {
		query += ` WHERE source_prefix = ?`
		args = append(args, sourcePrefix)
	}
	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to reset compared marks: %w", err)
	}
	return nil
}

// RemoveMissing deletes rows whose file no longer exists and returns how many were removed
func RemoveMissing(db *sql.DB, sourcePrefix string) (int, error) {
	assets, err := ListAssets(db, sourcePrefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range assets {
		if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
			continue
		}
		if _, err := db.Exec(`DELETE FROM assets WHERE identity = ?`, a.ID); err != nil {
			return removed, fmt.Errorf("cannot remove %s: %w", a.Path, err)
		}
		logging.DebugLog("removed missing asset", "path", a.Path)
		removed++
	}
	return removed, nil
}

// ScanStats contains catalog statistics
type ScanStats struct {
	TotalAssets    int
	ComparedAssets int
	RawAssets      int
}

// GetScanStats retrieves statistics about catalogued assets
func GetScanStats(db *sql.DB, sourcePrefix string) (*ScanStats, error) {
	var stats ScanStats

	where := ""
	var args []any
	if sourcePrefix != "" {
		where = " AND source_prefix = ?"
		args = append(args, sourcePrefix)
	}

	err := db.QueryRow("SELECT COUNT(*) FROM assets WHERE 1=1"+where, args...).Scan(&stats.TotalAssets)
	if err != nil {
		return nil, fmt.Errorf("failed to get total assets: %w", err)
	}

	err = db.QueryRow("SELECT COUNT(*) FROM assets WHERE compared_at IS NOT NULL"+where, args...).Scan(&stats.ComparedAssets)
	if err != nil {
		return nil, fmt.Errorf("failed to get compared assets: %w", err)
	}

	err = db.QueryRow("SELECT COUNT(*) FROM assets WHERE kind = 'raw'"+where, args...).Scan(&stats.RawAssets)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw assets: %w", err)
	}

	return &stats, nil
}
