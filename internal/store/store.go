// Package store persists analysis jobs in sqlite. One row per upload,
// moving through queued -> processing -> completed/error; the JSON result
// is stored inline since a finished analysis is read-only.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Analysis is one upload's lifecycle record.
type Analysis struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Error      string    `json:"error,omitempty"`
	ResultJSON string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id          TEXT PRIMARY KEY,
		filename    TEXT NOT NULL,
		size_bytes  INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'queued',
		message     TEXT DEFAULT '',
		error       TEXT DEFAULT '',
		result_json TEXT DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func InsertAnalysis(db *sql.DB, id, filename string, sizeBytes int64) error {
	_, err := db.Exec(
		`INSERT INTO analyses (id, filename, size_bytes, status, message)
		 VALUES (?, ?, ?, ?, ?)`,
		id, filename, sizeBytes, StatusQueued, "upload received",
	)
	return err
}

func MarkProcessing(db *sql.DB, id string) error {
	return updateStatus(db, id, StatusProcessing, "analysis in progress", "")
}

// CompleteAnalysis stores the result JSON and flips the row to completed.
func CompleteAnalysis(db *sql.DB, id, resultJSON string) error {
	res, err := db.Exec(
		`UPDATE analyses
		 SET status = ?, message = ?, error = '', result_json = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		StatusCompleted, "analysis complete", resultJSON, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func FailAnalysis(db *sql.DB, id, errMsg string) error {
	return updateStatus(db, id, StatusError, "analysis failed", errMsg)
}

func updateStatus(db *sql.DB, id, status, message, errMsg string) error {
	res, err := db.Exec(
		`UPDATE analyses
		 SET status = ?, message = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, message, errMsg, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("analysis %s not found", id)
	}
	return nil
}

func GetAnalysis(db *sql.DB, id string) (Analysis, error) {
	var a Analysis
	err := db.QueryRow(
		`SELECT id, filename, size_bytes, status, message, error, result_json, created_at, updated_at
		 FROM analyses WHERE id = ?`,
		id,
	).Scan(
		&a.ID, &a.Filename, &a.SizeBytes, &a.Status, &a.Message,
		&a.Error, &a.ResultJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// ListAnalyses returns all rows, newest first. Result JSON is excluded
// since listings only need lifecycle state.
func ListAnalyses(db *sql.DB) ([]Analysis, error) {
	rows, err := db.Query(
		`SELECT id, filename, size_bytes, status, message, error, created_at, updated_at
		 FROM analyses ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(
			&a.ID, &a.Filename, &a.SizeBytes, &a.Status, &a.Message,
			&a.Error, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes finished analyses older than the cutoff. Rows
// still queued or processing are never purged. The cutoff is formatted to
// match CURRENT_TIMESTAMP, which sqlite stores as UTC text.
func PurgeOlderThan(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(
		`DELETE FROM analyses
		 WHERE created_at < ? AND status IN (?, ?)`,
		cutoff.UTC().Format("2006-01-02 15:04:05"), StatusCompleted, StatusError,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
