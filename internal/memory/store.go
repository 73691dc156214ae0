// Package memory is the cross-session memory collaborator: it remembers how
// often each method's executions turned out correct and which corrections
// humans made, across process restarts.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/gatekeeper/internal/models"
)

// Accuracy is the historical correctness of one method.
type Accuracy struct {
	Method       string  `json:"method"`
	AccuracyRate float64 `json:"accuracy_rate"`
	TotalCalls   int     `json:"total_calls"`
}

// Correction documents a human fix to a proposed operation.
type Correction struct {
	ID              int64         `json:"id"`
	Method          string        `json:"method"`
	OriginalParams  models.Params `json:"original_params"`
	CorrectedParams models.Params `json:"corrected_params"`
	Reason          string        `json:"reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Store manages the SQLite database backing cross-session memory
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.upgrade(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordOutcome stores whether an executed operation of method turned out correct.
func (s *Store) RecordOutcome(ctx context.Context, method string, success bool, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO method_calls (method, success, confidence) VALUES (?, ?, ?)`,
		method, success, confidence)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// HistoricalAccuracy returns the success rate of all recorded calls to method.
func (s *Store) HistoricalAccuracy(ctx context.Context, method string) (Accuracy, error) {
	acc := Accuracy{Method: method}
	var successes sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(CASE WHEN success THEN 1 ELSE 0 END) FROM method_calls WHERE method = ?`,
		method).Scan(&acc.TotalCalls, &successes)
	if err != nil {
		return acc, fmt.Errorf("query accuracy: %w", err)
	}
	if acc.TotalCalls > 0 {
		acc.AccuracyRate = float64(successes.Int64) / float64(acc.TotalCalls)
	}
	return acc, nil
}

// StoreCorrection records a human correction.
func (s *Store) StoreCorrection(ctx context.Context, c Correction) error {
	orig, err := json.Marshal(c.OriginalParams)
	if err != nil {
		return fmt.Errorf("marshal original params: %w", err)
	}
	corrected, err := json.Marshal(c.CorrectedParams)
	if err != nil {
		return fmt.Errorf("marshal corrected params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corrections (method, original_params, corrected_params, reason) VALUES (?, ?, ?, ?)`,
		c.Method, string(orig), string(corrected), c.Reason)
	if err != nil {
		return fmt.Errorf("store correction: %w", err)
	}
	return nil
}

// CorrectionCount returns how many corrections exist for method.
func (s *Store) CorrectionCount(ctx context.Context, method string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections WHERE method = ?`, method).Scan(&n); err != nil {
		return 0, fmt.Errorf("count corrections: %w", err)
	}
	return n, nil
}

// Corrections returns the most recent corrections for method, newest first.
func (s *Store) Corrections(ctx context.Context, method string, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, original_params, corrected_params, COALESCE(reason, ''), created_at
		 FROM corrections WHERE method = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		method, limit)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		var orig, corrected string
		if err := rows.Scan(&c.ID, &c.Method, &orig, &corrected, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		if err := json.Unmarshal([]byte(orig), &c.OriginalParams); err != nil {
			return nil, fmt.Errorf("unmarshal original params: %w", err)
		}
		if err := json.Unmarshal([]byte(corrected), &c.CorrectedParams); err != nil {
			return nil, fmt.Errorf("unmarshal corrected params: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Methods returns per-method accuracy for every method with recorded calls.
func (s *Store) Methods(ctx context.Context) ([]Accuracy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, COUNT(*), SUM(CASE WHEN success THEN 1 ELSE 0 END)
		 FROM method_calls GROUP BY method ORDER BY method`)
	if err != nil {
		return nil, fmt.Errorf("query methods: %w", err)
	}
	defer rows.Close()

	var out []Accuracy
	for rows.Next() {
		var a Accuracy
		var successes int64
		if err := rows.Scan(&a.Method, &a.TotalCalls, &successes); err != nil {
			return nil, fmt.Errorf("scan method: %w", err)
		}
		if a.TotalCalls > 0 {
			a.AccuracyRate = float64(successes) / float64(a.TotalCalls)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
