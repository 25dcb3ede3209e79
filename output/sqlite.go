package output

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/types"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteWriter persists page results and run summaries into a sqlite
// database so that runs can be inspected later.
type SQLiteWriter struct {
	db     *sql.DB
	logger *slog.Logger
	buffer []types.PageResult
}

// NewSQLiteWriter returns a new SQLiteWriter backed by the database
// file configured in the writer config.
func NewSQLiteWriter(wc *config.WriterConfig) (*SQLiteWriter, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", wc.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteWriter{
		db:     db,
		logger: slog.With(slog.String("writer", SQLITE_WRITER_TYPE)),
	}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS page_results(
	  id          INTEGER PRIMARY KEY,
	  run_id      TEXT    NOT NULL,
	  page_id     TEXT    NOT NULL,
	  url         TEXT    NOT NULL,
	  status      TEXT    NOT NULL CHECK (status IN ('ok','skipped','no-comparison')),
	  reason      TEXT,
	  accuracy    REAL    NOT NULL,
	  elapsed_ms  INTEGER NOT NULL,
	  result_json TEXT    NOT NULL CHECK (json_valid(result_json))
	);
	CREATE INDEX IF NOT EXISTS idx_page_results_run  ON page_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_page_results_page ON page_results(page_id);
	CREATE TABLE IF NOT EXISTS run_summaries(
	  run_id       TEXT PRIMARY KEY,
	  summary_json TEXT NOT NULL CHECK (json_valid(summary_json))
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Write buffers the results; they are inserted together with the
// summary so that every row carries the run id.
func (w *SQLiteWriter) Write(results <-chan types.PageResult) {
	for result := range results {
		w.buffer = append(w.buffer, result)
	}
}

func (w *SQLiteWriter) WriteSummary(summary types.RunSummary) {
	transaction, err := w.db.Begin()
	if err != nil {
		w.logger.Error(fmt.Sprintf("failed to begin transaction: %v", err))
		return
	}
	statement, err := transaction.Prepare(`INSERT INTO page_results(run_id, page_id, url, status, reason, accuracy, elapsed_ms, result_json) VALUES(?,?,?,?,?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		w.logger.Error(fmt.Sprintf("failed to prepare statement: %v", err))
		return
	}
	defer statement.Close()

	for _, result := range w.buffer {
		resultJson, err := json.Marshal(result)
		if err != nil {
			_ = transaction.Rollback()
			w.logger.Error(fmt.Sprintf("failed to marshal result for page %s: %v", result.PageID, err))
			return
		}
		if _, err := statement.Exec(summary.RunID, result.PageID, result.URL, result.Status, result.Reason, result.Accuracy, result.Elapsed.Milliseconds(), string(resultJson)); err != nil {
			_ = transaction.Rollback()
			w.logger.Error(fmt.Sprintf("failed to insert result for page %s: %v", result.PageID, err))
			return
		}
	}

	summaryJson, err := json.Marshal(summary)
	if err != nil {
		_ = transaction.Rollback()
		w.logger.Error(fmt.Sprintf("failed to marshal summary: %v", err))
		return
	}
	if _, err := transaction.Exec(`INSERT INTO run_summaries(run_id, summary_json) VALUES(?,json(?))`, summary.RunID, string(summaryJson)); err != nil {
		_ = transaction.Rollback()
		w.logger.Error(fmt.Sprintf("failed to insert summary: %v", err))
		return
	}
	if err := transaction.Commit(); err != nil {
		w.logger.Error(fmt.Sprintf("failed to commit transaction: %v", err))
		return
	}
	w.logger.Info(fmt.Sprintf("wrote %d page results for run %s", len(w.buffer), summary.RunID))
}

func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
