// audit_backend.go: Storage backends for the Cerbero audit system
//
// Two backends are provided: a SQLite database (WAL mode) for queryable
// unified audit trails, and a JSONL file for deployments that want
// grep-able, shippable logs. Selection is automatic: an OutputFile ending
// in .jsonl picks JSONL, anything else tries SQLite first and degrades to
// JSONL so audit setup never prevents daemon startup.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend abstracts audit event storage.
type auditBackend interface {
	// Write persists a batch of audit events.
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage.
	Flush() error

	// Close releases all resources.
	Close() error

	// Maintenance performs backend housekeeping (retention, optimization).
	Maintenance() error

	// GetStats returns statistics about the stored events.
	GetStats() (*AuditDatabaseStats, error)
}

// createAuditBackend selects the storage backend for the given configuration.
// SQLite is preferred; JSONL is both an explicit choice (.jsonl extension)
// and the degradation path when SQLite initialization fails.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

// unifiedAuditPath is the default location of the system audit database.
func unifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "cerbero", "system-audit.db")
}

// AuditDatabaseStats represents statistics about the audit store.
type AuditDatabaseStats struct {
	TotalEvents   int64            `json:"total_events"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	OldestEvent   *time.Time       `json:"oldest_event"`
	NewestEvent   *time.Time       `json:"newest_event"`
}

// ----------------------------------------------------------------------------
// SQLite backend
// ----------------------------------------------------------------------------

// sqliteAuditBackend stores events in a SQLite database.
//
// WAL journal mode keeps writers from blocking readers, which matters for an
// audit trail that is written constantly and queried rarely. The busy
// timeout covers multi-process deployments sharing the unified database.
type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	insertStmt *sql.Stmt
	mu         sync.Mutex
	closed     bool
}

const auditSchemaSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	event TEXT NOT NULL,
	component TEXT NOT NULL,
	file_path TEXT,
	process_id INTEGER NOT NULL,
	process_name TEXT NOT NULL,
	context TEXT,
	checksum TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_level ON audit_events(level);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events(event, timestamp);
`

// newSQLiteBackend opens (creating if needed) the audit database and
// prepares the batch insert statement.
func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := unifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if _, err := db.Exec(auditSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO audit_events (
			timestamp, level, event, component,
			file_path, process_id, process_name, context, checksum
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	backend := &sqliteAuditBackend{
		db:         db,
		dbPath:     dbPath,
		insertStmt: stmt,
	}

	// Retention cleanup at startup; non-critical, never blocks init.
	_ = backend.Maintenance()

	return backend, nil
}

// Write persists a batch of events in a single transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit backend is closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}

	stmt := tx.Stmt(s.insertStmt)
	for _, event := range events {
		contextJSON := ""
		if event.Context != nil {
			if data, err := json.Marshal(event.Context); err == nil {
				contextJSON = string(data)
			}
		}
		_, err := stmt.Exec(
			event.Timestamp.Format(time.RFC3339Nano),
			event.Level.String(),
			event.Event,
			event.Component,
			event.FilePath,
			event.ProcessID,
			event.ProcessName,
			contextJSON,
			event.Checksum,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op: Write commits per batch.
func (s *sqliteAuditBackend) Flush() error {
	return nil
}

// Maintenance cleans events past the retention window and checkpoints WAL.
func (s *sqliteAuditBackend) Maintenance() error {
	const retentionDays = 90

	if _, err := s.db.Exec(
		`DELETE FROM audit_events WHERE created_at < datetime('now', '-' || ? || ' days')`,
		retentionDays,
	); err != nil {
		return fmt.Errorf("failed to clean old audit events: %w", err)
	}

	_, _ = s.db.Exec("PRAGMA optimize")
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(FULL)")
	return nil
}

// GetStats returns event counts and time range from the database.
func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	stats := &AuditDatabaseStats{
		EventsByLevel: make(map[string]int64),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	rows, err := s.db.Query("SELECT level, COUNT(*) FROM audit_events GROUP BY level")
	if err != nil {
		return nil, fmt.Errorf("failed to group audit events by level: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan level row: %w", err)
		}
		stats.EventsByLevel[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate level rows: %w", err)
	}

	var oldest, newest sql.NullString
	err = s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit time range: %w", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			stats.OldestEvent = &t
		}
	}
	if newest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, newest.String); err == nil {
			stats.NewestEvent = &t
		}
	}

	return stats, nil
}

// Close finalizes the prepared statement and the database handle.
func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	return s.db.Close()
}

// ----------------------------------------------------------------------------
// JSONL backend
// ----------------------------------------------------------------------------

// jsonlAuditBackend appends events as one JSON object per line.
type jsonlAuditBackend struct {
	file *os.File
	mu   sync.Mutex
}

// newJSONLBackend opens (creating if needed) the JSONL output file.
func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	path := config.OutputFile
	if path == "" || filepath.Ext(path) == ".db" {
		path = filepath.Join(os.TempDir(), "cerbero", "audit.jsonl")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &jsonlAuditBackend{file: file}, nil
}

// Write appends each event as a JSON line.
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	encoder := json.NewEncoder(j.file)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}
	return nil
}

// Flush syncs the file to disk.
func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Maintenance is a no-op for JSONL; rotation is left to the system logrotate.
func (j *jsonlAuditBackend) Maintenance() error {
	return nil
}

// GetStats returns limited statistics for the JSONL backend.
func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	return &AuditDatabaseStats{EventsByLevel: make(map[string]int64)}, nil
}

// Close syncs and closes the output file.
func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return fmt.Errorf("failed to sync audit log file: %w", err)
	}
	return j.file.Close()
}
