// audit.go: Audit trail system for Cerbero
//
// Every change cerbero applies to the managed configuration file - and every
// rule it decides to skip - is recorded here, ensuring full accountability
// for access-control changes on the device.
//
// Features:
// - Immutable audit logs with tamper detection
// - Structured events with context
// - Buffered writes with background flushing
// - Pluggable storage backends (SQLite preferred, JSONL fallback)
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel converts a level name into an AuditLevel.
func ParseAuditLevel(s string) (AuditLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return AuditInfo, nil
	case "WARN", "WARNING":
		return AuditWarn, nil
	case "CRITICAL":
		return AuditCritical, nil
	case "SECURITY":
		return AuditSecurity, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, "unknown audit level").
			WithContext("level", s)
	}
}

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       AuditLevel             `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	FilePath    string                 `json:"file_path,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"` // For tamper detection
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	MinLevel      AuditLevel    `json:"min_level" yaml:"min_level"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// enabledSet records that Enabled was written explicitly by a settings
	// file or environment variable. Without it an explicit "enabled: false"
	// is indistinguishable from an absent audit section and would be
	// overwritten by the enabled-by-default configuration.
	enabledSet bool
}

// DefaultAuditConfig returns secure default audit configuration with unified
// SQLite storage. An empty OutputFile selects the system audit database; a
// path with a .jsonl extension selects the JSONL backend instead.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "", // Empty triggers unified SQLite backend
		MinLevel:      AuditInfo,
		BufferSize:    500,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger provides buffered audit logging with pluggable backends.
//
// Events are buffered and flushed in the background; a full buffer flushes
// inline. A nil logger is safe to call, which keeps the hot paths free of
// nil checks at the call sites.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	closed      bool
	flushTicker *time.Ticker
	stopCh      chan struct{}
	processID   int
	processName string
}

// NewAuditLogger creates a new audit logger with automatic backend selection:
// SQLite unified backend preferred, JSONL fallback.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if !config.Enabled {
		return &AuditLogger{config: config}, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidAuditConfig, "failed to initialize audit backend")
	}

	logger := &AuditLogger{
		config:      config,
		backend:     backend,
		buffer:      make([]AuditEvent, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: processName(),
	}

	// Start background flusher
	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records an audit event.
func (al *AuditLogger) Log(level AuditLevel, event, filePath string, context map[string]interface{}) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Component:   "cerbero",
		FilePath:    filePath,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	auditEvent.Checksum = generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // Keep logging non-blocking on flush errors
	}
	al.bufferMu.Unlock()
}

// LogReconcileEvent logs reconciliation loop events (passes, notifications,
// failures).
func (al *AuditLogger) LogReconcileEvent(event string, context map[string]interface{}) {
	al.Log(AuditInfo, event, "", context)
}

// LogConfigWrite logs a successful rewrite of the managed file.
func (al *AuditLogger) LogConfigWrite(event, filePath string) {
	al.Log(AuditCritical, event, filePath, nil)
}

// LogRuleSkipped logs a rule excluded from the allow-list computation.
func (al *AuditLogger) LogRuleSkipped(table, rule, reason string) {
	al.Log(AuditWarn, "rule_skipped", "", map[string]interface{}{
		"table":  table,
		"rule":   rule,
		"reason": reason,
	})
}

// LogSignalEvent logs signal delivery outcomes for the target process.
func (al *AuditLogger) LogSignalEvent(event, process string, pid int) {
	al.Log(AuditInfo, event, "", map[string]interface{}{
		"process": process,
		"pid":     pid,
	})
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if al == nil || al.backend == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Stats returns statistics from the audit backend.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if al == nil || al.backend == nil {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit logging is disabled")
	}
	return al.backend.GetStats()
}

// Maintenance runs backend housekeeping: retention cleanup and storage
// optimization. Exposed for the CLI audit command.
func (al *AuditLogger) Maintenance() error {
	if al == nil || al.backend == nil {
		return errors.New(ErrCodeInvalidAuditConfig, "audit logging is disabled")
	}
	return al.backend.Maintenance()
}

// Close gracefully shuts down the audit logger. Safe to call more than
// once: Reconciler.Stop and Reconciler.Close both release the logger.
func (al *AuditLogger) Close() error {
	if al == nil || al.backend == nil {
		return nil
	}

	al.bufferMu.Lock()
	if al.closed {
		al.bufferMu.Unlock()
		return nil
	}
	al.closed = true
	al.bufferMu.Unlock()

	close(al.stopCh)
	if al.flushTicker != nil {
		al.flushTicker.Stop()
	}

	// Final flush to ensure all events are persisted
	if err := al.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit logger during close: %w", err)
	}

	return al.backend.Close()
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller holds bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%v",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Component, event.Context)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// processName resolves the current executable name for event attribution.
func processName() string {
	exe, err := os.Executable()
	if err != nil {
		return "cerbero"
	}
	return filepath.Base(exe)
}
