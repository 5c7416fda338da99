// audit_test.go - Test suite for the Cerbero audit system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func jsonlAuditConfig(t *testing.T) AuditConfig {
	t.Helper()
	return AuditConfig{
		Enabled:       true,
		OutputFile:    filepath.Join(t.TempDir(), "audit.jsonl"),
		MinLevel:      AuditInfo,
		BufferSize:    100,
		FlushInterval: time.Hour, // flush manually in tests
	}
}

func readAuditLines(t *testing.T, path string) []AuditEvent {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open audit file: %v", err)
	}
	defer func() { _ = file.Close() }()

	var events []AuditEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("Malformed audit line: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestAuditLevelString(t *testing.T) {
	tests := []struct {
		level AuditLevel
		want  string
	}{
		{AuditInfo, "INFO"},
		{AuditWarn, "WARN"},
		{AuditCritical, "CRITICAL"},
		{AuditSecurity, "SECURITY"},
		{AuditLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestParseAuditLevel(t *testing.T) {
	if level, err := ParseAuditLevel("warn"); err != nil || level != AuditWarn {
		t.Errorf("ParseAuditLevel(warn) = %v, %v", level, err)
	}
	if level, err := ParseAuditLevel(" CRITICAL "); err != nil || level != AuditCritical {
		t.Errorf("ParseAuditLevel(CRITICAL) = %v, %v", level, err)
	}
	if _, err := ParseAuditLevel("verbose"); err == nil {
		t.Error("ParseAuditLevel should reject unknown levels")
	}
}

func TestNilAuditLoggerIsSafe(t *testing.T) {
	var logger *AuditLogger

	logger.Log(AuditInfo, "event", "", nil)
	logger.LogReconcileEvent("pass_complete", nil)
	logger.LogConfigWrite("config_merged", "/tmp/x")
	logger.LogRuleSkipped("ACL", "RULE_1", "reason")
	logger.LogSignalEvent("reload_signal_sent", "snmpd", 1)

	if err := logger.Flush(); err != nil {
		t.Errorf("Nil logger Flush should be a no-op, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Nil logger Close should be a no-op, got %v", err)
	}
}

func TestDisabledAuditLoggerWritesNothing(t *testing.T) {
	config := jsonlAuditConfig(t)
	config.Enabled = false

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(AuditCritical, "config_merged", "/tmp/x", nil)
	_ = logger.Flush()

	if _, err := os.Stat(config.OutputFile); !os.IsNotExist(err) {
		t.Error("Disabled logger must not create the output file")
	}
}

func TestAuditLoggerJSONLRoundTrip(t *testing.T) {
	config := jsonlAuditConfig(t)
	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	logger.LogConfigWrite("config_merged", "/etc/snmp/snmpd.conf")
	logger.LogRuleSkipped("SNMP_ACL", "RULE_9", "missing or non-numeric priority")

	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readAuditLines(t, config.OutputFile)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	if events[0].Event != "config_merged" || events[0].Level != AuditCritical {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if events[0].FilePath != "/etc/snmp/snmpd.conf" {
		t.Errorf("Unexpected file path: %s", events[0].FilePath)
	}
	if events[0].Checksum == "" {
		t.Error("Events must carry a tamper-detection checksum")
	}

	if events[1].Event != "rule_skipped" || events[1].Level != AuditWarn {
		t.Errorf("Unexpected second event: %+v", events[1])
	}
	if events[1].Context["reason"] != "missing or non-numeric priority" {
		t.Errorf("Unexpected skip reason: %v", events[1].Context)
	}
}

func TestAuditLoggerCloseIsIdempotent(t *testing.T) {
	logger, err := NewAuditLogger(jsonlAuditConfig(t))
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	logger.Log(AuditInfo, "pass_complete", "", nil)

	if err := logger.Close(); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close must be a no-op, got %v", err)
	}
}

func TestAuditLoggerMinLevelFiltering(t *testing.T) {
	config := jsonlAuditConfig(t)
	config.MinLevel = AuditCritical

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	logger.Log(AuditInfo, "below_threshold", "", nil)
	logger.Log(AuditCritical, "at_threshold", "", nil)

	_ = logger.Flush()
	_ = logger.Close()

	events := readAuditLines(t, config.OutputFile)
	if len(events) != 1 || events[0].Event != "at_threshold" {
		t.Errorf("MinLevel filtering failed, events: %+v", events)
	}
}

func TestAuditLoggerInlineFlushOnFullBuffer(t *testing.T) {
	config := jsonlAuditConfig(t)
	config.BufferSize = 2

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(AuditInfo, "first", "", nil)
	logger.Log(AuditInfo, "second", "", nil)

	// Buffer capacity reached: events must be on disk without explicit Flush.
	events := readAuditLines(t, config.OutputFile)
	if len(events) != 2 {
		t.Errorf("Expected inline flush at capacity, found %d events", len(events))
	}
}

func TestSQLiteAuditBackendStats(t *testing.T) {
	config := AuditConfig{
		Enabled:       true,
		OutputFile:    filepath.Join(t.TempDir(), "audit.db"),
		MinLevel:      AuditInfo,
		BufferSize:    10,
		FlushInterval: time.Hour,
	}

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(AuditInfo, "pass_complete", "", nil)
	logger.Log(AuditCritical, "config_merged", "/tmp/x", nil)
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	stats, err := logger.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEvents != 2 {
		t.Errorf("Expected 2 events, got %d", stats.TotalEvents)
	}
	if stats.EventsByLevel["CRITICAL"] != 1 {
		t.Errorf("Expected 1 critical event, got %d", stats.EventsByLevel["CRITICAL"])
	}
	if stats.OldestEvent == nil || stats.NewestEvent == nil {
		t.Error("Stats should report the event time range")
	}

	if err := logger.Maintenance(); err != nil {
		t.Errorf("Maintenance failed: %v", err)
	}
}

func TestDefaultAuditConfig(t *testing.T) {
	config := DefaultAuditConfig()
	if !config.Enabled {
		t.Error("Default audit config should be enabled")
	}
	if config.BufferSize <= 0 {
		t.Error("Default buffer size must be positive")
	}
	if config.FlushInterval <= 0 {
		t.Error("Default flush interval must be positive")
	}
}
