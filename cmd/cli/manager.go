// Package cli provides the command-line interface for the Cerbero daemon.
//
// This package implements the CLI using the Orpheus framework, with git-style
// subcommands covering daemon operation, one-shot reconciliation, dry-run
// inspection and audit trail management.
//
// Architecture:
// - Manager: Core CLI orchestration and command routing
// - Handlers: Individual command implementations
// - Utils: Shared helpers for privilege checks and output formatting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"github.com/agilira/cerbero"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// Version is the CLI version reported by the version command.
const Version = "1.0.0"

// Manager provides CLI operations for the Cerbero reconciliation daemon.
// Built on top of the Orpheus framework for minimal parsing overhead.
type Manager struct {
	app         *orpheus.App
	auditLogger *cerbero.AuditLogger // Optional audit integration
}

// NewManager creates a new CLI manager powered by Orpheus.
// Provides git-style subcommands with full audit integration.
func NewManager() *Manager {
	app := orpheus.New("cerbero").
		SetDescription("SNMP access-control reconciliation daemon").
		SetVersion(Version)

	manager := &Manager{
		app: app,
	}

	// Setup command structure with fluent API
	manager.setupDaemonCommands()
	manager.setupInspectionCommands()
	manager.setupAuditCommands()

	return manager
}

// WithAudit enables audit logging for CLI operations that do not build their
// own logger from configuration.
func (m *Manager) WithAudit(auditLogger *cerbero.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// Run executes the CLI application with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// Command Setup Methods

// setupDaemonCommands configures the commands that change system state:
// 'run' (long-lived daemon) and 'sync' (single reconciliation pass). Both
// rewrite the managed snmpd configuration and therefore require root.
func (m *Manager) setupDaemonCommands() {
	runCmd := orpheus.NewCommand("run", "Run the reconciliation daemon")
	runCmd.SetHandler(m.handleRun)
	addConfigFlags(runCmd)
	m.app.AddCommand(runCmd)

	syncCmd := orpheus.NewCommand("sync", "Perform a single reconciliation pass and exit")
	syncCmd.SetHandler(m.handleSync)
	addConfigFlags(syncCmd)
	m.app.AddCommand(syncCmd)
}

// setupInspectionCommands configures read-only commands: 'check' computes and
// prints the allow-list without touching the managed file or the process.
func (m *Manager) setupInspectionCommands() {
	checkCmd := orpheus.NewCommand("check", "Compute and print the allow-list without applying it")
	checkCmd.SetHandler(m.handleCheck)
	addConfigFlags(checkCmd)
	m.app.AddCommand(checkCmd)

	healthCmd := orpheus.NewCommand("health", "Check connectivity to the configuration store")
	healthCmd.SetHandler(m.handleHealth)
	addConfigFlags(healthCmd)
	m.app.AddCommand(healthCmd)

	versionCmd := orpheus.NewCommand("version", "Show version information")
	versionCmd.SetHandler(m.handleVersion)
	m.app.AddCommand(versionCmd)
}

// setupAuditCommands configures the 'audit' command group.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	statsCmd := auditCmd.Subcommand("stats", "Show audit trail statistics", m.handleAuditStats)
	statsCmd.AddFlag("output", "o", "", "Audit store path (.db or .jsonl)")

	maintCmd := auditCmd.Subcommand("maintenance", "Run audit store housekeeping", m.handleAuditMaintenance)
	maintCmd.AddFlag("output", "o", "", "Audit store path (.db or .jsonl)")

	m.app.AddCommand(auditCmd)
}

// addConfigFlags registers the daemon configuration flags shared by the
// state-changing commands.
func addConfigFlags(cmd *orpheus.Command) {
	cmd.AddFlag("settings", "c", "", "Path to YAML settings file")
	cmd.AddFlag("store-url", "s", "", "Configuration store URL (redis://host:port/db)")
	cmd.AddFlag("service", "", "", "Service name an ACL table must list to qualify")
	cmd.AddFlag("process", "", "", "Target process name to signal after a merge")
	cmd.AddFlag("snmpd-conf", "f", "", "Path of the managed snmpd configuration file")
	cmd.AddFlag("signal-max-wait", "", "", "Bound on the signal readiness wait (0 = unbounded)")
	cmd.AddBoolFlag("allow-unprivileged", "", false, "Skip the superuser check (testing only)")
}
