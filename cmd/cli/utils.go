// Utility functions for the Cerbero CLI
//
// This file provides shared helpers for privilege checks, configuration
// assembly from command flags, and audit store access.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/agilira/cerbero"
	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// requireRoot gates state-changing commands: rewriting the managed file and
// signaling the target process both need effective root on a real device.
func requireRoot(allowUnprivileged bool) error {
	if allowUnprivileged {
		return nil
	}
	if os.Geteuid() != 0 {
		return errors.New(cerbero.ErrCodePrivilege, "root privileges required to apply configuration changes").
			WithContext("euid", os.Geteuid())
	}
	return nil
}

// buildConfig assembles the effective configuration: multi-source loading
// (defaults, settings file, CERBERO_* environment) with command flags layered
// on top. Empty flags leave the loaded value untouched.
func buildConfig(ctx *orpheus.Context) (*cerbero.Config, error) {
	config, err := cerbero.LoadConfigMultiSource(ctx.GetFlagString("settings"))
	if err != nil {
		return nil, err
	}

	if v := ctx.GetFlagString("store-url"); v != "" {
		config.StoreURL = v
	}
	if v := ctx.GetFlagString("service"); v != "" {
		config.ServiceName = v
	}
	if v := ctx.GetFlagString("process"); v != "" {
		config.ProcessName = v
	}
	if v := ctx.GetFlagString("snmpd-conf"); v != "" {
		config.SNMPConfigPath = v
	}
	if v := ctx.GetFlagString("signal-max-wait"); v != "" {
		maxWait, err := parseExtendedDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, cerbero.ErrCodeInvalidConfig, "invalid signal-max-wait")
		}
		config.SignalMaxWait = maxWait
	}

	return config, nil
}

// openAuditLogger opens the audit store for read-side CLI commands. An empty
// path selects the unified system audit database.
func openAuditLogger(outputFile string) (*cerbero.AuditLogger, error) {
	auditConfig := cerbero.DefaultAuditConfig()
	auditConfig.OutputFile = outputFile
	// Read-side access: no background flusher needed.
	auditConfig.FlushInterval = 0

	logger, err := cerbero.NewAuditLogger(auditConfig)
	if err != nil {
		return nil, errors.Wrap(err, cerbero.ErrCodeInvalidAuditConfig, "failed to open audit store")
	}
	return logger, nil
}

// parseExtendedDuration parses duration strings with extended units (d, w).
// Supports all Go standard units (ns, us, ms, s, m, h) plus:
// - d: days (24 hours)
// - w: weeks (7 days)
//
// Examples: "30d", "2w", "7d", "24h", "5m", "30s"
func parseExtendedDuration(s string) (time.Duration, error) {
	// First try standard Go parsing
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	// Handle extended units
	re := regexp.MustCompile(`^(\d+)(d|w)$`)
	matches := re.FindStringSubmatch(s)

	if len(matches) != 3 {
		// If it doesn't match our extended pattern, return original error
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	unit := matches[2]
	switch unit {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "w":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
