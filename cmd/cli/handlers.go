// Command handlers for the Cerbero CLI
//
// This file contains all command handler implementations for the
// Orpheus-powered CLI. State-changing handlers gate on effective root before
// touching the managed file or the target process.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agilira/cerbero"
	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// handleRun starts the reconciliation daemon: one immediate pass, then a
// pass per store change notification, until SIGINT or SIGTERM.
func (m *Manager) handleRun(ctx *orpheus.Context) error {
	if err := requireRoot(ctx.GetFlagBool("allow-unprivileged")); err != nil {
		return err
	}

	config, err := buildConfig(ctx)
	if err != nil {
		return err
	}

	runCtx := context.Background()
	store, err := cerbero.NewRedisStore(runCtx, config.StoreURL, m.auditLogger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reconciler, err := cerbero.New(*config, store)
	if err != nil {
		return err
	}

	if err := reconciler.Start(); err != nil {
		return err
	}

	fmt.Printf("cerbero: watching %s and %s, managing %s\n",
		cerbero.TableACLTable, cerbero.TableACLRule, config.SNMPConfigPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	fmt.Printf("cerbero: received %v, shutting down\n", sig)
	return reconciler.Stop()
}

// handleSync performs a single reconciliation pass and exits. Intended for
// cron-style deployments and post-provisioning hooks.
func (m *Manager) handleSync(ctx *orpheus.Context) error {
	if err := requireRoot(ctx.GetFlagBool("allow-unprivileged")); err != nil {
		return err
	}

	config, err := buildConfig(ctx)
	if err != nil {
		return err
	}

	runCtx := context.Background()
	store, err := cerbero.NewRedisStore(runCtx, config.StoreURL, m.auditLogger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reconciler, err := cerbero.New(*config, store)
	if err != nil {
		return err
	}
	defer func() { _ = reconciler.Close() }()

	if err := reconciler.Sync(runCtx); err != nil {
		return err
	}

	fmt.Printf("Reconciliation pass complete: %s updated\n", config.SNMPConfigPath)
	return nil
}

// handleCheck computes and prints the allow-list without writing the managed
// file or signaling the target process. Safe to run unprivileged.
func (m *Manager) handleCheck(ctx *orpheus.Context) error {
	config, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	// Dry run: never persist an audit trail for inspection.
	config.Audit.Enabled = false

	runCtx := context.Background()
	store, err := cerbero.NewRedisStore(runCtx, config.StoreURL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reconciler, err := cerbero.New(*config, store)
	if err != nil {
		return err
	}
	defer func() { _ = reconciler.Close() }()

	allow, err := reconciler.AllowList(runCtx)
	if err != nil {
		return err
	}

	fmt.Print(cerbero.FormatAllowList(allow))
	return nil
}

// handleHealth verifies the configuration store is reachable.
func (m *Manager) handleHealth(ctx *orpheus.Context) error {
	config, err := buildConfig(ctx)
	if err != nil {
		return err
	}

	runCtx := context.Background()
	store, err := cerbero.NewRedisStore(runCtx, config.StoreURL, nil)
	if err != nil {
		fmt.Printf("Store unreachable: %s\n", config.StoreURL)
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.HealthCheck(runCtx); err != nil {
		return err
	}

	fmt.Printf("Store healthy: %s\n", config.StoreURL)
	return nil
}

// handleVersion prints version information.
func (m *Manager) handleVersion(ctx *orpheus.Context) error {
	fmt.Printf("cerbero %s\n", Version)
	return nil
}

// handleAuditStats prints statistics from the audit store.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	logger, err := openAuditLogger(ctx.GetFlagString("output"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	stats, err := logger.Stats()
	if err != nil {
		return errors.Wrap(err, cerbero.ErrCodeInvalidAuditConfig, "failed to read audit statistics")
	}

	fmt.Printf("Total events: %d\n", stats.TotalEvents)
	for level, count := range stats.EventsByLevel {
		fmt.Printf("  %s: %d\n", level, count)
	}
	if stats.OldestEvent != nil {
		fmt.Printf("Oldest event: %s\n", stats.OldestEvent.Format("2006-01-02 15:04:05"))
	}
	if stats.NewestEvent != nil {
		fmt.Printf("Newest event: %s\n", stats.NewestEvent.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// handleAuditMaintenance runs retention cleanup and storage optimization on
// the audit store.
func (m *Manager) handleAuditMaintenance(ctx *orpheus.Context) error {
	logger, err := openAuditLogger(ctx.GetFlagString("output"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if err := logger.Maintenance(); err != nil {
		return errors.Wrap(err, cerbero.ErrCodeInvalidAuditConfig, "audit maintenance failed")
	}

	fmt.Println("Audit maintenance complete")
	return nil
}
