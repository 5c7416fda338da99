// Package cerbero keeps an SNMP daemon's access-control directives synchronized
// with a live rule set held in a Redis-backed configuration store, and reloads
// the running daemon safely once the file on disk has changed.
//
// # Philosophy: The Gatekeeper Pattern
//
// Cerbero is built on the principle that access control for management-plane
// services should be driven from a single source of truth. Operators edit ACL
// tables and rules in the configuration store; cerbero derives the ordered
// allow-list, rewrites only the community directives of snmpd.conf, and tells
// snmpd to re-read its configuration - without ever restarting the service or
// touching unrelated directives.
//
// # Architecture Overview
//
// Cerbero consists of four integrated subsystems:
//  1. **Rule Reducer**: Transforms ACL tables and rules into an ordered allow-list
//  2. **Config Merger**: Atomically rewrites community directives, preserving everything else
//  3. **Process Signaler**: Delivers the reload signal only once the target has installed a handler
//  4. **Reconciliation Loop**: One full pass at startup and one per store change notification
//
// # Quick Start
//
// Run a reconciler against a local Redis configuration store:
//
//	store, err := cerbero.NewRedisStore(ctx, "redis://localhost:6379/4", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	rec, err := cerbero.New(cerbero.Config{
//		SNMPConfigPath: "/etc/snmp/snmpd.conf",
//	}, store)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := rec.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer rec.Stop()
//
// A one-shot pass (no subscription, no loop) is available via Sync:
//
//	if err := rec.Sync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Safety Properties
//
// The merged configuration file is written with a temp-file-plus-rename
// sequence, so readers never observe a partial rewrite: a failed pass leaves
// the previous file byte-for-byte intact. The reload signal is withheld until
// the target process reports the signal as blocked, ignored or caught in its
// process-table signal masks, which avoids racing a freshly started snmpd that
// has not yet installed its SIGHUP handler.
//
// # Audit Trail
//
// All reconciliation passes, skipped rules, file rewrites and signal
// deliveries are recorded through a buffered audit logger with a SQLite
// backend (JSONL fallback), giving full accountability for every change
// applied to the managed file.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package cerbero
