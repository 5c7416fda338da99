// store.go: Configuration store contract for Cerbero
//
// The store is an external collaborator: a key/value database holding the
// ACL tables and rules, with synchronous full-table reads and an
// asynchronous subscribe-on-row-change feed. This file defines the contract
// the reconciler consumes; store_redis.go provides the production backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import "context"

// Store table names and the row key separator used by the schema.
const (
	// TableACLTable holds one row per ACL group: type, services.
	TableACLTable = "ACL_TABLE"

	// TableACLRule holds one row per rule, keyed "<table>|<rule>":
	// PRIORITY, PACKET_ACTION, SRC_IP.
	TableACLRule = "ACL_RULE"

	keySeparator = "|"
)

// Row is one store row: its key within the table and its string fields.
type Row struct {
	Key    string
	Fields map[string]string
}

// TableChange is one change notification from the store subscription.
type TableChange struct {
	Table  string // Table the changed row belongs to
	RowKey string // Row key within the table
}

// ConfigStore is the contract the reconciler consumes.
//
// GetTable returns a full snapshot in stable read order. Subscribe delivers
// one TableChange per changed row on a channel that is closed when ctx is
// cancelled; delivery through a single channel is what serializes
// reconciliation passes downstream.
type ConfigStore interface {
	// GetTable returns all rows of the named table.
	GetTable(ctx context.Context, table string) ([]Row, error)

	// Subscribe starts watching the named tables for row changes.
	Subscribe(ctx context.Context, tables ...string) (<-chan TableChange, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store connection.
	Close() error
}
