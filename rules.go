// rules.go: Access-control rule reduction for Cerbero
//
// This file derives the ordered allow-list for one service from a full
// snapshot of the ACL tables and rules held in the configuration store.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Row field names and qualifying values in the store schema.
const (
	// TableTypeControlPlane marks ACL tables scoped to management traffic.
	TableTypeControlPlane = "CTRLPLANE"

	// ActionAccept is the only rule action that contributes allow entries.
	ActionAccept = "ACCEPT"

	fieldType     = "type"
	fieldServices = "services"
	fieldAction   = "PACKET_ACTION"
	fieldSrcIP    = "SRC_IP"
	fieldPriority = "PRIORITY"
)

// AllowList is an ordered sequence of source addresses or CIDR blocks.
// Order is rule evaluation order (descending priority within each table,
// tables in store read order). Duplicates are preserved, never deduplicated.
type AllowList []string

// RuleReducer computes the allow-list for one named service from the
// configuration store. Malformed individual rules are skipped and audited,
// never propagated: only store I/O failures abort a computation.
type RuleReducer struct {
	store       ConfigStore
	serviceName string
	auditLogger *AuditLogger
}

// NewRuleReducer creates a reducer bound to a store and a target service.
func NewRuleReducer(store ConfigStore, serviceName string, auditLogger *AuditLogger) *RuleReducer {
	return &RuleReducer{
		store:       store,
		serviceName: serviceName,
		auditLogger: auditLogger,
	}
}

// ComputeAllowList takes a full snapshot of both ACL collections and reduces
// them to the ordered allow-list for the reducer's service.
func (r *RuleReducer) ComputeAllowList(ctx context.Context) (AllowList, error) {
	tables, err := r.store.GetTable(ctx, TableACLTable)
	if err != nil {
		return nil, err
	}

	rules, err := r.store.GetTable(ctx, TableACLRule)
	if err != nil {
		return nil, err
	}

	allow := AllowList{}
	for _, table := range tables {
		if !r.qualifies(table) {
			continue
		}
		allow = append(allow, r.reduceTable(table.Key, rules)...)
	}

	return allow, nil
}

// qualifies reports whether a table is a control-plane table that lists the
// reducer's service.
func (r *RuleReducer) qualifies(table Row) bool {
	if table.Fields[fieldType] != TableTypeControlPlane {
		return false
	}
	for _, svc := range strings.Split(table.Fields[fieldServices], ",") {
		if strings.TrimSpace(svc) == r.serviceName {
			return true
		}
	}
	return false
}

// reduceTable collects one table's rules keyed by integer priority and walks
// them in descending priority order.
//
// Two rules of the same table sharing a priority collapse to whichever was
// read last. That mirrors the behavior the store schema has always had and
// is deliberately left uncorrected.
func (r *RuleReducer) reduceTable(tableName string, rules []Row) AllowList {
	byPriority := make(map[int]Row)
	priorities := make([]int, 0, len(rules))

	for _, rule := range rules {
		owner, ruleName := splitRuleKey(rule.Key)
		if owner != tableName {
			continue
		}
		prio, err := strconv.Atoi(rule.Fields[fieldPriority])
		if err != nil {
			r.auditLogger.LogRuleSkipped(tableName, ruleName, "missing or non-numeric priority")
			continue
		}
		if _, seen := byPriority[prio]; !seen {
			priorities = append(priorities, prio)
		}
		byPriority[prio] = rule
	}

	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	allow := AllowList{}
	for _, prio := range priorities {
		rule := byPriority[prio]
		_, ruleName := splitRuleKey(rule.Key)

		action, ok := rule.Fields[fieldAction]
		if !ok {
			r.auditLogger.LogRuleSkipped(tableName, ruleName, "rule has no action field")
			continue
		}
		if action != ActionAccept {
			continue
		}
		if src := rule.Fields[fieldSrcIP]; src != "" {
			allow = append(allow, src)
		}
	}

	return allow
}

// splitRuleKey separates an ACL_RULE row key "<table>|<rule>" into its
// owning table name and rule name. A key without a separator owns itself.
func splitRuleKey(key string) (table, rule string) {
	if i := strings.Index(key, keySeparator); i >= 0 {
		return key[:i], key[i+len(keySeparator):]
	}
	return key, key
}
