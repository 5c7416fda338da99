// snmpconf.go: Community directive merging for snmpd.conf
//
// This file rewrites the community directive groups of an existing snmpd
// configuration file from an allow-list while preserving every other line,
// using the temp-file-plus-rename sequence so readers never observe a
// partially written file.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// communityDirectiveRe matches the first token pair of a community directive:
// a two-character prefix (ro/rw) glued to the literal "community", then one
// identifier token. Trailing content (an existing source restriction) is
// intentionally not captured - it is what gets replaced.
var communityDirectiveRe = regexp.MustCompile(`^(..)community (\S+)`)

// ConfigMerger rewrites the community directive groups of a fixed
// configuration file. The file must already exist: cerbero manages
// directives inside snmpd.conf, it does not own the file itself.
//
// Thread safety: Merge is not reentrant; the Reconciler serializes calls.
type ConfigMerger struct {
	path        string
	auditLogger *AuditLogger
}

// NewConfigMerger creates a merger operating on the given file path.
func NewConfigMerger(path string, auditLogger *AuditLogger) *ConfigMerger {
	return &ConfigMerger{
		path:        path,
		auditLogger: auditLogger,
	}
}

// Merge rewrites the file so that every community directive group carries
// exactly the given allow-list: one line per entry, or a single bare
// directive (open access) when the list is empty. All other lines are
// copied through unchanged.
//
// Atomicity guarantee: either the rename succeeds and readers see the fully
// merged file, or the original file remains byte-for-byte intact.
func (m *ConfigMerger) Merge(allow AllowList) error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to read configuration file").
			WithContext("path", m.path)
	}

	mode := fs.FileMode(0644)
	if info, err := os.Stat(m.path); err == nil {
		mode = info.Mode().Perm()
	}

	merged, err := mergeDirectives(data, allow)
	if err != nil {
		return err
	}

	if err := m.atomicWrite(merged, mode); err != nil {
		return err
	}

	m.auditLogger.LogConfigWrite("config_merged", m.path)
	return nil
}

// mergeDirectives performs the line-by-line rewrite on in-memory content.
//
// A directive group is suppressed after its first line by comparing each
// matching line's group signature against the one most recently emitted.
// The marker resets whenever a different group is seen, so groups whose
// lines are not contiguous re-emit their entries. That duplication is a
// long-standing property of the merge and is preserved as-is.
func mergeDirectives(data []byte, allow AllowList) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + len(allow)*32)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastGroup := ""
	for scanner.Scan() {
		line := scanner.Text()

		match := communityDirectiveRe.FindStringSubmatch(line)
		if match == nil {
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		group := match[1] + "community " + match[2]
		if group == lastGroup {
			// Later line of the group just emitted.
			continue
		}
		lastGroup = group

		if len(allow) == 0 {
			// No restriction entries: one bare directive, open access.
			buf.WriteString(group)
			buf.WriteByte('\n')
			continue
		}
		for _, src := range allow {
			buf.WriteString(group)
			buf.WriteByte(' ')
			buf.WriteString(src)
			buf.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeMergeError, "failed to scan configuration file")
	}

	return buf.Bytes(), nil
}

// atomicWrite writes content to a temporary sibling file and renames it over
// the original. Rename on the same filesystem is atomic, so a failure at any
// point leaves the previous file untouched.
func (m *ConfigMerger) atomicWrite(content []byte, mode fs.FileMode) error {
	tempPath := m.path + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())

	if err := os.WriteFile(tempPath, content, mode); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write temp file").
			WithContext("path", tempPath)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			m.auditLogger.LogReconcileEvent("temp_cleanup_failed", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return errors.Wrap(err, ErrCodeIOError, "failed to rename temp file").
			WithContext("path", m.path)
	}

	return nil
}

// FormatAllowList renders an allow-list the way the check command prints it:
// one entry per line, or "(open access)" for an empty list.
func FormatAllowList(allow AllowList) string {
	if len(allow) == 0 {
		return "(open access)\n"
	}
	var b strings.Builder
	for _, src := range allow {
		b.WriteString(src)
		b.WriteByte('\n')
	}
	return b.String()
}
