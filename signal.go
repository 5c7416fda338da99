// signal.go: Readiness-gated process signaling for Cerbero
//
// A freshly started snmpd has not yet installed its SIGHUP handler; a signal
// sent in that window is either dropped or triggers the default action and
// kills the process instead of reloading it. This file closes that race by
// inspecting the target's signal-disposition masks in the OS process table
// and withholding delivery until the signal appears in one of them.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// DefaultProcRoot is the process table mount point used for pid lookup and
// signal-mask inspection. Overridable for tests via SignalerOptions.
const DefaultProcRoot = "/proc"

// SignalerOptions configures a ProcessSignaler.
type SignalerOptions struct {
	// ProcRoot is the process table root. Default: /proc
	ProcRoot string

	// PollInterval is the delay between readiness probes. Default: 100ms
	PollInterval time.Duration

	// MaxWait bounds the readiness wait. Zero waits indefinitely, which is
	// the historical behavior of the updater this replaces.
	MaxWait time.Duration
}

// signalMasks holds the three signal-disposition bitmasks of a process as
// read from its process table status entry.
type signalMasks struct {
	blocked uint64 // SigBlk
	ignored uint64 // SigIgn
	caught  uint64 // SigCgt
}

// handles reports whether the process has any disposition installed for sig.
// A process with none of the three bits set has not finished initializing
// its signal handling and is not safe to signal yet.
func (m signalMasks) handles(sig syscall.Signal) bool {
	bit := uint64(1) << (uint(sig) - 1)
	return m.blocked&bit != 0 || m.ignored&bit != 0 || m.caught&bit != 0
}

// ProcessSignaler delivers a signal to a process located by name, once the
// process is ready to receive it. Best effort by contract: an absent target
// is a no-op, never an error.
type ProcessSignaler struct {
	procRoot     string
	pollInterval time.Duration
	maxWait      time.Duration
	auditLogger  *AuditLogger
}

// NewProcessSignaler creates a signaler with the given options.
func NewProcessSignaler(opts SignalerOptions, auditLogger *AuditLogger) *ProcessSignaler {
	if opts.ProcRoot == "" {
		opts.ProcRoot = DefaultProcRoot
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &ProcessSignaler{
		procRoot:     opts.ProcRoot,
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		auditLogger:  auditLogger,
	}
}

// SignalByName resolves the named process and delivers sig once the process
// reports a disposition for it. Returns nil without signaling when no
// process matches the name, or when the target exits mid-wait. The wait is
// cancellable through ctx and bounded by MaxWait when one is configured.
func (s *ProcessSignaler) SignalByName(ctx context.Context, name string, sig syscall.Signal) error {
	pid, err := s.findProcess(name)
	if err != nil {
		return err
	}
	if pid == 0 {
		s.auditLogger.LogSignalEvent("signal_target_absent", name, 0)
		return nil
	}

	var deadline time.Time
	if s.maxWait > 0 {
		deadline = timecache.CachedTime().Add(s.maxWait)
	}

	for {
		masks, err := s.readSignalMasks(pid)
		if err != nil {
			// Target exited between lookup and probe: absence is a no-op.
			s.auditLogger.LogSignalEvent("signal_target_vanished", name, pid)
			return nil
		}

		if masks.handles(sig) {
			return s.deliver(name, pid, sig)
		}

		if !deadline.IsZero() && timecache.CachedTime().After(deadline) {
			return errors.New(ErrCodeSignalError, "target process never became ready for signal").
				WithContext("process", name).
				WithContext("pid", pid).
				WithContext("max_wait", s.maxWait.String())
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), ErrCodeSignalError, "signal readiness wait cancelled").
				WithContext("process", name).
				WithContext("pid", pid)
		case <-time.After(s.pollInterval):
		}
	}
}

// deliver sends the signal to the resolved pid.
func (s *ProcessSignaler) deliver(name string, pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, ErrCodeSignalError, "failed to open target process").
			WithContext("pid", pid)
	}
	if err := proc.Signal(sig); err != nil {
		return errors.Wrap(err, ErrCodeSignalError, "failed to deliver signal").
			WithContext("process", name).
			WithContext("pid", pid).
			WithContext("signal", int(sig))
	}
	s.auditLogger.LogSignalEvent("reload_signal_sent", name, pid)
	return nil
}

// findProcess scans the process table for a process whose comm name matches.
// Returns pid 0 when no process matches. A single match is expected; the
// first one found wins.
func (s *ProcessSignaler) findProcess(name string) (int, error) {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeSignalError, "failed to read process table").
			WithContext("proc_root", s.procRoot)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		comm, err := s.readStatusField(pid, "Name")
		if err != nil {
			// Process may have exited during the scan.
			continue
		}
		if comm == name {
			return pid, nil
		}
	}

	return 0, nil
}

// readSignalMasks reads the three signal-disposition masks of a pid. The
// masks are re-read on every probe: a process mid-startup changes them as
// it installs handlers.
func (s *ProcessSignaler) readSignalMasks(pid int) (signalMasks, error) {
	var masks signalMasks

	fields, err := s.readStatusFields(pid, "SigBlk", "SigIgn", "SigCgt")
	if err != nil {
		return masks, err
	}

	if masks.blocked, err = strconv.ParseUint(fields["SigBlk"], 16, 64); err != nil {
		return masks, errors.Wrap(err, ErrCodeSignalError, "malformed SigBlk mask").
			WithContext("pid", pid)
	}
	if masks.ignored, err = strconv.ParseUint(fields["SigIgn"], 16, 64); err != nil {
		return masks, errors.Wrap(err, ErrCodeSignalError, "malformed SigIgn mask").
			WithContext("pid", pid)
	}
	if masks.caught, err = strconv.ParseUint(fields["SigCgt"], 16, 64); err != nil {
		return masks, errors.Wrap(err, ErrCodeSignalError, "malformed SigCgt mask").
			WithContext("pid", pid)
	}

	return masks, nil
}

// readStatusField returns a single field from a pid's status entry.
func (s *ProcessSignaler) readStatusField(pid int, field string) (string, error) {
	fields, err := s.readStatusFields(pid, field)
	if err != nil {
		return "", err
	}
	return fields[field], nil
}

// readStatusFields parses the requested "Key:\tvalue" fields out of
// /proc/<pid>/status. Missing requested fields stay absent from the result.
func (s *ProcessSignaler) readStatusFields(pid int, want ...string) (map[string]string, error) {
	data, err := os.ReadFile(s.procRoot + "/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(want))
	for _, w := range want {
		wanted[w] = true
	}

	fields := make(map[string]string, len(want))
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !wanted[key] {
			continue
		}
		fields[key] = strings.TrimSpace(value)
		if len(fields) == len(want) {
			break
		}
	}

	return fields, nil
}
