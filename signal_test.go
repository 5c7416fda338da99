// signal_test.go: Readiness-gated signaling tests against a fake proc tree
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"
)

// writeProcStatus creates <root>/<pid>/status with the given comm name and
// signal-disposition masks, mirroring the process table status format.
func writeProcStatus(t *testing.T, root string, pid int, name string, blk, ign, cgt uint64) {
	t.Helper()

	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create proc dir: %v", err)
	}

	content := fmt.Sprintf(
		"Name:\t%s\nState:\tS (sleeping)\nPid:\t%d\nSigBlk:\t%016x\nSigIgn:\t%016x\nSigCgt:\t%016x\n",
		name, pid, blk, ign, cgt)
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write status file: %v", err)
	}
}

func newTestSignaler(t *testing.T, root string, maxWait time.Duration) *ProcessSignaler {
	t.Helper()
	return NewProcessSignaler(SignalerOptions{
		ProcRoot:     root,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      maxWait,
	}, nil)
}

func sigBit(sig syscall.Signal) uint64 {
	return uint64(1) << (uint(sig) - 1)
}

func TestSignalMasksHandles(t *testing.T) {
	hup := sigBit(syscall.SIGHUP)

	tests := []struct {
		name  string
		masks signalMasks
		want  bool
	}{
		{"caught", signalMasks{caught: hup}, true},
		{"ignored", signalMasks{ignored: hup}, true},
		{"blocked", signalMasks{blocked: hup}, true},
		{"none", signalMasks{}, false},
		{"other signal only", signalMasks{caught: sigBit(syscall.SIGTERM)}, false},
	}
	for _, tt := range tests {
		if got := tt.masks.handles(syscall.SIGHUP); got != tt.want {
			t.Errorf("%s: handles(SIGHUP) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFindProcessByName(t *testing.T) {
	root := t.TempDir()
	writeProcStatus(t, root, 100, "init", 0, 0, 0)
	writeProcStatus(t, root, 4242, "snmpd", 0, 0, 0)
	// Non-numeric entries in the process table are skipped.
	if err := os.MkdirAll(filepath.Join(root, "sys"), 0755); err != nil {
		t.Fatalf("Failed to create non-pid dir: %v", err)
	}

	signaler := newTestSignaler(t, root, 0)

	pid, err := signaler.findProcess("snmpd")
	if err != nil {
		t.Fatalf("findProcess failed: %v", err)
	}
	if pid != 4242 {
		t.Errorf("Expected pid 4242, got %d", pid)
	}

	pid, err = signaler.findProcess("nonexistent")
	if err != nil {
		t.Fatalf("findProcess failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("Expected pid 0 for absent process, got %d", pid)
	}
}

func TestReadSignalMasks(t *testing.T) {
	root := t.TempDir()
	writeProcStatus(t, root, 77, "snmpd", 0x10000, 0x1, 0x180004000)

	signaler := newTestSignaler(t, root, 0)
	masks, err := signaler.readSignalMasks(77)
	if err != nil {
		t.Fatalf("readSignalMasks failed: %v", err)
	}

	if masks.blocked != 0x10000 || masks.ignored != 0x1 || masks.caught != 0x180004000 {
		t.Errorf("Unexpected masks: %+v", masks)
	}
}

func TestSignalByNameAbsentTargetIsNoOp(t *testing.T) {
	signaler := newTestSignaler(t, t.TempDir(), 0)

	err := signaler.SignalByName(context.Background(), "snmpd", syscall.SIGHUP)
	if err != nil {
		t.Fatalf("Absent target must be a no-op, got: %v", err)
	}
}

func TestSignalByNameDeliversWhenReady(t *testing.T) {
	// Register the test process itself under a fake name with SIGURG marked
	// as caught; the Go runtime handles SIGURG, so real delivery is harmless.
	root := t.TempDir()
	self := os.Getpid()
	writeProcStatus(t, root, self, "fake-snmpd", 0, 0, sigBit(syscall.SIGURG))

	signaler := newTestSignaler(t, root, time.Second)

	err := signaler.SignalByName(context.Background(), "fake-snmpd", syscall.SIGURG)
	if err != nil {
		t.Fatalf("SignalByName failed: %v", err)
	}
}

func TestSignalByNameWithholdsUntilReady(t *testing.T) {
	// All-zero masks: the target never installs a disposition, so the wait
	// must run into MaxWait instead of delivering.
	root := t.TempDir()
	writeProcStatus(t, root, 555, "snmpd", 0, 0, 0)

	signaler := newTestSignaler(t, root, 50*time.Millisecond)

	start := time.Now()
	err := signaler.SignalByName(context.Background(), "snmpd", syscall.SIGHUP)
	if err == nil {
		t.Fatal("Expected readiness timeout error")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Returned after %v, should have waited for readiness", elapsed)
	}
}

func TestSignalByNameBecomesReadyMidWait(t *testing.T) {
	root := t.TempDir()
	self := os.Getpid()
	writeProcStatus(t, root, self, "fake-snmpd", 0, 0, 0)

	signaler := newTestSignaler(t, root, 2*time.Second)

	// Install the disposition after the first probes have seen zero masks.
	go func() {
		time.Sleep(30 * time.Millisecond)
		writeProcStatus(t, root, self, "fake-snmpd", 0, 0, sigBit(syscall.SIGURG))
	}()

	if err := signaler.SignalByName(context.Background(), "fake-snmpd", syscall.SIGURG); err != nil {
		t.Fatalf("SignalByName failed after target became ready: %v", err)
	}
}

func TestSignalByNameCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeProcStatus(t, root, 555, "snmpd", 0, 0, 0)

	signaler := newTestSignaler(t, root, 0) // unbounded wait

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := signaler.SignalByName(ctx, "snmpd", syscall.SIGHUP)
	if err == nil {
		t.Fatal("Expected cancellation error on an unbounded wait")
	}
}

func TestSignalByNameVanishedTargetIsNoOp(t *testing.T) {
	// A status entry that cannot be parsed means the target went away
	// between lookup and probe; absence is a no-op, never an error.
	root := t.TempDir()
	dir := filepath.Join(root, "888")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create proc dir: %v", err)
	}
	content := "Name:\tsnmpd\nState:\tZ (zombie)\n"
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write status file: %v", err)
	}

	signaler := newTestSignaler(t, root, time.Second)

	if err := signaler.SignalByName(context.Background(), "snmpd", syscall.SIGHUP); err != nil {
		t.Fatalf("Vanished target must be a no-op, got: %v", err)
	}
}

func TestSignalerDefaults(t *testing.T) {
	signaler := NewProcessSignaler(SignalerOptions{}, nil)
	if signaler.procRoot != DefaultProcRoot {
		t.Errorf("Expected proc root %s, got %s", DefaultProcRoot, signaler.procRoot)
	}
	if signaler.pollInterval != 100*time.Millisecond {
		t.Errorf("Expected default poll interval 100ms, got %v", signaler.pollInterval)
	}
}
