// cerbero: SNMP access-control reconciliation daemon
//
// Philosophy:
// - Minimal dependencies (AGILira ecosystem plus the store client)
// - Full recomputation on every pass, never incremental diffs
// - Atomic file replacement so readers never observe a torn write
// - Signal delivery gated on target readiness, not on hope
//
// Example Usage:
//   store, _ := cerbero.NewRedisStore(ctx, "redis://localhost:6379/4", nil)
//   rec, _ := cerbero.New(cerbero.Config{}, store)
//   rec.Start()
//   defer rec.Stop()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Error codes for Cerbero operations
const (
	ErrCodeInvalidConfig      = "CERBERO_INVALID_CONFIG"
	ErrCodeStoreUnavailable   = "CERBERO_STORE_UNAVAILABLE"
	ErrCodeStoreError         = "CERBERO_STORE_ERROR"
	ErrCodeIOError            = "CERBERO_IO_ERROR"
	ErrCodeMergeError         = "CERBERO_MERGE_ERROR"
	ErrCodeSignalError        = "CERBERO_SIGNAL_ERROR"
	ErrCodeReconcilerBusy     = "CERBERO_RECONCILER_BUSY"
	ErrCodeReconcilerStopped  = "CERBERO_RECONCILER_STOPPED"
	ErrCodeInvalidAuditConfig = "CERBERO_INVALID_AUDIT_CONFIG"
	ErrCodePrivilege          = "CERBERO_INSUFFICIENT_PRIVILEGE"
)

// Reconciler keeps the managed configuration file synchronized with the
// access-control rule set held in the configuration store.
//
// Lifecycle mirrors a file watcher: New builds it, Start runs one immediate
// pass and then consumes change notifications until Stop. Passes are always
// full recomputations; the single consumer goroutine serializes them, and a
// mutex guards against overlap with CLI-invoked Sync calls.
type Reconciler struct {
	config   Config
	store    ConfigStore
	reducer  *RuleReducer
	merger   *ConfigMerger
	signaler *ProcessSignaler

	// AUDIT SYSTEM: accountability for every change applied to the file
	auditLogger *AuditLogger

	syncMu    sync.Mutex
	running   atomic.Bool
	stoppedCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Reconciler for the given store. The configuration is
// completed with defaults and validated; a nil store is rejected.
func New(config Config, store ConfigStore) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "store cannot be nil")
	}

	cfg := config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize audit logger
	auditLogger, err := NewAuditLogger(cfg.Audit)
	if err != nil {
		// Fallback to disabled audit if setup fails
		auditLogger, _ = NewAuditLogger(AuditConfig{Enabled: false})
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Reconciler{
		config:      *cfg,
		store:       store,
		auditLogger: auditLogger,
		stoppedCh:   make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	r.reducer = NewRuleReducer(store, cfg.ServiceName, auditLogger)
	r.merger = NewConfigMerger(cfg.SNMPConfigPath, auditLogger)
	r.signaler = NewProcessSignaler(SignalerOptions{
		PollInterval: cfg.SignalPollInterval,
		MaxWait:      cfg.SignalMaxWait,
	}, auditLogger)

	return r, nil
}

// Start runs one immediate reconciliation pass and then begins consuming
// change notifications from the store. A failed startup pass is audited but
// does not abort the loop; a failed subscription does, since without it the
// daemon could never converge again.
func (r *Reconciler) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeReconcilerBusy, "reconciler is already running")
	}

	changes, err := r.store.Subscribe(r.ctx, TableACLTable, TableACLRule)
	if err != nil {
		r.running.Store(false)
		return errors.Wrap(err, ErrCodeStoreUnavailable, "failed to subscribe to store changes")
	}

	// Initial pass uses current store state, no waiting for a first event.
	if err := r.Sync(r.ctx); err != nil {
		r.auditLogger.LogReconcileEvent("startup_pass_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	go r.loop(changes)
	return nil
}

// loop is the single consumer of store change events. One event, one full
// pass; the channel serializes delivery so passes never overlap.
func (r *Reconciler) loop(changes <-chan TableChange) {
	defer close(r.stoppedCh)

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			r.auditLogger.LogReconcileEvent("change_notification", map[string]interface{}{
				"table": ev.Table,
				"row":   ev.RowKey,
			})
			if err := r.Sync(r.ctx); err != nil {
				// Recovery path is the next change notification.
				r.auditLogger.LogReconcileEvent("reconcile_failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Sync performs one full reconciliation pass: recompute the allow-list,
// merge it into the configuration file, then request a reload of the target
// process. Safe to call directly for one-shot operation.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	start := timecache.CachedTime()

	allow, err := r.reducer.ComputeAllowList(ctx)
	if err != nil {
		return errors.Wrap(err, ErrCodeStoreError, "failed to compute allow list")
	}

	if err := r.merger.Merge(allow); err != nil {
		return err
	}

	if err := r.signaler.SignalByName(ctx, r.config.ProcessName, r.config.ReloadSignal); err != nil {
		return err
	}

	r.auditLogger.LogReconcileEvent("pass_complete", map[string]interface{}{
		"allow_entries": len(allow),
		"duration_ms":   time.Since(start).Milliseconds(),
	})

	return nil
}

// AllowList recomputes and returns the current allow-list without touching
// the configuration file. Used by the CLI check command.
func (r *Reconciler) AllowList(ctx context.Context) (AllowList, error) {
	return r.reducer.ComputeAllowList(ctx)
}

// Stop cancels the subscription, waits for the consumer goroutine to drain
// and closes the audit logger.
func (r *Reconciler) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeReconcilerStopped, "reconciler is not running")
	}

	r.cancel()
	<-r.stoppedCh

	if r.auditLogger != nil {
		_ = r.auditLogger.Close()
	}

	return nil
}

// IsRunning returns true if the reconciler loop is active.
func (r *Reconciler) IsRunning() bool {
	return r.running.Load()
}

// Close stops the reconciler if it is running and releases the audit trail.
// For one-shot use (New followed by Sync, without Start) it closes the audit
// logger directly.
func (r *Reconciler) Close() error {
	if r.running.Load() {
		return r.Stop()
	}
	r.cancel()
	if r.auditLogger != nil {
		return r.auditLogger.Close()
	}
	return nil
}
