// cerberod: standalone reconciliation daemon
//
// A flag-driven entry point for service managers (systemd, supervisord) that
// prefer a single flat binary over git-style subcommands. All flags are also
// bound to CERBERO_* environment variables for container deployments.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agilira/cerbero"
)

func main() {
	cm := cerbero.NewConfigManager("cerbero").
		SetDescription("SNMP access-control reconciliation daemon").
		SetVersion("1.0.0")
	cm.ParseArgsOrExit()

	if !cm.AllowUnprivileged() && os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "cerberod: root privileges required to apply configuration changes")
		os.Exit(1)
	}

	config, err := cm.BuildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cerberod: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := cerbero.NewRedisStore(ctx, config.StoreURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cerberod: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	reconciler, err := cerbero.New(*config, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cerberod: %v\n", err)
		os.Exit(1)
	}

	if err := reconciler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "cerberod: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("cerberod: watching %s and %s, managing %s\n",
		cerbero.TableACLTable, cerbero.TableACLRule, config.SNMPConfigPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	fmt.Printf("cerberod: received %v, shutting down\n", sig)
	if err := reconciler.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "cerberod: %v\n", err)
		os.Exit(1)
	}
}
