// integration.go: Unified configuration layer for the Cerbero daemon
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// This file combines FlashFlags command-line parsing with the multi-source
// configuration loading of config.go. Precedence, lowest to highest:
// defaults, YAML settings file, CERBERO_* environment variables,
// command-line flags.

package cerbero

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	flashflags "github.com/agilira/flash-flags"
)

// ConfigManager binds the daemon's command-line flags to a Config.
type ConfigManager struct {
	flags   *flashflags.FlagSet
	appName string
}

// NewConfigManager creates a configuration manager with the daemon's flag
// set registered.
func NewConfigManager(appName string) *ConfigManager {
	cm := &ConfigManager{
		flags:   flashflags.New(appName),
		appName: appName,
	}

	cm.flags.String("settings", "", "Path to YAML settings file")
	cm.flags.String("store-url", "", "Configuration store URL (redis://host:port/db)")
	cm.flags.String("service", "", "Service name an ACL table must list to qualify")
	cm.flags.String("process", "", "Target process name to signal after a merge")
	cm.flags.String("snmpd-conf", "", "Path of the managed snmpd configuration file")
	cm.flags.Int("reload-signal", 0, "Reload signal number (default SIGHUP)")
	cm.flags.Duration("signal-poll-interval", 0, "Delay between signal readiness probes")
	cm.flags.Duration("signal-max-wait", 0, "Bound on the signal readiness wait (0 = unbounded)")
	cm.flags.Bool("audit-disabled", false, "Disable the audit trail")
	cm.flags.String("audit-output", "", "Audit output file (.db for SQLite, .jsonl for JSONL)")
	cm.flags.Bool("allow-unprivileged", false, "Skip the superuser check (testing only)")

	return cm
}

// SetDescription sets the application description for help text
func (cm *ConfigManager) SetDescription(description string) *ConfigManager {
	cm.flags.SetDescription(description)
	return cm
}

// SetVersion sets the application version for help text
func (cm *ConfigManager) SetVersion(version string) *ConfigManager {
	cm.flags.SetVersion(version)
	return cm
}

// Parse parses command-line arguments and enables CERBERO_* environment
// variable binding for all registered flags.
func (cm *ConfigManager) Parse(args []string) error {
	// Check for help flags first to prevent double output
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return fmt.Errorf("help requested")
		}
	}

	cm.flags.SetEnvPrefix(strings.ToUpper(cm.appName))

	if err := cm.flags.Parse(args); err != nil {
		return fmt.Errorf("failed to parse command-line flags: %w", err)
	}

	return nil
}

// ParseArgsOrExit parses os.Args[1:] and exits gracefully on help or error.
func (cm *ConfigManager) ParseArgsOrExit() {
	if err := cm.Parse(os.Args[1:]); err != nil {
		if err.Error() == "help requested" {
			cm.PrintUsage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		cm.PrintUsage()
		os.Exit(1)
	}
}

// PrintUsage prints help information for all flags
func (cm *ConfigManager) PrintUsage() {
	cm.flags.PrintHelp()
}

// AllowUnprivileged reports whether the superuser check is disabled.
func (cm *ConfigManager) AllowUnprivileged() bool {
	return cm.flags.GetBool("allow-unprivileged")
}

// BuildConfig assembles the effective daemon configuration from all sources.
// Flags only override when actually set, so file and environment values
// survive unset flags.
func (cm *ConfigManager) BuildConfig() (*Config, error) {
	config, err := LoadConfigMultiSource(cm.flags.GetString("settings"))
	if err != nil {
		return nil, err
	}

	changed := make(map[string]bool)
	cm.flags.VisitAll(func(flag *flashflags.Flag) {
		if flag.Changed() {
			changed[flag.Name()] = true
		}
	})

	if changed["store-url"] {
		config.StoreURL = cm.flags.GetString("store-url")
	}
	if changed["service"] {
		config.ServiceName = cm.flags.GetString("service")
	}
	if changed["process"] {
		config.ProcessName = cm.flags.GetString("process")
	}
	if changed["snmpd-conf"] {
		config.SNMPConfigPath = cm.flags.GetString("snmpd-conf")
	}
	if changed["reload-signal"] {
		config.ReloadSignal = syscall.Signal(cm.flags.GetInt("reload-signal"))
	}
	if changed["signal-poll-interval"] {
		config.SignalPollInterval = cm.flags.GetDuration("signal-poll-interval")
	}
	if changed["signal-max-wait"] {
		config.SignalMaxWait = cm.flags.GetDuration("signal-max-wait")
	}
	if changed["audit-disabled"] {
		config.Audit.Enabled = !cm.flags.GetBool("audit-disabled")
	}
	if changed["audit-output"] {
		config.Audit.OutputFile = cm.flags.GetString("audit-output")
	}

	return config, nil
}

// FlagToEnvKey converts a flag name to its environment variable key,
// e.g. "store-url" to "CERBERO_STORE_URL".
func (cm *ConfigManager) FlagToEnvKey(flagName string) string {
	return strings.ToUpper(cm.appName + "_" + strings.ReplaceAll(flagName, "-", "_"))
}
