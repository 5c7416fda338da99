// config.go: Configuration management for the Cerbero reconciliation daemon
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Config configures the Cerbero reconciler behavior.
type Config struct {
	// StoreURL is the configuration store connection URL.
	// Default: redis://localhost:6379/4
	StoreURL string `yaml:"store_url"`

	// ServiceName is the service entry an ACL table must list to qualify.
	// Default: SNMP
	ServiceName string `yaml:"service_name"`

	// ProcessName is the name of the target process to signal after a merge.
	// Default: snmpd
	ProcessName string `yaml:"process_name"`

	// SNMPConfigPath is the configuration file rewritten on each pass.
	// The file must already exist; cerbero never creates it.
	// Default: /etc/snmp/snmpd.conf
	SNMPConfigPath string `yaml:"snmp_config_path"`

	// ReloadSignal is delivered to the target process after a successful merge.
	// Default: SIGHUP
	ReloadSignal syscall.Signal `yaml:"reload_signal"`

	// SignalPollInterval is the delay between readiness probes of the target
	// process signal masks.
	// Default: 100ms
	SignalPollInterval time.Duration `yaml:"signal_poll_interval"`

	// SignalMaxWait bounds the readiness wait before signal delivery.
	// Zero means wait indefinitely, matching the historical updater behavior.
	// Default: 0
	SignalMaxWait time.Duration `yaml:"signal_max_wait"`

	// Audit configuration for security and compliance.
	// Default: enabled with secure defaults.
	Audit AuditConfig `yaml:"audit"`
}

// WithDefaults applies sensible defaults to the configuration
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.StoreURL == "" {
		config.StoreURL = "redis://localhost:6379/4"
	}

	if config.ServiceName == "" {
		config.ServiceName = "SNMP"
	}

	if config.ProcessName == "" {
		config.ProcessName = "snmpd"
	}

	if config.SNMPConfigPath == "" {
		config.SNMPConfigPath = "/etc/snmp/snmpd.conf"
	}

	if config.ReloadSignal <= 0 {
		config.ReloadSignal = syscall.SIGHUP
	}

	if config.SignalPollInterval <= 0 {
		config.SignalPollInterval = 100 * time.Millisecond
	}

	// SignalMaxWait deliberately has no floor: zero keeps the unbounded wait.

	// Set audit defaults if not configured. An explicit enabled flag, even
	// "false" with nothing else set, counts as configured.
	if config.Audit == (AuditConfig{}) {
		config.Audit = DefaultAuditConfig()
	}

	return &config
}

// Validate checks the configuration for values that cannot work at runtime.
// It is called by New after defaults are applied, so empty fields are not
// an error here - only actively wrong values are.
func (c *Config) Validate() error {
	if c.ReloadSignal <= 0 || int(c.ReloadSignal) > 64 {
		return errors.New(ErrCodeInvalidConfig, "reload signal out of range").
			WithContext("signal", int(c.ReloadSignal))
	}

	if c.SignalPollInterval < 10*time.Millisecond {
		return errors.New(ErrCodeInvalidConfig, "signal poll interval too small (min 10ms)").
			WithContext("interval", c.SignalPollInterval.String())
	}

	if c.SignalMaxWait < 0 {
		return errors.New(ErrCodeInvalidConfig, "signal max wait cannot be negative").
			WithContext("max_wait", c.SignalMaxWait.String())
	}

	if c.SNMPConfigPath == "" {
		return errors.New(ErrCodeInvalidConfig, "snmp config path cannot be empty")
	}

	return nil
}

// Environment variable names recognized by LoadConfigFromEnv.
// This provides a Viper-compatible interface for container deployments.
const (
	envStoreURL           = "CERBERO_STORE_URL"
	envServiceName        = "CERBERO_SERVICE_NAME"
	envProcessName        = "CERBERO_PROCESS_NAME"
	envSNMPConfigPath     = "CERBERO_SNMP_CONFIG"
	envReloadSignal       = "CERBERO_RELOAD_SIGNAL"
	envSignalPollInterval = "CERBERO_SIGNAL_POLL_INTERVAL"
	envSignalMaxWait      = "CERBERO_SIGNAL_MAX_WAIT"
	envAuditEnabled       = "CERBERO_AUDIT_ENABLED"
	envAuditOutputFile    = "CERBERO_AUDIT_OUTPUT_FILE"
	envAuditMinLevel      = "CERBERO_AUDIT_MIN_LEVEL"
	envAuditBufferSize    = "CERBERO_AUDIT_BUFFER_SIZE"
	envAuditFlushInterval = "CERBERO_AUDIT_FLUSH_INTERVAL"
)

// LoadConfigFromEnv loads cerbero configuration from environment variables.
// Unset variables leave the corresponding field at its zero value so that
// WithDefaults can fill it in later.
func LoadConfigFromEnv() (*Config, error) {
	config := &Config{}

	config.StoreURL = os.Getenv(envStoreURL)
	config.ServiceName = os.Getenv(envServiceName)
	config.ProcessName = os.Getenv(envProcessName)
	config.SNMPConfigPath = os.Getenv(envSNMPConfigPath)

	if v := os.Getenv(envReloadSignal); v != "" {
		sig, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid reload signal number").
				WithContext("value", v)
		}
		config.ReloadSignal = syscall.Signal(sig)
	}

	if v := os.Getenv(envSignalPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid signal poll interval").
				WithContext("value", v)
		}
		config.SignalPollInterval = d
	}

	if v := os.Getenv(envSignalMaxWait); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid signal max wait").
				WithContext("value", v)
		}
		config.SignalMaxWait = d
	}

	if err := loadAuditEnv(&config.Audit); err != nil {
		return nil, err
	}

	return config, nil
}

// loadAuditEnv fills the audit section from CERBERO_AUDIT_* variables.
func loadAuditEnv(audit *AuditConfig) error {
	if v := os.Getenv(envAuditEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid audit enabled flag").
				WithContext("value", v)
		}
		audit.Enabled = enabled
		audit.enabledSet = true
	}

	audit.OutputFile = os.Getenv(envAuditOutputFile)

	if v := os.Getenv(envAuditMinLevel); v != "" {
		level, err := ParseAuditLevel(v)
		if err != nil {
			return err
		}
		audit.MinLevel = level
	}

	if v := os.Getenv(envAuditBufferSize); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid audit buffer size").
				WithContext("value", v)
		}
		audit.BufferSize = size
	}

	if v := os.Getenv(envAuditFlushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid audit flush interval").
				WithContext("value", v)
		}
		audit.FlushInterval = d
	}

	return nil
}

// UnmarshalYAML decodes the audit section, recording whether the enabled
// flag was written explicitly so "enabled: false" survives the application
// of defaults.
func (ac *AuditConfig) UnmarshalYAML(value *yaml.Node) error {
	type plainAuditConfig AuditConfig
	var plain plainAuditConfig
	if err := value.Decode(&plain); err != nil {
		return err
	}

	var presence struct {
		Enabled *bool `yaml:"enabled"`
	}
	if err := value.Decode(&presence); err != nil {
		return err
	}

	*ac = AuditConfig(plain)
	ac.enabledSet = presence.Enabled != nil
	return nil
}

// LoadConfigFromFile loads cerbero configuration from a YAML settings file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read settings file").
			WithContext("path", path)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse settings file").
			WithContext("path", path)
	}

	return config, nil
}

// LoadConfigMultiSource loads configuration with precedence:
//  1. Environment variables (highest priority)
//  2. File configuration
//  3. Default values (lowest priority)
//
// An empty configFile skips the file layer entirely.
func LoadConfigMultiSource(configFile string) (*Config, error) {
	config := &Config{}

	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	envConfig, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	mergeConfig(config, envConfig)

	return config.WithDefaults(), nil
}

// mergeConfig overlays non-zero fields of src onto dst.
func mergeConfig(dst, src *Config) {
	if src.StoreURL != "" {
		dst.StoreURL = src.StoreURL
	}
	if src.ServiceName != "" {
		dst.ServiceName = src.ServiceName
	}
	if src.ProcessName != "" {
		dst.ProcessName = src.ProcessName
	}
	if src.SNMPConfigPath != "" {
		dst.SNMPConfigPath = src.SNMPConfigPath
	}
	if src.ReloadSignal != 0 {
		dst.ReloadSignal = src.ReloadSignal
	}
	if src.SignalPollInterval != 0 {
		dst.SignalPollInterval = src.SignalPollInterval
	}
	if src.SignalMaxWait != 0 {
		dst.SignalMaxWait = src.SignalMaxWait
	}
	mergeAuditConfig(&dst.Audit, &src.Audit)
}

// mergeAuditConfig overlays explicitly set audit fields of src onto dst.
func mergeAuditConfig(dst, src *AuditConfig) {
	if src.enabledSet {
		dst.Enabled = src.Enabled
		dst.enabledSet = true
	}
	if src.OutputFile != "" {
		dst.OutputFile = src.OutputFile
	}
	if src.MinLevel != 0 {
		dst.MinLevel = src.MinLevel
	}
	if src.BufferSize != 0 {
		dst.BufferSize = src.BufferSize
	}
	if src.FlushInterval != 0 {
		dst.FlushInterval = src.FlushInterval
	}
}
