package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// LMTPConfig holds the ingestion front-end configuration.
type LMTPConfig struct {
	Addr           string `toml:"addr"`             // Listen address, e.g. ":24"
	Hostname       string `toml:"hostname"`         // Hostname announced in the LHLO banner
	MaxMessageSize int64  `toml:"max_message_size"` // Maximum size for incoming messages in bytes (0 = unlimited)
	Debug          bool   `toml:"debug"`            // Log the protocol exchange
}

// QueueConfig holds the durable queue store configuration.
type QueueConfig struct {
	Path string `toml:"path"` // Base directory for queue files
}

// PipelineConfig holds the runner configuration.
type PipelineConfig struct {
	Interval string `toml:"interval"` // How often a runner polls its queue (default: "5s")
}

// GetInterval parses the runner poll interval.
func (p *PipelineConfig) GetInterval() (time.Duration, error) {
	if p.Interval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(p.Interval)
}

// TransportConfig describes the external delivery transport invocation.
type TransportConfig struct {
	Command    string `toml:"command"`     // Path to the transport executable
	SpawnCount int    `toml:"spawn_count"` // Fan-out factor passed to the transport
	Timeout    string `toml:"timeout"`     // Per-invocation timeout (default: "2m")
}

// GetSpawnCount returns the configured spawn count with a sane default.
func (t *TransportConfig) GetSpawnCount() int {
	if t.SpawnCount <= 0 {
		return 1
	}
	return t.SpawnCount
}

// GetTimeout parses the transport invocation timeout.
func (t *TransportConfig) GetTimeout() (time.Duration, error) {
	if t.Timeout == "" {
		return 2 * time.Minute, nil
	}
	return time.ParseDuration(t.Timeout)
}

// ArchiverConfig describes the external archiver invocation.
type ArchiverConfig struct {
	Name    string `toml:"name"`     // Adapter name used in logs and metrics (default: "archiver")
	Command string `toml:"command"`  // Command template; $listname/$hostname tokens are expanded
	BaseURL string `toml:"base_url"` // Archive base URL template for permalinks
	Timeout string `toml:"timeout"`  // Per-invocation timeout (default: "2m")
}

// GetTimeout parses the archiver invocation timeout.
func (a *ArchiverConfig) GetTimeout() (time.Duration, error) {
	if a.Timeout == "" {
		return 2 * time.Minute, nil
	}
	return time.ParseDuration(a.Timeout)
}

// DatabaseConfig holds the list registry database configuration.
type DatabaseConfig struct {
	Enabled      bool   `toml:"enabled"` // Use PostgreSQL; off means the in-memory registry
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Name         string `toml:"name"`
	TLSMode      bool   `toml:"tls"`
	MaxConns     int    `toml:"max_conns"`
	MinConns     int    `toml:"min_conns"`
	QueryTimeout string `toml:"query_timeout"` // Timeout for individual database queries (default: "30s")
}

// GetQueryTimeout parses the query timeout duration.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(d.QueryTimeout)
}

// MetricsConfig holds the metrics/health HTTP endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // Listen address, e.g. ":9090"
}

// ListConfig declares a mailing list to ensure at startup. Lists are
// normally managed through the admin tooling; this block exists so a fresh
// deployment can come up with its lists in place.
type ListConfig struct {
	Name                string   `toml:"name"` // Fully qualified list address, e.g. "ant@example.com"
	DisplayName         string   `toml:"display_name"`
	SubjectPrefix       string   `toml:"subject_prefix"`
	WelcomeText         string   `toml:"welcome_text"`
	GoodbyeText         string   `toml:"goodbye_text"`
	ReplyGoesToList     bool     `toml:"reply_goes_to_list"`
	SendGoodbyeMsg      *bool    `toml:"send_goodbye_msg"`
	AdminNotifyMchanges bool     `toml:"admin_notify_mchanges"`
	MigrationNotice     bool     `toml:"migration_notice"`
	BanPatterns         []string `toml:"ban_patterns"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	LMTP      LMTPConfig      `toml:"lmtp"`
	Queue     QueueConfig     `toml:"queue"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Transport TransportConfig `toml:"transport"`
	Archiver  ArchiverConfig  `toml:"archiver"`
	Database  DatabaseConfig  `toml:"database"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Lists     []ListConfig    `toml:"lists"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		LMTP: LMTPConfig{
			Addr:     ":24",
			Hostname: "localhost",
		},
		Queue: QueueConfig{
			Path: "/var/spool/mailman3/queue",
		},
		Pipeline: PipelineConfig{
			Interval: "5s",
		},
		Transport: TransportConfig{
			Command:    "/usr/libexec/mailman3/deliver",
			SpawnCount: 4,
		},
		Archiver: ArchiverConfig{
			Command: "/usr/bin/mhonarc -add -outdir /var/lib/mailman3/archives/$listname",
			BaseURL: "http://$hostname/archives/$listname/",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Name:     "mailman3_db",
			MaxConns: 20,
			MinConns: 2,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads a TOML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
