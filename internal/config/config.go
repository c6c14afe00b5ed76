// Package config provides centralized configuration management for the price feed.
// This module handles configuration loading from multiple sources (files, environment variables),
// validation, and provides typed configuration structures for the gateway, the refresh loop,
// persistence and logging.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "PRICEFEED_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`

	// Upstream exchange API
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`

	// Persisted dataset and export
	Dataset DatasetConfig `json:"dataset" yaml:"dataset"`

	// Refresh loop behavior
	Refresh RefreshConfig `json:"refresh" yaml:"refresh"`

	// Run journal
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ExchangeConfig configures the upstream market-data API client
type ExchangeConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" env:"BASE_URL"`                      // API root, e.g. https://rest.fnar.net
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"` // HTTP client timeout for every request
	HistoryTimeout string `json:"history_timeout" yaml:"history_timeout" env:"HISTORY_TIMEOUT"` // Deadline for a history fetch; exceeding it means rate limited
	UserAgent      string `json:"user_agent" yaml:"user_agent" env:"USER_AGENT"`                // User-Agent header sent upstream
	ListingRetries int    `json:"listing_retries" yaml:"listing_retries" env:"LISTING_RETRIES"` // Extra attempts for a listing request failing transiently
}

// DatasetConfig configures the persisted record set and its tabular export
type DatasetConfig struct {
	Path    string `json:"path" yaml:"path" env:"DATASET_PATH"`     // Structured dataset file
	CSVPath string `json:"csv_path" yaml:"csv_path" env:"CSV_PATH"` // Tabular export file, empty disables the export
}

// RefreshConfig configures the stale-record refresh loop
type RefreshConfig struct {
	StaleAfter       string  `json:"stale_after" yaml:"stale_after" env:"STALE_AFTER"`                   // Age at which statistics are recomputed
	ThrottleInterval string  `json:"throttle_interval" yaml:"throttle_interval" env:"THROTTLE_INTERVAL"` // Minimum spacing between history fetches
	PruneDelisted    bool    `json:"prune_delisted" yaml:"prune_delisted" env:"PRUNE_DELISTED"`          // Drop records no longer listed upstream
	PrimaryInterval  string  `json:"primary_interval" yaml:"primary_interval" env:"PRIMARY_INTERVAL"`    // Candle interval used for statistics
	AnomalyFactor    float64 `json:"anomaly_factor" yaml:"anomaly_factor" env:"ANOMALY_FACTOR"`          // High/low deviation that marks a bad tick
}

// JournalConfig configures the SQLite run journal
type JournalConfig struct {
	Path string `json:"path" yaml:"path" env:"JOURNAL_PATH"` // SQLite file, empty disables the journal
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`                   // Log level: debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`                // Log format: json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`                // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`       // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE"`          // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE"`             // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`          // Compress old log files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`                 // Additional context fields
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
	lookupEnv  func(string) (string, bool)
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
		lookupEnv:  os.LookupEnv,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig() (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	// Load from configuration file if it exists
	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"base_url", config.Exchange.BaseURL,
		"dataset_path", config.Dataset.Path,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
		}
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

func (cm *ConfigManager) env(name string) (string, bool) {
	val, ok := cm.lookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// loadFromEnv loads configuration from PRICEFEED_* environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	// Load exchange config
	if val, ok := cm.env("BASE_URL"); ok {
		config.Exchange.BaseURL = val
	}
	if val, ok := cm.env("REQUEST_TIMEOUT"); ok {
		config.Exchange.RequestTimeout = val
	}
	if val, ok := cm.env("HISTORY_TIMEOUT"); ok {
		config.Exchange.HistoryTimeout = val
	}
	if val, ok := cm.env("USER_AGENT"); ok {
		config.Exchange.UserAgent = val
	}
	if val, ok := cm.env("LISTING_RETRIES"); ok {
		retries, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sLISTING_RETRIES: %v", EnvPrefix, err))
		} else {
			config.Exchange.ListingRetries = retries
		}
	}

	// Load dataset config
	if val, ok := cm.env("DATASET_PATH"); ok {
		config.Dataset.Path = val
	}
	if val, ok := cm.lookupEnv(EnvPrefix + "CSV_PATH"); ok {
		// An explicitly empty value disables the export.
		config.Dataset.CSVPath = val
	}

	// Load refresh config
	if val, ok := cm.env("STALE_AFTER"); ok {
		config.Refresh.StaleAfter = val
	}
	if val, ok := cm.env("THROTTLE_INTERVAL"); ok {
		config.Refresh.ThrottleInterval = val
	}
	if val, ok := cm.env("PRUNE_DELISTED"); ok {
		prune, err := strconv.ParseBool(val)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sPRUNE_DELISTED: %v", EnvPrefix, err))
		} else {
			config.Refresh.PruneDelisted = prune
		}
	}
	if val, ok := cm.env("PRIMARY_INTERVAL"); ok {
		config.Refresh.PrimaryInterval = val
	}
	if val, ok := cm.env("ANOMALY_FACTOR"); ok {
		factor, err := strconv.ParseFloat(val, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sANOMALY_FACTOR: %v", EnvPrefix, err))
		} else {
			config.Refresh.AnomalyFactor = factor
		}
	}

	// Load journal config
	if val, ok := cm.lookupEnv(EnvPrefix + "JOURNAL_PATH"); ok {
		config.Journal.Path = val
	}

	// Load logging config
	if val, ok := cm.env("LOG_LEVEL"); ok {
		config.Logging.Level = strings.ToLower(val)
	}
	if val, ok := cm.env("LOG_FORMAT"); ok {
		config.Logging.Format = strings.ToLower(val)
	}
	if val, ok := cm.env("LOG_OUTPUT"); ok {
		config.Logging.Output = strings.ToLower(val)
	}
	if val, ok := cm.env("LOG_FILE_PATH"); ok {
		config.Logging.FilePath = val
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values:\n- %s", strings.Join(errs, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	// Validate exchange configuration
	if config.Exchange.BaseURL == "" {
		errors = append(errors, "exchange.base_url is required")
	} else if !strings.HasPrefix(config.Exchange.BaseURL, "http://") && !strings.HasPrefix(config.Exchange.BaseURL, "https://") {
		errors = append(errors, "exchange.base_url must be an http or https URL")
	}
	errors = appendDurationError(errors, "exchange.request_timeout", config.Exchange.RequestTimeout, true)
	errors = appendDurationError(errors, "exchange.history_timeout", config.Exchange.HistoryTimeout, true)
	if config.Exchange.ListingRetries < 0 {
		errors = append(errors, "exchange.listing_retries must not be negative")
	}

	// Validate dataset configuration
	if config.Dataset.Path == "" {
		errors = append(errors, "dataset.path is required")
	}
	if config.Dataset.CSVPath != "" && config.Dataset.CSVPath == config.Dataset.Path {
		errors = append(errors, "dataset.csv_path must differ from dataset.path")
	}

	// Validate refresh configuration
	errors = appendDurationError(errors, "refresh.stale_after", config.Refresh.StaleAfter, true)
	errors = appendDurationError(errors, "refresh.throttle_interval", config.Refresh.ThrottleInterval, false)
	if config.Refresh.PrimaryInterval == "" {
		errors = append(errors, "refresh.primary_interval is required")
	}
	if config.Refresh.AnomalyFactor <= 1 {
		errors = append(errors, "refresh.anomaly_factor must be greater than 1")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	validLogOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validLogOutputs[config.Logging.Output] {
		errors = append(errors, "logging.output must be one of: stdout, stderr, file")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when logging.output is file")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func appendDurationError(errors []string, field, value string, positive bool) []string {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errors, fmt.Sprintf("%s is not a valid duration: %v", field, err))
	}
	if positive && d <= 0 {
		return append(errors, fmt.Sprintf("%s must be greater than 0", field))
	}
	if d < 0 {
		return append(errors, fmt.Sprintf("%s must not be negative", field))
	}
	return errors
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "cx-pricefeed",
		Version: "1.0.0",
		Exchange: ExchangeConfig{
			BaseURL:        "https://rest.fnar.net",
			RequestTimeout: "30s",
			HistoryTimeout: "3s",
			UserAgent:      "cx-pricefeed/1.0",
			ListingRetries: 2,
		},
		Dataset: DatasetConfig{
			Path:    "all.json",
			CSVPath: "all.csv",
		},
		Refresh: RefreshConfig{
			StaleAfter:       "24h",
			ThrottleInterval: "1s",
			PruneDelisted:    true,
			PrimaryInterval:  "DAY_ONE",
			AnomalyFactor:    10,
		},
		Journal: JournalConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "cx-pricefeed",
			},
		},
	}
}

// RequestTimeoutDuration returns the parsed HTTP client timeout.
func (c ExchangeConfig) RequestTimeoutDuration() time.Duration {
	return mustDuration(c.RequestTimeout, 30*time.Second)
}

// HistoryTimeoutDuration returns the parsed history fetch deadline.
func (c ExchangeConfig) HistoryTimeoutDuration() time.Duration {
	return mustDuration(c.HistoryTimeout, 3*time.Second)
}

// StaleAfterDuration returns the parsed staleness threshold.
func (c RefreshConfig) StaleAfterDuration() time.Duration {
	return mustDuration(c.StaleAfter, 24*time.Hour)
}

// ThrottleIntervalDuration returns the parsed minimum spacing between history fetches.
func (c RefreshConfig) ThrottleIntervalDuration() time.Duration {
	return mustDuration(c.ThrottleInterval, time.Second)
}

// mustDuration parses a validated duration string, falling back when it is empty or invalid.
func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
