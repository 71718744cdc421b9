package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/brook/internal/docdb"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Database                     string `json:"database" yaml:"database"`
	Container                    string `json:"container" yaml:"container"`
	QueryBatchSize               int    `json:"queryBatchSize" yaml:"queryBatchSize"`
	MaxEventsPerBatch            int    `json:"maxEventsPerBatch" yaml:"maxEventsPerBatch"`
	MaxRequestSizeBytes          int64  `json:"maxRequestSizeBytes" yaml:"maxRequestSizeBytes"`
	LeaseDurationSeconds         int    `json:"leaseDurationSeconds" yaml:"leaseDurationSeconds"`
	LeaseRenewalThresholdSeconds int    `json:"leaseRenewalThresholdSeconds" yaml:"leaseRenewalThresholdSeconds"`
	SliceSize                    int64  `json:"sliceSize" yaml:"sliceSize"`
	// LockAppends holds a lease on the brook for the duration of each append.
	LockAppends bool `json:"lockAppends" yaml:"lockAppends"`

	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is one of always, interval or never.
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`

	Retry RetryConfig   `json:"retry" yaml:"retry"`
	Lease LeaseConfig   `json:"lease" yaml:"lease"`
	Log   logpkg.Config `json:"log" yaml:"log"`
}

// RetryConfig bounds retries of transient storage failures.
type RetryConfig struct {
	MaxRetries  int `json:"maxRetries" yaml:"maxRetries"`
	BaseDelayMs int `json:"baseDelayMs" yaml:"baseDelayMs"`
	MaxDelayMs  int `json:"maxDelayMs" yaml:"maxDelayMs"`
}

// Lease backends.
const (
	LeaseBackendNone   = "none"
	LeaseBackendPebble = "pebble"
	LeaseBackendRedis  = "redis"
)

// LeaseConfig selects and tunes the lease backend.
type LeaseConfig struct {
	Backend             string `json:"backend" yaml:"backend"`
	RedisAddr           string `json:"redisAddr" yaml:"redisAddr"`
	MaxAcquireAttempts  int    `json:"maxAcquireAttempts" yaml:"maxAcquireAttempts"`
	AcquireRetryDelayMs int    `json:"acquireRetryDelayMs" yaml:"acquireRetryDelayMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Database:                     "brooks",
		Container:                    "events",
		QueryBatchSize:               100,
		MaxEventsPerBatch:            95,
		MaxRequestSizeBytes:          1_800_000,
		LeaseDurationSeconds:         60,
		LeaseRenewalThresholdSeconds: 20,
		SliceSize:                    100,
		Fsync:                        "always",
		FsyncIntervalMs:              5,
		Retry: RetryConfig{
			MaxRetries:  5,
			BaseDelayMs: 100,
			MaxDelayMs:  5000,
		},
		Lease: LeaseConfig{
			Backend:             LeaseBackendPebble,
			MaxAcquireAttempts:  5,
			AcquireRetryDelayMs: 250,
		},
		Log: logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" || c.Container == "" {
		errs = append(errs, errors.New("database and container are required"))
	}
	if c.QueryBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("queryBatchSize must be positive, got %d", c.QueryBatchSize))
	}
	if c.MaxEventsPerBatch <= 0 {
		errs = append(errs, fmt.Errorf("maxEventsPerBatch must be positive, got %d", c.MaxEventsPerBatch))
	}
	if c.MaxEventsPerBatch >= docdb.MaxOperationsPerBatch {
		// One operation per batch is taken by the cursor update.
		errs = append(errs, fmt.Errorf("maxEventsPerBatch must be below %d, got %d", docdb.MaxOperationsPerBatch, c.MaxEventsPerBatch))
	}
	if c.MaxRequestSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("maxRequestSizeBytes must be positive, got %d", c.MaxRequestSizeBytes))
	}
	if c.MaxRequestSizeBytes >= docdb.MaxRequestBytes {
		errs = append(errs, fmt.Errorf("maxRequestSizeBytes must be below %d, got %d", docdb.MaxRequestBytes, c.MaxRequestSizeBytes))
	}
	if c.SliceSize <= 0 {
		errs = append(errs, fmt.Errorf("sliceSize must be positive, got %d", c.SliceSize))
	}
	if c.LeaseRenewalThresholdSeconds < 0 || c.LeaseRenewalThresholdSeconds >= c.LeaseDurationSeconds {
		errs = append(errs, fmt.Errorf("leaseRenewalThresholdSeconds (%d) must be below leaseDurationSeconds (%d)",
			c.LeaseRenewalThresholdSeconds, c.LeaseDurationSeconds))
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errs = append(errs, fmt.Errorf("invalid retry settings %+v", c.Retry))
	}
	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		errs = append(errs, fmt.Errorf("unknown fsync mode %q", c.Fsync))
	}
	switch c.Lease.Backend {
	case "", LeaseBackendNone, LeaseBackendPebble:
	case LeaseBackendRedis:
		if c.Lease.RedisAddr == "" {
			errs = append(errs, errors.New("lease.redisAddr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lease backend %q", c.Lease.Backend))
	}
	if c.LockAppends && (c.Lease.Backend == "" || c.Lease.Backend == LeaseBackendNone) {
		errs = append(errs, errors.New("lockAppends requires a lease backend"))
	}
	return errors.Join(errs...)
}

// LeaseDuration returns LeaseDurationSeconds as a duration.
func (c Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSeconds) * time.Second
}

// LeaseRenewalThreshold returns LeaseRenewalThresholdSeconds as a duration.
func (c Config) LeaseRenewalThreshold() time.Duration {
	return time.Duration(c.LeaseRenewalThresholdSeconds) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// BaseDelay returns the first retry delay.
func (r RetryConfig) BaseDelay() time.Duration { return ms(r.BaseDelayMs) }

// MaxDelay returns the retry delay cap.
func (r RetryConfig) MaxDelay() time.Duration { return ms(r.MaxDelayMs) }

// AcquireRetryDelay returns the pause between lease acquire attempts.
func (l LeaseConfig) AcquireRetryDelay() time.Duration { return ms(l.AcquireRetryDelayMs) }
