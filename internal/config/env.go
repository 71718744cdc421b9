package config

import (
	"os"
	"strconv"
)

// FromEnv overlays BROOK_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	num64 := func(name string, dst *int64) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("BROOK_DATABASE", &cfg.Database)
	str("BROOK_CONTAINER", &cfg.Container)
	num("BROOK_QUERY_BATCH_SIZE", &cfg.QueryBatchSize)
	num("BROOK_MAX_EVENTS_PER_BATCH", &cfg.MaxEventsPerBatch)
	num64("BROOK_MAX_REQUEST_SIZE_BYTES", &cfg.MaxRequestSizeBytes)
	num("BROOK_LEASE_DURATION_SECONDS", &cfg.LeaseDurationSeconds)
	num("BROOK_LEASE_RENEWAL_THRESHOLD_SECONDS", &cfg.LeaseRenewalThresholdSeconds)
	num64("BROOK_SLICE_SIZE", &cfg.SliceSize)
	if v := os.Getenv("BROOK_LOCK_APPENDS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LockAppends = b
		}
	}
	str("BROOK_DATA_DIR", &cfg.DataDir)
	str("BROOK_FSYNC", &cfg.Fsync)
	num("BROOK_FSYNC_INTERVAL_MS", &cfg.FsyncIntervalMs)

	num("BROOK_RETRY_MAX_RETRIES", &cfg.Retry.MaxRetries)
	num("BROOK_RETRY_BASE_DELAY_MS", &cfg.Retry.BaseDelayMs)
	num("BROOK_RETRY_MAX_DELAY_MS", &cfg.Retry.MaxDelayMs)

	str("BROOK_LEASE_BACKEND", &cfg.Lease.Backend)
	str("BROOK_LEASE_REDIS_ADDR", &cfg.Lease.RedisAddr)
	num("BROOK_LEASE_MAX_ACQUIRE_ATTEMPTS", &cfg.Lease.MaxAcquireAttempts)
	num("BROOK_LEASE_ACQUIRE_RETRY_DELAY_MS", &cfg.Lease.AcquireRetryDelayMs)

	str("BROOK_LOG_LEVEL", &cfg.Log.Level)
	str("BROOK_LOG_FORMAT", &cfg.Log.Format)
}
