package config

import (
	"os"
	"strconv"
)

// FromEnv overlays KILN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("KILN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KILN_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("KILN_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	setInt64(&cfg.FsyncIntervalMs, "KILN_FSYNC_INTERVAL_MS")
	setInt(&cfg.DefaultPartitions, "KILN_DEFAULT_PARTITIONS")
	setInt64(&cfg.Segment.MaxBytes, "KILN_SEGMENT_MAX_BYTES")
	setInt64(&cfg.Retention.AgeMs, "KILN_RETENTION_AGE_MS")
	setInt64(&cfg.Retention.MaxBytes, "KILN_RETENTION_MAX_BYTES")
	setInt64(&cfg.Retention.SweepIntervalMs, "KILN_RETENTION_SWEEP_INTERVAL_MS")
	setInt(&cfg.Fetch.DefaultMaxBytes, "KILN_FETCH_DEFAULT_MAX_BYTES")
	setInt64(&cfg.Fetch.MaxWaitMsCap, "KILN_FETCH_MAX_WAIT_MS_CAP")
	setInt(&cfg.Producer.SessionCacheSize, "KILN_PRODUCER_SESSION_CACHE")
	setInt64(&cfg.Group.HeartbeatIntervalMs, "KILN_GROUP_HEARTBEAT_INTERVAL_MS")
	setInt64(&cfg.Group.SessionTimeoutMs, "KILN_GROUP_SESSION_TIMEOUT_MS")
	setInt64(&cfg.Group.RebalanceTimeoutMs, "KILN_GROUP_REBALANCE_TIMEOUT_MS")
	setInt(&cfg.Storage.RetryAttempts, "KILN_STORAGE_RETRY_ATTEMPTS")
	setInt64(&cfg.Storage.RetryBackoffMs, "KILN_STORAGE_RETRY_BACKOFF_MS")
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
