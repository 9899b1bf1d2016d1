package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level broker configuration loaded from file/env.
type Config struct {
	DataDir           string          `json:"dataDir"`
	HTTPAddr          string          `json:"httpAddr"`
	Fsync             string          `json:"fsync"` // always|interval|never
	FsyncIntervalMs   int64           `json:"fsyncIntervalMs"`
	DefaultPartitions int             `json:"defaultPartitions"`
	Segment           SegmentConfig   `json:"segment"`
	Retention         RetentionConfig `json:"retention"`
	Fetch             FetchConfig     `json:"fetch"`
	Producer          ProducerConfig  `json:"producer"`
	Group             GroupConfig     `json:"group"`
	Storage           StorageConfig   `json:"storage"`
}

// SegmentConfig controls the on-disk log segment store.
type SegmentConfig struct {
	// MaxBytes is the active-segment size threshold that triggers rollover.
	MaxBytes int64 `json:"maxBytes"`
}

// RetentionConfig sets per-topic retention defaults. Zero disables a bound.
type RetentionConfig struct {
	AgeMs           int64 `json:"ageMs"`
	MaxBytes        int64 `json:"maxBytes"`
	SweepIntervalMs int64 `json:"sweepIntervalMs"`
}

// FetchConfig bounds fetch requests.
type FetchConfig struct {
	DefaultMaxBytes int   `json:"defaultMaxBytes"`
	MaxWaitMsCap    int64 `json:"maxWaitMsCap"`
}

// ProducerConfig bounds the idempotent-publish dedupe window.
type ProducerConfig struct {
	SessionCacheSize int `json:"sessionCacheSize"`
}

// GroupConfig sets consumer group coordination timings.
type GroupConfig struct {
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
	SessionTimeoutMs    int64 `json:"sessionTimeoutMs"`
	RebalanceTimeoutMs  int64 `json:"rebalanceTimeoutMs"`
}

// StorageConfig controls retry behavior for transient storage failures.
type StorageConfig struct {
	RetryAttempts  int   `json:"retryAttempts"`
	RetryBackoffMs int64 `json:"retryBackoffMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		Fsync:             "always",
		FsyncIntervalMs:   5,
		DefaultPartitions: 3,
		Segment: SegmentConfig{
			MaxBytes: 64 << 20, // 64 MiB
		},
		Retention: RetentionConfig{
			SweepIntervalMs: 30_000,
		},
		Fetch: FetchConfig{
			DefaultMaxBytes: 1 << 20, // 1 MiB
			MaxWaitMsCap:    30_000,
		},
		Producer: ProducerConfig{
			SessionCacheSize: 1024,
		},
		Group: GroupConfig{
			HeartbeatIntervalMs: 3_000,
			SessionTimeoutMs:    10_000,
			RebalanceTimeoutMs:  30_000,
		},
		Storage: StorageConfig{
			RetryAttempts:  3,
			RetryBackoffMs: 50,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file extension %q; use JSON", filepath.Ext(path))
	}
	return cfg, nil
}
