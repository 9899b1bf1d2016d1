package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/kilnmq/kiln/internal/broker"
	cfgpkg "github.com/kilnmq/kiln/internal/config"
	"github.com/kilnmq/kiln/internal/group"
	"github.com/kilnmq/kiln/internal/segment"
	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
	"github.com/kilnmq/kiln/internal/topic"
	"github.com/kilnmq/kiln/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

// Runtime wires storage, the topic registry, the broker, and the group
// coordinator for a single-node instance. Layout under DataDir:
//
//	meta/    pebble metadata store (topic metas, producer sessions, offsets)
//	topics/  per-topic partition segment directories
type Runtime struct {
	db          *pebblestore.DB
	registry    *topic.Registry
	broker      *broker.Broker
	coordinator *group.Coordinator
	config      cfgpkg.Config
	logger      log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Open initializes storage and all facades, and starts the retention and
// member-expiry sweepers.
func Open(opts Options) (*Runtime, error) {
	if opts.Config.DataDir == "" {
		return nil, errors.New("runtime: DataDir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	fsync, err := pebblestore.ParseFsyncMode(opts.Config.Fsync)
	if err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(opts.Config.DataDir, "meta"),
		Fsync:         fsync,
		FsyncInterval: time.Duration(opts.Config.FsyncIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	segOpts := segment.Options{
		MaxSegmentBytes: opts.Config.Segment.MaxBytes,
		Fsync:           segmentFsync(fsync),
		FsyncInterval:   time.Duration(opts.Config.FsyncIntervalMs) * time.Millisecond,
		RetryAttempts:   opts.Config.Storage.RetryAttempts,
		RetryBackoff:    time.Duration(opts.Config.Storage.RetryBackoffMs) * time.Millisecond,
	}
	registry, err := topic.OpenRegistry(db, filepath.Join(opts.Config.DataDir, "topics"), segOpts)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := broker.New(registry, db, broker.Config{
		FetchDefaultMaxBytes: opts.Config.Fetch.DefaultMaxBytes,
		FetchMaxWaitCap:      time.Duration(opts.Config.Fetch.MaxWaitMsCap) * time.Millisecond,
		RetentionAgeMs:       opts.Config.Retention.AgeMs,
		RetentionMaxBytes:    opts.Config.Retention.MaxBytes,
		SweepInterval:        time.Duration(opts.Config.Retention.SweepIntervalMs) * time.Millisecond,
		ProducerSessionCache: opts.Config.Producer.SessionCacheSize,
	}, logger)

	coord := group.NewCoordinator(db, registry, group.Config{
		HeartbeatInterval: time.Duration(opts.Config.Group.HeartbeatIntervalMs) * time.Millisecond,
		SessionTimeout:    time.Duration(opts.Config.Group.SessionTimeoutMs) * time.Millisecond,
		RebalanceTimeout:  time.Duration(opts.Config.Group.RebalanceTimeoutMs) * time.Millisecond,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		db:          db,
		registry:    registry,
		broker:      b,
		coordinator: coord,
		config:      opts.Config,
		logger:      logger,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go func() {
		defer close(rt.done)
		go coord.RunExpiry(ctx)
		b.RunRetention(ctx)
	}()
	return rt, nil
}

// segmentFsync maps the shared fsync mode onto the segment store policy.
func segmentFsync(m pebblestore.FsyncMode) segment.FsyncPolicy {
	switch m {
	case pebblestore.FsyncModeInterval:
		return segment.SyncInterval
	case pebblestore.FsyncModeNever:
		return segment.SyncNever
	default:
		return segment.SyncAlways
	}
}

// Close stops the sweepers and closes all storage in dependency order.
func (r *Runtime) Close() error {
	r.cancel()
	<-r.done
	err := r.registry.Close()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// CheckHealth verifies the metadata store answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("runtime: db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Registry exposes topic management.
func (r *Runtime) Registry() *topic.Registry { return r.registry }

// Broker exposes the publish/fetch paths.
func (r *Runtime) Broker() *broker.Broker { return r.broker }

// Coordinator exposes consumer group operations.
func (r *Runtime) Coordinator() *group.Coordinator { return r.coordinator }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime's base logger.
func (r *Runtime) Logger() log.Logger { return r.logger }
