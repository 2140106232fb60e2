package permafrost

import "log/slog"

const (
	// defaultTargetMaxShardBytes is the per-shard byte budget the shard sizer
	// keeps each type under unless overridden.
	defaultTargetMaxShardBytes = int64(16 << 20)
)

// Option is a functional option for configuring a WriteStateEngine.
type Option func(*engineConfig)

type engineConfig struct {
	targetMaxShardBytes int64
	allowResharding     bool
	encodeWorkers       int
	logger              *slog.Logger
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		targetMaxShardBytes: defaultTargetMaxShardBytes,
		encodeWorkers:       1, // Default to single-threaded; use WithEncodeWorkers(n) to parallelize
	}
}

// WithTargetMaxShardBytes sets the per-shard byte budget used by the shard
// sizer.
func WithTargetMaxShardBytes(n int64) Option {
	return func(c *engineConfig) {
		c.targetMaxShardBytes = n
	}
}

// WithTypeResharding allows types to change their shard count between cycles.
// When enabled, a cycle that crosses a reshard maintains dual per-shard
// statistics so reverse deltas stay writable against the previous count.
func WithTypeResharding() Option {
	return func(c *engineConfig) {
		c.allowResharding = true
	}
}

// WithEncodeWorkers sets the number of goroutines used to encode a map type's
// shards concurrently during calculateSnapshot. Object types encode their
// shards sequentially.
func WithEncodeWorkers(n int) Option {
	return func(c *engineConfig) {
		c.encodeWorkers = n
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}
