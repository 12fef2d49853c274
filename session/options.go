package session

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Defaults for session storage. All of them are tunable via options.
const (
	// DefaultTTL is the expiry window shared by all session-scoped keys,
	// refreshed on every session write.
	DefaultTTL = 24 * time.Hour
	// DefaultAudioBufTTL bounds how long partial fragments wait for their
	// final fragment.
	DefaultAudioBufTTL = time.Hour
	// DefaultResultTTL bounds cached utterance replies and lock states.
	DefaultResultTTL = 24 * time.Hour
	// DefaultStreamKey is the global alert stream.
	DefaultStreamKey = "alerts:stream"
	// DefaultStreamGroup is the case-manager consumer group.
	DefaultStreamGroup = "case_mgr"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for session stores.
type storeConfig struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
	audioBufTTL time.Duration
	resultTTL   time.Duration
	dedupTTL    time.Duration
	streamKey   string
	streamGroup string
	lastContact ContactFunc
	logger      *zap.Logger
}

func newStoreConfig() *storeConfig {
	return &storeConfig{
		ttl:         DefaultTTL,
		audioBufTTL: DefaultAudioBufTTL,
		resultTTL:   DefaultResultTTL,
		dedupTTL:    DefaultTTL,
		streamKey:   DefaultStreamKey,
		streamGroup: DefaultStreamGroup,
		logger:      zap.NewNop(),
	}
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets the shared expiry window for session-scoped keys.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithAudioBufTTL sets the expiry for buffered audio fragments.
func WithAudioBufTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.audioBufTTL = ttl
		}
	}
}

// WithResultTTL sets the expiry for cached utterance replies and locks.
func WithResultTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.resultTTL = ttl
		}
	}
}

// WithDedupTTL sets the expiry for idempotency markers.
func WithDedupTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.dedupTTL = ttl
		}
	}
}

// WithAlertStream overrides the alert stream key and consumer group.
func WithAlertStream(key, group string) StoreOption {
	return func(c *storeConfig) {
		if key != "" {
			c.streamKey = key
		}
		if group != "" {
			c.streamGroup = group
		}
	}
}

// WithLastContact installs the callback invoked after every user-initiated
// round append. Failures are logged, never propagated.
func WithLastContact(fn ContactFunc) StoreOption {
	return func(c *storeConfig) {
		c.lastContact = fn
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
