package session

import (
	"github.com/creastat/caresession"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a new Store based on the given type.
// Supports "memory" and "redis" driver types.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := newStoreConfig()

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(config), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, caresession.ErrInvalidConfig
		}
		return newRedisStore(config), nil

	default:
		return nil, caresession.ErrInvalidStoreType
	}
}
