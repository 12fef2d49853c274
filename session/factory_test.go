package session

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/caresession"
)

func TestNewStore_Memory(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}

func TestNewStore_RedisRequiresClient(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, caresession.ErrInvalidConfig)
}

func TestNewStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s, err := NewStore(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}

func TestNewStore_UnknownType(t *testing.T) {
	_, err := NewStore(StoreType("cassandra"))
	assert.ErrorIs(t, err, caresession.ErrInvalidStoreType)
}
