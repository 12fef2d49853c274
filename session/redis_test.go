package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/caresession"
)

func setupTestRedis(t *testing.T, opts ...StoreOption) (*miniredis.Miniredis, Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts = append([]StoreOption{WithRedisClient(client)}, opts...)
	s, err := NewStore(StoreTypeRedis, opts...)
	require.NoError(t, err)
	return mr, s
}

func TestRedisStore_Conformance(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		_, s := setupTestRedis(t)
		return s
	})
}

func TestRedisStore_SessionKeysCarryTTL(t *testing.T) {
	mr, s := setupTestRedis(t, WithTTL(time.Minute))
	defer s.Close()

	require.NoError(t, s.AppendRound(context.Background(), "u1", caresession.Round{Input: "hi", Output: "hello", RID: "r1"}))

	assert.Equal(t, time.Minute, mr.TTL(historyKey("u1")))
	assert.Equal(t, time.Minute, mr.TTL(stateKey("u1")))
}

func TestRedisStore_DedupMarkerExpires(t *testing.T) {
	mr, s := setupTestRedis(t, WithDedupTTL(time.Second))
	defer s.Close()
	ctx := context.Background()

	ok, err := s.TryRegisterRequest(ctx, "u1", "r1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryRegisterRequest(ctx, "u1", "r1")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = s.TryRegisterRequest(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_AudioBufferExpires(t *testing.T) {
	mr, s := setupTestRedis(t, WithAudioBufTTL(time.Second))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.AppendAudioSegment(ctx, "u1", "a1", "I feel"))
	mr.FastForward(2 * time.Second)

	merged, err := s.DrainAudioSegments(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "", merged)
}

func TestRedisStore_AddAlertWritesStream(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	id, err := s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "fall detected", Severity: "critical", TS: 1234})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := client.XRange(ctx, DefaultStreamKey, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].Values["user_id"])
	assert.Equal(t, "fall detected", entries[0].Values["reason"])
	assert.Equal(t, "critical", entries[0].Values["severity"])
	assert.Equal(t, "1234", entries[0].Values["ts"])

	// Group exists already, and a second AddAlert tolerates that.
	err = client.XGroupCreateMkStream(ctx, DefaultStreamKey, DefaultStreamGroup, "$").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUSYGROUP")
	_, err = s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "low mood"})
	require.NoError(t, err)
}

func TestRedisStore_PopAllAlertsSkipsMalformed(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "checkup"})
	require.NoError(t, err)
	_, err = mr.Lpush(alertsKey("u1"), "{not json")
	require.NoError(t, err)

	alerts, err := s.PopAllAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "checkup", alerts[0].Reason)
}

func TestRedisStore_LastContactFailureDoesNotUndoAppend(t *testing.T) {
	var calls int
	_, s := setupTestRedis(t, WithLastContact(func(ctx context.Context, userID string) error {
		calls++
		return errors.New("profile db down")
	}))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.AppendRound(ctx, "u1", caresession.Round{Input: "hi", Output: "hello", RID: "r1"}))
	assert.Equal(t, 1, calls)

	n, err := s.HistoryLen(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_ConcurrentAcquireOneWinner(t *testing.T) {
	_, s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AcquireUtterance(ctx, "u1", "a1")
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for ok := range wins {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
