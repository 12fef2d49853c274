package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/creastat/caresession"
)

// redisStore implements Store on Redis. Lists hold history, fragments and
// alert snapshots; WATCH/MULTI/EXEC guards the summary cursor and the
// CAS-set states; SETNX backs the idempotency gate and the ACTIVE marker;
// a stream with a consumer group carries the global alert feed.
type redisStore struct {
	client      redis.UniversalClient
	ttl         time.Duration
	audioBufTTL time.Duration
	resultTTL   time.Duration
	dedupTTL    time.Duration
	streamKey   string
	streamGroup string
	lastContact ContactFunc
	logger      *zap.Logger
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{
		client:      cfg.redisClient,
		ttl:         cfg.ttl,
		audioBufTTL: cfg.audioBufTTL,
		resultTTL:   cfg.resultTTL,
		dedupTTL:    cfg.dedupTTL,
		streamKey:   cfg.streamKey,
		streamGroup: cfg.streamGroup,
		lastContact: cfg.lastContact,
		logger:      cfg.logger,
	}
}

// touchTTL resets the expiry of the given keys. Fire-and-forget: failures
// are logged and never abort the caller's primary operation.
func (s *redisStore) touchTTL(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.PExpire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("ttl refresh failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// casSet sets key to a new value iff its current value equals expect.
// An absent key and an empty value are the same unset precondition.
// One attempt only: a watch conflict reports false instead of spinning.
func (s *redisStore) casSet(ctx context.Context, key, expect, to string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			cur = ""
		} else if err != nil {
			return err
		}
		if expect == "" {
			if cur != "" {
				return nil
			}
		} else if cur != expect {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, to, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		ok = true
		return nil
	}, key)
	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// cursor reads the summary cursor, 0 when unset.
func (s *redisStore) cursor(ctx context.Context, userID string) (int64, error) {
	val, err := s.client.Get(ctx, summaryCursorKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func decodeRounds(items []string) ([]caresession.Round, error) {
	rounds := make([]caresession.Round, 0, len(items))
	for _, raw := range items {
		var r caresession.Round
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

// AppendRound implements Store.
func (s *redisStore) AppendRound(ctx context.Context, userID string, r caresession.Round) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(userID), payload).Err(); err != nil {
		return fmt.Errorf("append round: %w", err)
	}
	// ACTIVE only if no state exists; never overrides FINALIZING/FINALIZED.
	if err := s.client.SetNX(ctx, stateKey(userID), string(caresession.StateActive), 0).Err(); err != nil {
		return fmt.Errorf("ensure active state: %w", err)
	}
	s.touchTTL(ctx, sessionKeys(userID)...)
	if s.lastContact != nil {
		if err := s.lastContact(ctx, userID); err != nil {
			s.logger.Warn("last-contact update failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// AppendProactiveRound implements Store. No state touch, no TTL refresh, no
// last-contact update: the idle timer keeps running.
func (s *redisStore) AppendProactiveRound(ctx context.Context, userID string, r caresession.Round) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(userID), payload).Err(); err != nil {
		return fmt.Errorf("append proactive round: %w", err)
	}
	return nil
}

// HistoryLen implements Store.
func (s *redisStore) HistoryLen(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.LLen(ctx, historyKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("history len: %w", err)
	}
	return n, nil
}

// FetchAll implements Store.
func (s *redisStore) FetchAll(ctx context.Context, userID string) ([]caresession.Round, error) {
	items, err := s.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return decodeRounds(items)
}

// FetchUnsummarizedTail implements Store.
func (s *redisStore) FetchUnsummarizedTail(ctx context.Context, userID string, k int) ([]caresession.Round, error) {
	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	items, err := s.client.LRange(ctx, historyKey(userID), cursor, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch tail: %w", err)
	}
	if k > 0 && len(items) > k {
		items = items[len(items)-k:]
	}
	return decodeRounds(items)
}

// Summary implements Store.
func (s *redisStore) Summary(ctx context.Context, userID string) (string, int64, error) {
	text, err := s.client.Get(ctx, summaryTextKey(userID)).Result()
	if err == redis.Nil {
		text = ""
	} else if err != nil {
		return "", 0, fmt.Errorf("read summary: %w", err)
	}
	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		return "", 0, fmt.Errorf("read cursor: %w", err)
	}
	return text, cursor, nil
}

// PeekNextChunk implements Store.
func (s *redisStore) PeekNextChunk(ctx context.Context, userID string, n int) (int64, []caresession.Round, bool, error) {
	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		return 0, nil, false, fmt.Errorf("read cursor: %w", err)
	}
	total, err := s.client.LLen(ctx, historyKey(userID)).Result()
	if err != nil {
		return 0, nil, false, fmt.Errorf("history len: %w", err)
	}
	if total-cursor < int64(n) {
		return 0, nil, false, nil
	}
	items, err := s.client.LRange(ctx, historyKey(userID), cursor, cursor+int64(n)-1).Result()
	if err != nil {
		return 0, nil, false, fmt.Errorf("peek chunk: %w", err)
	}
	rounds, err := decodeRounds(items)
	if err != nil {
		return 0, nil, false, err
	}
	return cursor, rounds, true, nil
}

// PeekRemainder implements Store.
func (s *redisStore) PeekRemainder(ctx context.Context, userID string) (int64, []caresession.Round, error) {
	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("read cursor: %w", err)
	}
	total, err := s.client.LLen(ctx, historyKey(userID)).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("history len: %w", err)
	}
	if total <= cursor {
		return cursor, nil, nil
	}
	items, err := s.client.LRange(ctx, historyKey(userID), cursor, total-1).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("peek remainder: %w", err)
	}
	rounds, err := decodeRounds(items)
	if err != nil {
		return 0, nil, err
	}
	return cursor, rounds, nil
}

// CommitChunk implements Store.
// WATCH both summary keys; the commit applies only while the cursor still
// equals expectedCursor. A watch conflict is a definitive false, the caller
// re-peeks instead of retrying with stale text.
func (s *redisStore) CommitChunk(ctx context.Context, userID string, expectedCursor int64, advanceBy int, text string) (bool, error) {
	ckey := summaryCursorKey(userID)
	tkey := summaryTextKey(userID)
	var stale bool
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, ckey).Result()
		cur := int64(0)
		if err == nil {
			if cur, err = strconv.ParseInt(val, 10, 64); err != nil {
				return fmt.Errorf("parse cursor: %w", err)
			}
		} else if err != redis.Nil {
			return err
		}
		if cur != expectedCursor {
			stale = true
			return nil
		}
		old, err := tx.Get(ctx, tkey).Result()
		if err == redis.Nil {
			old = ""
		} else if err != nil {
			return err
		}
		merged := old
		if add := strings.TrimSpace(text); add != "" {
			if merged != "" {
				merged += "\n\n"
			}
			merged += add
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tkey, merged, s.ttl)
			pipe.Set(ctx, ckey, strconv.FormatInt(cur+int64(advanceBy), 10), s.ttl)
			return nil
		})
		return err
	}, ckey, tkey)
	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("commit chunk: %w", err)
	}
	return !stale, nil
}

// GetState implements Store.
func (s *redisStore) GetState(ctx context.Context, userID string) (caresession.State, error) {
	val, err := s.client.Get(ctx, stateKey(userID)).Result()
	if err == redis.Nil {
		return caresession.StateNone, nil
	}
	if err != nil {
		return caresession.StateNone, fmt.Errorf("read state: %w", err)
	}
	return caresession.State(val), nil
}

// SetStateIf implements Store.
func (s *redisStore) SetStateIf(ctx context.Context, userID string, expect, to caresession.State) (bool, error) {
	ok, err := s.casSet(ctx, stateKey(userID), string(expect), string(to), s.ttl)
	if err != nil {
		return false, fmt.Errorf("set state: %w", err)
	}
	return ok, nil
}

// TryRegisterRequest implements Store.
func (s *redisStore) TryRegisterRequest(ctx context.Context, userID, requestID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, processedKey(userID, requestID), "1", s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("register request: %w", err)
	}
	return ok, nil
}

// AppendAudioSegment implements Store.
func (s *redisStore) AppendAudioSegment(ctx context.Context, userID, audioID, segment string) error {
	key := audioBufKey(userID, audioID)
	if err := s.client.RPush(ctx, key, segment).Err(); err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.audioBufTTL).Err(); err != nil {
		return fmt.Errorf("expire segment buffer: %w", err)
	}
	return nil
}

// DrainAudioSegments implements Store.
func (s *redisStore) DrainAudioSegments(ctx context.Context, userID, audioID string) (string, error) {
	key := audioBufKey(userID, audioID)
	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("drain segments: %w", err)
	}
	return joinSegments(lrange.Val()), nil
}

func joinSegments(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// AudioResult implements Store.
func (s *redisStore) AudioResult(ctx context.Context, userID, audioID string) (string, bool, error) {
	val, err := s.client.Get(ctx, audioResultKey(userID, audioID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read audio result: %w", err)
	}
	return val, true, nil
}

// SetAudioResult implements Store.
func (s *redisStore) SetAudioResult(ctx context.Context, userID, audioID, reply string) error {
	if err := s.client.Set(ctx, audioResultKey(userID, audioID), reply, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("cache audio result: %w", err)
	}
	return nil
}

// AcquireUtterance implements Store.
func (s *redisStore) AcquireUtterance(ctx context.Context, userID, audioID string) (bool, error) {
	ok, err := s.casSet(ctx, audioLockKey(userID, audioID), "", string(caresession.LockProcessing), s.resultTTL)
	if err != nil {
		return false, fmt.Errorf("acquire utterance: %w", err)
	}
	return ok, nil
}

// ReleaseUtterance implements Store.
func (s *redisStore) ReleaseUtterance(ctx context.Context, userID, audioID string) error {
	if err := s.client.Set(ctx, audioLockKey(userID, audioID), string(caresession.LockFinalized), s.resultTTL).Err(); err != nil {
		return fmt.Errorf("release utterance: %w", err)
	}
	return nil
}

// UtteranceState implements Store.
func (s *redisStore) UtteranceState(ctx context.Context, userID, audioID string) (caresession.LockState, error) {
	val, err := s.client.Get(ctx, audioLockKey(userID, audioID)).Result()
	if err == redis.Nil {
		return caresession.LockNone, nil
	}
	if err != nil {
		return caresession.LockNone, fmt.Errorf("read utterance lock: %w", err)
	}
	return caresession.LockState(val), nil
}

// ensureAlertGroup creates the stream and consumer group if missing.
// BUSYGROUP means another writer got there first, which is fine.
func (s *redisStore) ensureAlertGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.streamKey, s.streamGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// AddAlert implements Store.
func (s *redisStore) AddAlert(ctx context.Context, a caresession.Alert) (string, error) {
	if err := s.ensureAlertGroup(ctx); err != nil {
		return "", fmt.Errorf("ensure alert group: %w", err)
	}
	if a.Severity == "" {
		a.Severity = "info"
	}
	if a.TS == 0 {
		a.TS = time.Now().UnixMilli()
	}
	values := map[string]interface{}{
		"user_id":  a.UserID,
		"reason":   a.Reason,
		"severity": a.Severity,
		"ts":       a.TSString(),
	}
	if len(a.Extra) > 0 {
		extra, err := json.Marshal(a.Extra)
		if err != nil {
			return "", fmt.Errorf("encode alert extra: %w", err)
		}
		values["extra"] = string(extra)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.streamKey, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("add alert: %w", err)
	}
	snapshot, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode alert: %w", err)
	}
	if err := s.client.RPush(ctx, alertsKey(a.UserID), snapshot).Err(); err != nil {
		return "", fmt.Errorf("snapshot alert: %w", err)
	}
	s.touchTTL(ctx, alertsKey(a.UserID))
	return id, nil
}

// PopAllAlerts implements Store.
func (s *redisStore) PopAllAlerts(ctx context.Context, userID string) ([]caresession.Alert, error) {
	key := alertsKey(userID)
	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop alerts: %w", err)
	}
	items := lrange.Val()
	alerts := make([]caresession.Alert, 0, len(items))
	for _, raw := range items {
		var a caresession.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// PurgeSession implements Store.
func (s *redisStore) PurgeSession(ctx context.Context, userID string) (int64, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, 5)
	for _, k := range sessionKeys(userID) {
		cmds = append(cmds, pipe.Del(ctx, k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge session: %w", err)
	}
	var removed int64
	for _, cmd := range cmds {
		removed += cmd.Val()
	}
	return removed, nil
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}

// Compile-time check that redisStore implements Store.
var _ Store = (*redisStore)(nil)
