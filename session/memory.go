package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/caresession"
)

// memorySession mirrors the per-user Redis key set. The *Set flags track
// whether the summary keys exist, so purge can report how many keys it
// actually removed.
type memorySession struct {
	history     []caresession.Round
	summaryText string
	summarySet  bool
	cursor      int64
	cursorSet   bool
	alerts      []caresession.Alert
	state       caresession.State
}

func (m *memorySession) keyCount() int64 {
	var n int64
	if len(m.history) > 0 {
		n++
	}
	if m.summarySet {
		n++
	}
	if m.cursorSet {
		n++
	}
	if len(m.alerts) > 0 {
		n++
	}
	if m.state != caresession.StateNone {
		n++
	}
	return n
}

type expiringString struct {
	value     string
	expiresAt time.Time
}

type expiringList struct {
	values    []string
	expiresAt time.Time
}

// memoryStore implements Store with mutex-guarded maps. Semantics match the
// Redis driver exactly, including the empty-vs-absent conflation of the
// CAS setters and lazy TTL expiry of markers, buffers and results.
type memoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*memorySession
	processed   map[string]time.Time
	audioBufs   map[string]*expiringList
	audioLocks  map[string]*expiringString
	results     map[string]*expiringString
	stream      []caresession.Alert
	streamSeq   int64
	ttl         time.Duration
	audioBufTTL time.Duration
	resultTTL   time.Duration
	dedupTTL    time.Duration
	lastContact ContactFunc
	logger      *zap.Logger
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		sessions:    make(map[string]*memorySession),
		processed:   make(map[string]time.Time),
		audioBufs:   make(map[string]*expiringList),
		audioLocks:  make(map[string]*expiringString),
		results:     make(map[string]*expiringString),
		ttl:         cfg.ttl,
		audioBufTTL: cfg.audioBufTTL,
		resultTTL:   cfg.resultTTL,
		dedupTTL:    cfg.dedupTTL,
		lastContact: cfg.lastContact,
		logger:      cfg.logger,
	}
}

func (s *memoryStore) session(userID string) *memorySession {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &memorySession{}
		s.sessions[userID] = sess
	}
	return sess
}

// AppendRound implements Store.
func (s *memoryStore) AppendRound(ctx context.Context, userID string, r caresession.Round) error {
	s.mu.Lock()
	sess := s.session(userID)
	sess.history = append(sess.history, r)
	if sess.state == caresession.StateNone {
		sess.state = caresession.StateActive
	}
	s.mu.Unlock()

	if s.lastContact != nil {
		if err := s.lastContact(ctx, userID); err != nil {
			s.logger.Warn("last-contact update failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// AppendProactiveRound implements Store.
func (s *memoryStore) AppendProactiveRound(ctx context.Context, userID string, r caresession.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(userID)
	sess.history = append(sess.history, r)
	return nil
}

// HistoryLen implements Store.
func (s *memoryStore) HistoryLen(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return int64(len(sess.history)), nil
	}
	return 0, nil
}

// FetchAll implements Store.
func (s *memoryStore) FetchAll(ctx context.Context, userID string) ([]caresession.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	out := make([]caresession.Round, len(sess.history))
	copy(out, sess.history)
	return out, nil
}

// FetchUnsummarizedTail implements Store.
func (s *memoryStore) FetchUnsummarizedTail(ctx context.Context, userID string, k int) ([]caresession.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if sess.cursor >= int64(len(sess.history)) {
		return nil, nil
	}
	tail := sess.history[sess.cursor:]
	if k > 0 && len(tail) > k {
		tail = tail[len(tail)-k:]
	}
	out := make([]caresession.Round, len(tail))
	copy(out, tail)
	return out, nil
}

// Summary implements Store.
func (s *memoryStore) Summary(ctx context.Context, userID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess.summaryText, sess.cursor, nil
	}
	return "", 0, nil
}

// PeekNextChunk implements Store.
func (s *memoryStore) PeekNextChunk(ctx context.Context, userID string, n int) (int64, []caresession.Round, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || int64(len(sess.history))-sess.cursor < int64(n) {
		return 0, nil, false, nil
	}
	out := make([]caresession.Round, n)
	copy(out, sess.history[sess.cursor:sess.cursor+int64(n)])
	return sess.cursor, out, true, nil
}

// PeekRemainder implements Store.
func (s *memoryStore) PeekRemainder(ctx context.Context, userID string) (int64, []caresession.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return 0, nil, nil
	}
	if int64(len(sess.history)) <= sess.cursor {
		return sess.cursor, nil, nil
	}
	out := make([]caresession.Round, int64(len(sess.history))-sess.cursor)
	copy(out, sess.history[sess.cursor:])
	return sess.cursor, out, nil
}

// CommitChunk implements Store.
func (s *memoryStore) CommitChunk(ctx context.Context, userID string, expectedCursor int64, advanceBy int, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(userID)
	if sess.cursor != expectedCursor {
		return false, nil
	}
	if add := strings.TrimSpace(text); add != "" {
		if sess.summaryText != "" {
			sess.summaryText += "\n\n"
		}
		sess.summaryText += add
	}
	sess.summarySet = true
	sess.cursor += int64(advanceBy)
	sess.cursorSet = true
	return true, nil
}

// GetState implements Store.
func (s *memoryStore) GetState(ctx context.Context, userID string) (caresession.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess.state, nil
	}
	return caresession.StateNone, nil
}

// SetStateIf implements Store.
func (s *memoryStore) SetStateIf(ctx context.Context, userID string, expect, to caresession.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(userID)
	if expect == caresession.StateNone {
		if sess.state != caresession.StateNone {
			return false, nil
		}
	} else if sess.state != expect {
		return false, nil
	}
	sess.state = to
	return true, nil
}

// TryRegisterRequest implements Store.
func (s *memoryStore) TryRegisterRequest(ctx context.Context, userID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := processedKey(userID, requestID)
	if exp, ok := s.processed[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	s.processed[key] = time.Now().Add(s.dedupTTL)
	return true, nil
}

// AppendAudioSegment implements Store.
func (s *memoryStore) AppendAudioSegment(ctx context.Context, userID, audioID, segment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := audioBufKey(userID, audioID)
	buf, ok := s.audioBufs[key]
	if !ok || time.Now().After(buf.expiresAt) {
		buf = &expiringList{}
		s.audioBufs[key] = buf
	}
	buf.values = append(buf.values, segment)
	buf.expiresAt = time.Now().Add(s.audioBufTTL)
	return nil
}

// DrainAudioSegments implements Store.
func (s *memoryStore) DrainAudioSegments(ctx context.Context, userID, audioID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := audioBufKey(userID, audioID)
	buf, ok := s.audioBufs[key]
	delete(s.audioBufs, key)
	if !ok || time.Now().After(buf.expiresAt) {
		return "", nil
	}
	return joinSegments(buf.values), nil
}

// AudioResult implements Store.
func (s *memoryStore) AudioResult(ctx context.Context, userID, audioID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.results[audioResultKey(userID, audioID)]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// SetAudioResult implements Store.
func (s *memoryStore) SetAudioResult(ctx context.Context, userID, audioID, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[audioResultKey(userID, audioID)] = &expiringString{
		value:     reply,
		expiresAt: time.Now().Add(s.resultTTL),
	}
	return nil
}

// AcquireUtterance implements Store.
func (s *memoryStore) AcquireUtterance(ctx context.Context, userID, audioID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := audioLockKey(userID, audioID)
	if entry, ok := s.audioLocks[key]; ok && time.Now().Before(entry.expiresAt) && entry.value != "" {
		return false, nil
	}
	s.audioLocks[key] = &expiringString{
		value:     string(caresession.LockProcessing),
		expiresAt: time.Now().Add(s.resultTTL),
	}
	return true, nil
}

// ReleaseUtterance implements Store.
func (s *memoryStore) ReleaseUtterance(ctx context.Context, userID, audioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audioLocks[audioLockKey(userID, audioID)] = &expiringString{
		value:     string(caresession.LockFinalized),
		expiresAt: time.Now().Add(s.resultTTL),
	}
	return nil
}

// UtteranceState implements Store.
func (s *memoryStore) UtteranceState(ctx context.Context, userID, audioID string) (caresession.LockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.audioLocks[audioLockKey(userID, audioID)]
	if !ok || time.Now().After(entry.expiresAt) {
		return caresession.LockNone, nil
	}
	return caresession.LockState(entry.value), nil
}

// AddAlert implements Store.
func (s *memoryStore) AddAlert(ctx context.Context, a caresession.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Severity == "" {
		a.Severity = "info"
	}
	if a.TS == 0 {
		a.TS = time.Now().UnixMilli()
	}
	s.stream = append(s.stream, a)
	s.streamSeq++
	sess := s.session(a.UserID)
	sess.alerts = append(sess.alerts, a)
	return strconv.FormatInt(a.TS, 10) + "-" + strconv.FormatInt(s.streamSeq, 10), nil
}

// PopAllAlerts implements Store.
func (s *memoryStore) PopAllAlerts(ctx context.Context, userID string) ([]caresession.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || len(sess.alerts) == 0 {
		return nil, nil
	}
	out := sess.alerts
	sess.alerts = nil
	return out, nil
}

// PurgeSession implements Store.
func (s *memoryStore) PurgeSession(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return 0, nil
	}
	removed := sess.keyCount()
	delete(s.sessions, userID)
	return removed, nil
}

// Close implements Store.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.processed = nil
	s.audioBufs = nil
	s.audioLocks = nil
	s.results = nil
	s.stream = nil
	return nil
}

// Compile-time check that memoryStore implements Store.
var _ Store = (*memoryStore)(nil)
