package session

import (
	"context"

	"github.com/creastat/caresession"
)

// Store defines the storage operations of the session core. The backing
// store is the sole synchronization point: concurrent handlers for the same
// user coordinate only through the CAS and atomic operations below, never
// through in-process locks.
type Store interface {
	// AppendRound pushes a round to the tail of the user's history, sets
	// the session state to ACTIVE only if no state exists yet, refreshes
	// the TTL on all session keys (best effort), and then invokes the
	// last-contact callback if one is configured. The append completes
	// before the callback runs; a callback failure never undoes the append.
	AppendRound(ctx context.Context, userID string, r caresession.Round) error

	// AppendProactiveRound pushes a bot-initiated round without touching
	// session state, TTLs, or the last-contact callback, so proactive
	// greetings do not reset the user's idle timer.
	AppendProactiveRound(ctx context.Context, userID string, r caresession.Round) error

	// HistoryLen returns the number of rounds in the user's history.
	HistoryLen(ctx context.Context, userID string) (int64, error)

	// FetchAll returns the full history in append order.
	FetchAll(ctx context.Context, userID string) ([]caresession.Round, error)

	// FetchUnsummarizedTail returns at most k of the newest rounds past the
	// summary cursor. Concurrent appenders may make a later call return
	// more rounds than an earlier one; no snapshot isolation is promised.
	FetchUnsummarizedTail(ctx context.Context, userID string, k int) ([]caresession.Round, error)

	// Summary returns the running summary text and the cursor (the number
	// of rounds already folded into the text).
	Summary(ctx context.Context, userID string) (string, int64, error)

	// PeekNextChunk returns the cursor and exactly n unsummarized rounds
	// starting at it. ok is false when fewer than n are available. The peek
	// commits nothing and is safe to call speculatively.
	PeekNextChunk(ctx context.Context, userID string, n int) (cursor int64, rounds []caresession.Round, ok bool, err error)

	// PeekRemainder returns the cursor and all unsummarized rounds, with
	// rounds empty when the cursor has caught up.
	PeekRemainder(ctx context.Context, userID string) (cursor int64, rounds []caresession.Round, err error)

	// CommitChunk appends text to the running summary and advances the
	// cursor by advanceBy, iff the current cursor still equals
	// expectedCursor. A single attempt is made: committed is false when the
	// cursor moved or the watch was invalidated, and the caller must
	// re-peek with fresh data rather than retry with stale text.
	CommitChunk(ctx context.Context, userID string, expectedCursor int64, advanceBy int, text string) (committed bool, err error)

	// GetState returns the session lifecycle state, StateNone when absent.
	GetState(ctx context.Context, userID string) (caresession.State, error)

	// SetStateIf sets the state to `to` iff the current state equals
	// `expect`. An empty expect matches both an absent key and an empty
	// value. A single attempt is made; ok is false on mismatch or conflict.
	SetStateIf(ctx context.Context, userID string, expect, to caresession.State) (ok bool, err error)

	// TryRegisterRequest registers a request id with a TTL. Only the first
	// caller for a given (user, request) within the TTL window gets true;
	// everyone else must skip reprocessing.
	TryRegisterRequest(ctx context.Context, userID, requestID string) (bool, error)

	// AppendAudioSegment buffers a partial transcript fragment for an
	// utterance. The buffer expires on its own.
	AppendAudioSegment(ctx context.Context, userID, audioID, segment string) error

	// DrainAudioSegments atomically reads and deletes the utterance buffer,
	// returning the fragments trimmed and joined by single spaces. No
	// fragment is ever returned by two drains.
	DrainAudioSegments(ctx context.Context, userID, audioID string) (string, error)

	// AudioResult returns the cached reply for an utterance, found=false
	// when none has been written.
	AudioResult(ctx context.Context, userID, audioID string) (reply string, found bool, err error)

	// SetAudioResult caches the reply for an utterance with a TTL.
	SetAudioResult(ctx context.Context, userID, audioID, reply string) error

	// AcquireUtterance attempts the unset -> PROCESSING transition of the
	// utterance lock. Only the first caller per utterance gets true.
	AcquireUtterance(ctx context.Context, userID, audioID string) (bool, error)

	// ReleaseUtterance sets the utterance lock to FINALIZED unconditionally.
	// It must be called on every exit path of final-fragment processing.
	ReleaseUtterance(ctx context.Context, userID, audioID string) error

	// UtteranceState returns the lock state, LockNone when unset.
	UtteranceState(ctx context.Context, userID, audioID string) (caresession.LockState, error)

	// AddAlert appends an alert to the global stream (creating the stream
	// and its consumer group idempotently) and mirrors it into the user's
	// snapshot list. Returns the stream entry id.
	AddAlert(ctx context.Context, a caresession.Alert) (string, error)

	// PopAllAlerts atomically reads and clears the user's snapshot list.
	// The global stream entries are untouched.
	PopAllAlerts(ctx context.Context, userID string) ([]caresession.Alert, error)

	// PurgeSession deletes all session-scoped keys in one batch and returns
	// the number of keys actually removed. Purging a missing session
	// returns 0; purge is idempotent.
	PurgeSession(ctx context.Context, userID string) (int64, error)

	// Close closes the store and releases any resources.
	Close() error
}

// SummarizeFunc condenses a chunk transcript into summary text. The LLM
// call behind it is outside the core.
type SummarizeFunc func(ctx context.Context, transcript string) (string, error)

// RefineFunc condenses a full session transcript into a compact
// profile-level note at session end.
type RefineFunc func(ctx context.Context, transcript string) (string, error)

// PersistNoteFunc stores a refined note in long-term memory.
type PersistNoteFunc func(ctx context.Context, userID, note string) error

// ContactFunc records that the user was just heard from, e.g. updating a
// last-contact timestamp in the profile database.
type ContactFunc func(ctx context.Context, userID string) error

// ProcessFunc turns a merged utterance transcript into a reply.
type ProcessFunc func(ctx context.Context, text string) (string, error)
