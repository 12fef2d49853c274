package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/caresession"
)

// DefaultChunkSize is the number of rounds folded into the summary per
// commit.
const DefaultChunkSize = 5

// DefaultRefineTokenLimit caps the transcript handed to the refiner at
// session end.
const DefaultRefineTokenLimit = 6000

// Coordinator drives incremental summarization over a Store. Summarization
// is peek -> external call -> CAS commit: the store is never locked while the
// summarizer runs, and a lost commit race drops the stale text instead of
// retrying with it.
type Coordinator struct {
	store            Store
	summarize        SummarizeFunc
	refine           RefineFunc
	persistNote      PersistNoteFunc
	chunkSize        int
	dedupWindow      time.Duration
	refineTokenLimit int
	logger           *zap.Logger
}

// CoordinatorOption is a functional option for configuring a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithChunkSize sets the number of rounds summarized per commit.
func WithChunkSize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithDedupWindow sets the time bucket width for derived request IDs.
func WithDedupWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.dedupWindow = d
		}
	}
}

// WithRefiner installs the session-end refiner and the long-term note
// writer. Without one, Finalize flushes and purges but persists nothing.
func WithRefiner(refine RefineFunc, persist PersistNoteFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.refine = refine
		c.persistNote = persist
	}
}

// WithRefineTokenLimit caps the transcript handed to the refiner.
func WithRefineTokenLimit(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.refineTokenLimit = n
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a Coordinator over the given store and summarizer.
func NewCoordinator(store Store, summarize SummarizeFunc, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil || summarize == nil {
		return nil, caresession.ErrInvalidConfig
	}
	c := &Coordinator{
		store:            store,
		summarize:        summarize,
		chunkSize:        DefaultChunkSize,
		dedupWindow:      DefaultDedupWindow,
		refineTokenLimit: DefaultRefineTokenLimit,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RecordRound gates the round through the request-id filter, appends it, and
// opportunistically summarizes. Returns false when the round was a duplicate
// inside the dedup window and nothing was appended. A summarization failure
// is logged, not returned: the round is already durable.
func (c *Coordinator) RecordRound(ctx context.Context, userID, input, output string) (bool, error) {
	rid := MakeRequestID(userID, input, time.Now().UnixMilli(), c.dedupWindow)
	fresh, err := c.store.TryRegisterRequest(ctx, userID, rid)
	if err != nil {
		return false, fmt.Errorf("register request: %w", err)
	}
	if !fresh {
		c.logger.Debug("duplicate request dropped",
			zap.String("user_id", userID), zap.String("request_id", rid))
		return false, nil
	}

	r := caresession.Round{Input: input, Output: output, RID: rid}
	if err := c.store.AppendRound(ctx, userID, r); err != nil {
		return false, fmt.Errorf("append round: %w", err)
	}

	if _, err := c.MaybeSummarize(ctx, userID); err != nil {
		c.logger.Warn("opportunistic summarize failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return true, nil
}

// RecordProactiveRound appends a bot-initiated greeting round without the
// request gate, state transition, or last-contact side effects.
func (c *Coordinator) RecordProactiveRound(ctx context.Context, userID, message string) error {
	return c.store.AppendProactiveRound(ctx, userID, caresession.NewProactiveRound(message))
}

// MaybeSummarize folds the next full chunk into the running summary if one
// is available. Returns whether a chunk was committed. A commit lost to a
// concurrent committer is not an error; the stale text is dropped.
func (c *Coordinator) MaybeSummarize(ctx context.Context, userID string) (bool, error) {
	cursor, rounds, ok, err := c.store.PeekNextChunk(ctx, userID, c.chunkSize)
	if err != nil {
		return false, fmt.Errorf("peek chunk: %w", err)
	}
	if !ok {
		return false, nil
	}
	return c.summarizeAndCommit(ctx, userID, cursor, rounds)
}

// Flush folds any remaining unsummarized rounds, full chunk or not, into the
// summary. One re-peek is attempted after a lost commit race; a second loss
// leaves the tail for the next flush.
func (c *Coordinator) Flush(ctx context.Context, userID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		cursor, rounds, err := c.store.PeekRemainder(ctx, userID)
		if err != nil {
			return fmt.Errorf("peek remainder: %w", err)
		}
		if len(rounds) == 0 {
			return nil
		}
		committed, err := c.summarizeAndCommit(ctx, userID, cursor, rounds)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	c.logger.Warn("flush lost commit race twice, leaving tail",
		zap.String("user_id", userID))
	return nil
}

// Finalize ends the session: it moves the state ACTIVE -> FINALIZING (only
// one caller wins; everyone else gets ErrNotActive), flushes the summary,
// refines the full transcript into a long-term note, marks the state
// FINALIZED, and purges the session keys.
func (c *Coordinator) Finalize(ctx context.Context, userID string) error {
	ok, err := c.store.SetStateIf(ctx, userID, caresession.StateActive, caresession.StateFinalizing)
	if err != nil {
		return fmt.Errorf("mark finalizing: %w", err)
	}
	if !ok {
		return caresession.ErrNotActive
	}

	if err := c.Flush(ctx, userID); err != nil {
		c.logger.Warn("final flush failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	if c.refine != nil {
		if err := c.refineAndPersist(ctx, userID); err != nil {
			c.logger.Warn("refine failed, session note lost",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if ok, err := c.store.SetStateIf(ctx, userID, caresession.StateFinalizing, caresession.StateFinalized); err != nil || !ok {
		c.logger.Warn("mark finalized failed",
			zap.String("user_id", userID), zap.Bool("ok", ok), zap.Error(err))
	}

	if _, err := c.store.PurgeSession(ctx, userID); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

func (c *Coordinator) summarizeAndCommit(ctx context.Context, userID string, cursor int64, rounds []caresession.Round) (bool, error) {
	text, err := c.summarize(ctx, caresession.FormatRounds(rounds))
	if err != nil {
		return false, fmt.Errorf("summarize chunk: %w", err)
	}
	committed, err := c.store.CommitChunk(ctx, userID, cursor, len(rounds), text)
	if err != nil {
		return false, fmt.Errorf("commit chunk: %w", err)
	}
	if !committed {
		c.logger.Debug("summary commit lost race",
			zap.String("user_id", userID), zap.Int64("cursor", cursor))
	}
	return committed, nil
}

func (c *Coordinator) refineAndPersist(ctx context.Context, userID string) error {
	rounds, err := c.store.FetchAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if len(rounds) == 0 {
		return nil
	}
	rounds = caresession.TruncateRounds(rounds, c.refineTokenLimit, 0)
	note, err := c.refine(ctx, caresession.FormatRounds(rounds))
	if err != nil {
		return fmt.Errorf("refine transcript: %w", err)
	}
	if note == "" || c.persistNote == nil {
		return nil
	}
	if err := c.persistNote(ctx, userID, note); err != nil {
		return fmt.Errorf("persist note: %w", err)
	}
	return nil
}
