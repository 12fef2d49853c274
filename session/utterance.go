package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creastat/caresession"
)

// UtteranceStatus tells the caller what Handle did with a fragment.
type UtteranceStatus string

const (
	// UtteranceAck means a partial fragment was buffered.
	UtteranceAck UtteranceStatus = "ack"
	// UtteranceReplied means this call won the lock, processed the merged
	// utterance, and Reply carries the fresh result.
	UtteranceReplied UtteranceStatus = "replied"
	// UtteranceCached means another call already finished; Reply carries
	// its cached result.
	UtteranceCached UtteranceStatus = "cached"
	// UtterancePending means another call holds the lock and no result is
	// cached yet.
	UtterancePending UtteranceStatus = "pending"
)

// UtteranceResult is the outcome of handling one fragment.
type UtteranceResult struct {
	Status UtteranceStatus
	Reply  string
}

// UtteranceHandler assembles streamed transcript fragments into whole
// utterances and guarantees each utterance is processed exactly once, no
// matter how many duplicate final fragments arrive.
type UtteranceHandler struct {
	store  Store
	logger *zap.Logger
}

// NewUtteranceHandler creates a handler over the given store.
func NewUtteranceHandler(store Store, logger *zap.Logger) (*UtteranceHandler, error) {
	if store == nil {
		return nil, caresession.ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UtteranceHandler{store: store, logger: logger}, nil
}

// Handle processes one fragment of an utterance. Partial fragments are
// buffered and acknowledged. The final fragment races for the utterance
// lock: the winner drains the buffer, merges it with the final text, runs
// process, and caches the reply; losers get the cached reply or a pending
// status. The lock is released on every exit path, including process
// failures, so late duplicates never block.
func (h *UtteranceHandler) Handle(ctx context.Context, userID, audioID, text string, final bool, process ProcessFunc) (UtteranceResult, error) {
	if !final {
		if err := h.store.AppendAudioSegment(ctx, userID, audioID, text); err != nil {
			return UtteranceResult{}, fmt.Errorf("buffer segment: %w", err)
		}
		return UtteranceResult{Status: UtteranceAck}, nil
	}

	acquired, err := h.store.AcquireUtterance(ctx, userID, audioID)
	if err != nil {
		return UtteranceResult{}, fmt.Errorf("acquire utterance: %w", err)
	}
	if !acquired {
		reply, found, err := h.store.AudioResult(ctx, userID, audioID)
		if err != nil {
			return UtteranceResult{}, fmt.Errorf("read cached result: %w", err)
		}
		if found {
			return UtteranceResult{Status: UtteranceCached, Reply: reply}, nil
		}
		return UtteranceResult{Status: UtterancePending}, nil
	}

	defer func() {
		if err := h.store.ReleaseUtterance(ctx, userID, audioID); err != nil {
			h.logger.Warn("utterance release failed",
				zap.String("user_id", userID), zap.String("audio_id", audioID),
				zap.Error(err))
		}
	}()

	buffered, err := h.store.DrainAudioSegments(ctx, userID, audioID)
	if err != nil {
		return UtteranceResult{}, fmt.Errorf("drain segments: %w", err)
	}
	merged := mergeUtterance(buffered, text)

	reply, err := process(ctx, merged)
	if err != nil {
		return UtteranceResult{}, fmt.Errorf("process utterance: %w", err)
	}

	if err := h.store.SetAudioResult(ctx, userID, audioID, reply); err != nil {
		h.logger.Warn("result cache write failed",
			zap.String("user_id", userID), zap.String("audio_id", audioID),
			zap.Error(err))
	}
	return UtteranceResult{Status: UtteranceReplied, Reply: reply}, nil
}

// mergeUtterance joins the buffered fragments with the final fragment,
// buffer first, separated by a single space.
func mergeUtterance(buffered, final string) string {
	final = strings.TrimSpace(final)
	if buffered == "" {
		return final
	}
	if final == "" {
		return buffered
	}
	return buffered + " " + final
}
