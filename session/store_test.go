package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/caresession"
)

// runStoreSuite exercises the Store contract shared by every driver.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	round := func(i int) caresession.Round {
		return caresession.Round{
			Input:  fmt.Sprintf("input %d", i),
			Output: fmt.Sprintf("output %d", i),
			RID:    fmt.Sprintf("rid-%d", i),
		}
	}

	t.Run("append and fetch history", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}

		n, err := s.HistoryLen(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		rounds, err := s.FetchAll(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, rounds, 3)
		assert.Equal(t, "input 0", rounds[0].Input)
		assert.Equal(t, "output 2", rounds[2].Output)
	})

	t.Run("first append activates session", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		state, err := s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateNone, state)

		require.NoError(t, s.AppendRound(ctx, "u1", round(0)))
		state, err = s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateActive, state)
	})

	t.Run("append never demotes finalizing state", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.AppendRound(ctx, "u1", round(0)))
		ok, err := s.SetStateIf(ctx, "u1", caresession.StateActive, caresession.StateFinalizing)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.AppendRound(ctx, "u1", round(1)))
		state, err := s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateFinalizing, state)
	})

	t.Run("proactive append leaves state and idle timer alone", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.AppendProactiveRound(ctx, "u1", caresession.NewProactiveRound("hello there")))

		state, err := s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateNone, state)

		rounds, err := s.FetchAll(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, rounds, 1)
		assert.True(t, rounds[0].IsProactive())
	})

	t.Run("set state if", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		// Expect-empty matches absent key.
		ok, err := s.SetStateIf(ctx, "u1", caresession.StateNone, caresession.StateActive)
		require.NoError(t, err)
		assert.True(t, ok)

		// Wrong expectation fails and changes nothing.
		ok, err = s.SetStateIf(ctx, "u1", caresession.StateFinalizing, caresession.StateFinalized)
		require.NoError(t, err)
		assert.False(t, ok)
		state, err := s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateActive, state)

		// Matching expectation transitions.
		ok, err = s.SetStateIf(ctx, "u1", caresession.StateActive, caresession.StateFinalizing)
		require.NoError(t, err)
		assert.True(t, ok)

		// Only one caller wins the same transition.
		ok, err = s.SetStateIf(ctx, "u1", caresession.StateActive, caresession.StateFinalizing)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("peek and commit chunks", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 7; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}

		// Not enough rounds for a chunk of 10.
		_, _, ok, err := s.PeekNextChunk(ctx, "u1", 10)
		require.NoError(t, err)
		assert.False(t, ok)

		cursor, rounds, ok, err := s.PeekNextChunk(ctx, "u1", 5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(0), cursor)
		require.Len(t, rounds, 5)
		assert.Equal(t, "input 0", rounds[0].Input)
		assert.Equal(t, "input 4", rounds[4].Input)

		committed, err := s.CommitChunk(ctx, "u1", cursor, 5, "first summary")
		require.NoError(t, err)
		assert.True(t, committed)

		text, cur, err := s.Summary(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "first summary", text)
		assert.Equal(t, int64(5), cur)

		// Remainder picks up past the cursor.
		cursor, tail, err := s.PeekRemainder(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), cursor)
		require.Len(t, tail, 2)
		assert.Equal(t, "input 5", tail[0].Input)
	})

	t.Run("commit with stale cursor is dropped", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}

		committed, err := s.CommitChunk(ctx, "u1", 0, 5, "winner")
		require.NoError(t, err)
		require.True(t, committed)

		committed, err = s.CommitChunk(ctx, "u1", 0, 5, "loser")
		require.NoError(t, err)
		assert.False(t, committed)

		text, cur, err := s.Summary(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "winner", text)
		assert.Equal(t, int64(5), cur)
	})

	t.Run("committed summaries join with blank line", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 10; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}

		committed, err := s.CommitChunk(ctx, "u1", 0, 5, "  part one \n")
		require.NoError(t, err)
		require.True(t, committed)
		committed, err = s.CommitChunk(ctx, "u1", 5, 5, "part two")
		require.NoError(t, err)
		require.True(t, committed)

		text, cur, err := s.Summary(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "part one\n\npart two", text)
		assert.Equal(t, int64(10), cur)
	})

	t.Run("blank summary text still advances cursor", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}

		committed, err := s.CommitChunk(ctx, "u1", 0, 5, "   ")
		require.NoError(t, err)
		require.True(t, committed)

		text, cur, err := s.Summary(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "", text)
		assert.Equal(t, int64(5), cur)
	})

	t.Run("unsummarized tail respects cursor and cap", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 8; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}
		committed, err := s.CommitChunk(ctx, "u1", 0, 5, "sum")
		require.NoError(t, err)
		require.True(t, committed)

		tail, err := s.FetchUnsummarizedTail(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, tail, 3)
		assert.Equal(t, "input 5", tail[0].Input)

		tail, err = s.FetchUnsummarizedTail(ctx, "u1", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "input 6", tail[0].Input)
	})

	t.Run("request gate admits only the first caller", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		ok, err := s.TryRegisterRequest(ctx, "u1", "r1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryRegisterRequest(ctx, "u1", "r1")
		require.NoError(t, err)
		assert.False(t, ok)

		// Different request and different user both pass.
		ok, err = s.TryRegisterRequest(ctx, "u1", "r2")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryRegisterRequest(ctx, "u2", "r1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("audio segments drain once", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.AppendAudioSegment(ctx, "u1", "a1", "  I feel "))
		require.NoError(t, s.AppendAudioSegment(ctx, "u1", "a1", "a bit"))
		require.NoError(t, s.AppendAudioSegment(ctx, "u1", "a1", ""))

		merged, err := s.DrainAudioSegments(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, "I feel a bit", merged)

		merged, err = s.DrainAudioSegments(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, "", merged)
	})

	t.Run("audio result cache", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, found, err := s.AudioResult(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.SetAudioResult(ctx, "u1", "a1", "take your medicine"))
		reply, found, err := s.AudioResult(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "take your medicine", reply)
	})

	t.Run("utterance lock is first writer wins", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		state, err := s.UtteranceState(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, caresession.LockNone, state)

		ok, err := s.AcquireUtterance(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AcquireUtterance(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.False(t, ok)

		state, err = s.UtteranceState(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, caresession.LockProcessing, state)

		require.NoError(t, s.ReleaseUtterance(ctx, "u1", "a1"))
		state, err = s.UtteranceState(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, caresession.LockFinalized, state)

		// FINALIZED stays claimed.
		ok, err = s.AcquireUtterance(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("alerts snapshot pops once", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		id, err := s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "fall detected", Severity: "critical"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		_, err = s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "low mood"})
		require.NoError(t, err)

		alerts, err := s.PopAllAlerts(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, alerts, 2)
		assert.Equal(t, "fall detected", alerts[0].Reason)
		assert.Equal(t, "critical", alerts[0].Severity)
		assert.Equal(t, "info", alerts[1].Severity)
		assert.NotZero(t, alerts[0].TS)

		alerts, err = s.PopAllAlerts(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})

	t.Run("purge removes all session keys", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendRound(ctx, "u1", round(i)))
		}
		committed, err := s.CommitChunk(ctx, "u1", 0, 5, "sum")
		require.NoError(t, err)
		require.True(t, committed)
		_, err = s.AddAlert(ctx, caresession.Alert{UserID: "u1", Reason: "checkup"})
		require.NoError(t, err)

		removed, err := s.PurgeSession(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), removed)

		n, err := s.HistoryLen(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
		state, err := s.GetState(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, caresession.StateNone, state)
		text, cur, err := s.Summary(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, text)
		assert.Zero(t, cur)

		// Purging again is a no-op.
		removed, err = s.PurgeSession(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
