package caresession

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ProactiveInput is the sentinel input marker for rounds the bot initiated
// itself (proactive care greetings) rather than in reply to the user.
const ProactiveInput = "[PROACTIVE_GREETING]"

// State is the lifecycle marker of a user session.
type State string

const (
	// StateNone means no session keys exist yet for the user.
	StateNone State = ""
	// StateActive is set on the first round append and never overrides a
	// later state.
	StateActive State = "ACTIVE"
	// StateFinalizing marks a session whose remaining rounds are being
	// flushed into the summary.
	StateFinalizing State = "FINALIZING"
	// StateFinalized marks a session that has been refined and is about to
	// be purged.
	StateFinalized State = "FINALIZED"
)

// LockState is the tri-state per-utterance processing lock.
// Transitions: unset -> LockProcessing -> LockFinalized, exactly once.
type LockState string

const (
	// LockNone means no handler has claimed the utterance yet.
	LockNone LockState = ""
	// LockProcessing means one handler is merging and processing the
	// utterance right now.
	LockProcessing LockState = "PROCESSING"
	// LockFinalized means processing finished (successfully or not).
	LockFinalized LockState = "FINALIZED"
)

// Round is one conversational turn. Rounds are immutable once appended to
// the session history.
type Round struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	RID    string `json:"rid"`
}

// IsProactive reports whether the round was initiated by the bot.
func (r Round) IsProactive() bool {
	return r.Input == ProactiveInput
}

// NewProactiveRound builds a synthetic round carrying a proactive greeting.
func NewProactiveRound(message string) Round {
	return Round{
		Input:  ProactiveInput,
		Output: message,
		RID:    "proactive_" + uuid.NewString(),
	}
}

// Alert is a case-manager notification. Each alert is appended once to the
// global alert stream and mirrored into the user's snapshot list; it is
// never mutated afterwards.
type Alert struct {
	UserID   string            `json:"user_id"`
	Reason   string            `json:"reason"`
	Severity string            `json:"severity"`
	TS       int64             `json:"ts,string"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// NewAlert builds an alert stamped with the current time. Severity defaults
// to "info" when empty.
func NewAlert(userID, reason, severity string) Alert {
	if severity == "" {
		severity = "info"
	}
	return Alert{
		UserID:   userID,
		Reason:   reason,
		Severity: severity,
		TS:       time.Now().UnixMilli(),
	}
}

// TSString returns the alert timestamp in the millisecond string form used
// for stream fields.
func (a Alert) TSString() string {
	return strconv.FormatInt(a.TS, 10)
}
