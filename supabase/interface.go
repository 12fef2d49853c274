package supabase

import (
	"context"
	"time"
)

// Store provides access to senior profile data backing the companion bot.
type Store interface {
	// GetSeniorByLineID retrieves a senior profile by LINE user id.
	GetSeniorByLineID(ctx context.Context, lineUserID string) (*Senior, error)

	// UpdateLastContact sets the senior's last contact timestamp to now.
	UpdateLastContact(ctx context.Context, lineUserID string) error

	// ListIdleBetween retrieves active seniors whose last contact falls
	// inside [from, to).
	ListIdleBetween(ctx context.Context, from, to time.Time) ([]Senior, error)

	// ListSilentSince retrieves active seniors silent since the cutoff,
	// including those never contacted.
	ListSilentSince(ctx context.Context, cutoff time.Time) ([]Senior, error)

	// Close closes the client and releases resources.
	Close() error
}

// Senior represents a senior user profile from the database
type Senior struct {
	ID            string     `json:"id"`
	LineUserID    string     `json:"line_user_id"`
	Name          string     `json:"name"`
	IsActive      bool       `json:"is_active"`
	LastContactTS *time.Time `json:"last_contact_ts,omitempty"`

	// Profile fields feeding the conversation prompt.
	PersonalBackground string `json:"profile_personal_background"`
	HealthStatus       string `json:"profile_health_status"`
	LifeEvents         string `json:"profile_life_events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
