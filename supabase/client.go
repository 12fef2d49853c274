package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/creastat/caresession"
)

const seniorsTable = "senior_users"

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// Client implements the Store interface using Supabase
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
}

// cache provides thread-safe caching for profile lookups. Profiles change
// rarely; last-contact writes invalidate the entry so reads after a write
// see the fresh timestamp.
type cache struct {
	mu       sync.RWMutex
	byLineID map[string]*cacheEntry
}

type cacheEntry struct {
	value     *Senior
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		cache: &cache{
			byLineID: make(map[string]*cacheEntry),
		},
	}, nil
}

// GetSeniorByLineID retrieves a senior profile by LINE user id
func (c *Client) GetSeniorByLineID(ctx context.Context, lineUserID string) (*Senior, error) {
	// Check cache first
	if cached := c.getFromCache(lineUserID); cached != nil {
		return cached, nil
	}

	var seniors []Senior
	_, err := c.client.From(seniorsTable).
		Select("*", "", false).
		Eq("line_user_id", lineUserID).
		ExecuteTo(&seniors)

	if err != nil {
		return nil, fmt.Errorf("failed to get senior by line id: %w", err)
	}

	if len(seniors) == 0 {
		return nil, fmt.Errorf("senior %s: %w", lineUserID, caresession.ErrNotFound)
	}

	senior := &seniors[0]
	c.addToCache(lineUserID, senior)

	return senior, nil
}

// UpdateLastContact sets the senior's last contact timestamp to now
func (c *Client) UpdateLastContact(ctx context.Context, lineUserID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, _, err := c.client.From(seniorsTable).
		Update(map[string]any{"last_contact_ts": now}, "", "").
		Eq("line_user_id", lineUserID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to update last contact: %w", err)
	}

	c.invalidate(lineUserID)
	return nil
}

// ListIdleBetween retrieves active seniors whose last contact falls inside
// [from, to)
func (c *Client) ListIdleBetween(ctx context.Context, from, to time.Time) ([]Senior, error) {
	var seniors []Senior
	_, err := c.client.From(seniorsTable).
		Select("*", "", false).
		Eq("is_active", "true").
		Gte("last_contact_ts", from.UTC().Format(time.RFC3339)).
		Lt("last_contact_ts", to.UTC().Format(time.RFC3339)).
		ExecuteTo(&seniors)

	if err != nil {
		return nil, fmt.Errorf("failed to list idle seniors: %w", err)
	}

	return seniors, nil
}

// ListSilentSince retrieves active seniors silent since the cutoff,
// including seniors with no recorded contact at all
func (c *Client) ListSilentSince(ctx context.Context, cutoff time.Time) ([]Senior, error) {
	filter := fmt.Sprintf("last_contact_ts.lt.%s,last_contact_ts.is.null",
		cutoff.UTC().Format(time.RFC3339))

	var seniors []Senior
	_, err := c.client.From(seniorsTable).
		Select("*", "", false).
		Eq("is_active", "true").
		Or(filter, "").
		ExecuteTo(&seniors)

	if err != nil {
		return nil, fmt.Errorf("failed to list silent seniors: %w", err)
	}

	return seniors, nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// getFromCache retrieves a senior from cache by LINE user id
func (c *Client) getFromCache(key string) *Senior {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.byLineID[key]; ok {
		if time.Now().Before(e.expiresAt) {
			return e.value
		}
	}
	return nil
}

// addToCache adds a senior to cache
func (c *Client) addToCache(key string, value *Senior) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.byLineID[key] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}

// invalidate drops a cached profile after a write
func (c *Client) invalidate(key string) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	delete(c.cache.byLineID, key)
}

// Compile-time check that Client implements Store
var _ Store = (*Client)(nil)
