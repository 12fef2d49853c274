package vectorstore

import (
	"context"
	"time"
)

// Store is a technology-agnostic interface for long-term memory notes.
// Implementations can use Qdrant, Pinecone, Supabase Vector, Weaviate, etc.
type Store interface {
	// UpsertNote writes a refined per-user note. The caller supplies the
	// embedding vector; a missing ID gets a generated UUID.
	UpsertNote(ctx context.Context, note Note) (string, error)

	// RecentNotes returns the newest notes for a user, newest first.
	RecentNotes(ctx context.Context, userID string, limit int) ([]Note, error)

	// Search performs vector similarity search with optional filtering.
	Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchResult, error)

	// Close releases any resources held by the store.
	Close() error
}

// Note is one refined memory entry for a user.
type Note struct {
	// ID is the point id; empty means generate one on upsert.
	ID string

	// UserID owns the note.
	UserID string

	// Text is the refined note content.
	Text string

	// Vector is the embedding, produced outside this package.
	Vector []float32

	// UpdatedAt is when the note was written or last refreshed.
	UpdatedAt time.Time
}

// SearchFilter defines filtering options for note search.
type SearchFilter struct {
	// UserID restricts results to one user's notes.
	UserID string

	// Metadata filters results by payload key-value pairs.
	Metadata map[string]any

	// MinScore filters results below this similarity threshold (0.0-1.0).
	MinScore float32
}

// SearchResult represents a single result from vector similarity search.
type SearchResult struct {
	// ID is the unique identifier of the result.
	ID string

	// Score is the similarity score (0.0-1.0, higher is more similar).
	Score float32

	// Text is the note content associated with this vector.
	Text string

	// UserID identifies the note owner.
	UserID string

	// UpdatedAt is when the note was last written.
	UpdatedAt time.Time

	// Metadata contains additional key-value pairs.
	Metadata map[string]any
}
