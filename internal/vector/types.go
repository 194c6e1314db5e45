// Package vector stores embedded chunks in named collections and answers
// nearest-neighbour queries over them. Each collection has one fixed
// dimension; a point of any other size is rejected.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrCollectionNotFound is returned for operations on an unknown collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Payload kinds.
const (
	KindConversation = "conversation"
	KindNote         = "note"
)

// Collection name prefixes.
const (
	conversationPrefix = "conv"
	notesPrefix        = "notes"
)

// Payload is the filterable metadata stored with each point.
type Payload struct {
	Kind         string    `json:"kind"`
	Project      string    `json:"project,omitempty"`
	Path         string    `json:"path,omitempty"`
	ChunkIndex   int       `json:"chunk_index"`
	Role         string    `json:"role,omitempty"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	Tools        []string  `json:"tools,omitempty"`
	Files        []string  `json:"files,omitempty"`
	Concepts     []string  `json:"concepts,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
	StartIndex   int       `json:"start_index"`
	EndIndex     int       `json:"end_index"`
}

// Point is one vector with its payload.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Hit is a query result. Score is cosine similarity in [0, 1].
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Filter restricts points by payload. Zero fields match everything.
type Filter struct {
	Kind    string
	Project string
	Path    string
	Since   time.Time
	Until   time.Time
}

// Match reports whether p passes the filter.
func (f Filter) Match(p Payload) bool {
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.Project != "" && p.Project != f.Project {
		return false
	}
	if f.Path != "" && p.Path != f.Path {
		return false
	}
	if !f.Since.IsZero() && p.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !p.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

func (f Filter) empty() bool {
	return f == Filter{}
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name       string    `json:"name"`
	Dimensions int       `json:"dimensions"`
	Points     int       `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a collection-oriented vector store.
type Store interface {
	// EnsureCollection creates the collection if missing. An existing
	// collection with a different dimension is a DimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dims int) error

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Query returns up to limit points closest to vec that pass filter,
	// best first.
	Query(ctx context.Context, collection string, vec []float32, filter Filter, limit int) ([]Hit, error)

	// Scroll returns points passing filter without ranking. limit <= 0
	// returns all of them.
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error)

	// Delete removes points by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// Collections lists every collection.
	Collections(ctx context.Context) ([]CollectionInfo, error)

	Close() error
}

// ProjectHash returns the 8 hex characters identifying a project in
// collection names.
func ProjectHash(project string) string {
	sum := sha256.Sum256([]byte(project))
	return hex.EncodeToString(sum[:4])
}

// ConversationCollection names the collection for a project's transcripts
// embedded in mode at dims.
func ConversationCollection(project, mode string, dims int) string {
	return fmt.Sprintf("%s_%s_%s_%d", conversationPrefix, ProjectHash(project), mode, dims)
}

// NotesCollection names the collection for notes embedded in mode at dims.
func NotesCollection(mode string, dims int) string {
	return fmt.Sprintf("%s_%s_%d", notesPrefix, mode, dims)
}

// CollectionName is a parsed collection name.
type CollectionName struct {
	Kind        string
	ProjectHash string
	Mode        string
	Dimensions  int
}

// ParseCollectionName splits a name produced by ConversationCollection or
// NotesCollection.
func ParseCollectionName(name string) (CollectionName, bool) {
	parts := strings.Split(name, "_")
	switch {
	case len(parts) == 4 && parts[0] == conversationPrefix:
		dims, err := strconv.Atoi(parts[3])
		if err != nil {
			return CollectionName{}, false
		}
		return CollectionName{Kind: KindConversation, ProjectHash: parts[1], Mode: parts[2], Dimensions: dims}, true
	case len(parts) == 3 && parts[0] == notesPrefix:
		dims, err := strconv.Atoi(parts[2])
		if err != nil {
			return CollectionName{}, false
		}
		return CollectionName{Kind: KindNote, Mode: parts[1], Dimensions: dims}, true
	default:
		return CollectionName{}, false
	}
}
