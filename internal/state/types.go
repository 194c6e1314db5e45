// Package state persists ingestion progress in a single JSON document.
//
// Every read and write happens under an exclusive, time-bounded lease so
// several importers (in one process or many) can share the document. Writes
// go to a temp file that is fsynced and renamed over the live file, so a
// reader sees either the old or the new document and never a torn one.
package state

import (
	"time"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// CurrentVersion is the schema version this package reads and writes.
const CurrentVersion = 2

// Status is the ingestion status of one source file.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Collection kinds.
const (
	KindConversation = "conversation"
	KindNotes        = "notes"
)

// Document is the persisted state layout.
type Document struct {
	Version     int                       `json:"version"`
	Metadata    Metadata                  `json:"metadata"`
	Files       map[string]*FileRecord    `json:"files"`
	Importers   map[string]*ImporterStats `json:"importers"`
	Collections map[string]*Collection    `json:"collections"`
}

// Metadata holds document-level bookkeeping, recomputed on every write.
type Metadata struct {
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	TotalFiles   int       `json:"total_files"`
	TotalChunks  int       `json:"total_chunks"`
	MigratedFrom int       `json:"migrated_from,omitempty"`
}

// FileRecord tracks one source file. Path is canonical and unique.
type FileRecord struct {
	Path           string     `json:"path"`
	Project        string     `json:"project"`
	ModifiedAt     time.Time  `json:"modified_at"`
	ImportedAt     time.Time  `json:"imported_at"`
	Chunks         int        `json:"chunks"`
	Collection     string     `json:"collection,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	Status         Status     `json:"status"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	Importer       string     `json:"importer,omitempty"`
	SkippedRecords int        `json:"skipped_records,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
}

// Retryable reports whether a failed record will be attempted again while
// its file stays unchanged. An empty chunk set never is: the same content
// yields the same result.
func (r *FileRecord) Retryable(maxAttempts int) bool {
	return r.Status == StatusFailed &&
		r.Error != amerrors.EmptyChunkSetReason &&
		r.RetryCount < maxAttempts
}

// AttemptsFor returns the failures that count against the file at mtime
// modifiedAt. A file modified since the record starts over at zero.
func (r *FileRecord) AttemptsFor(modifiedAt time.Time) int {
	if modifiedAt.After(r.ModifiedAt) {
		return 0
	}
	return r.RetryCount
}

// ImporterStats are the per-lane counters shown by the status reporter.
type ImporterStats struct {
	Lane           string    `json:"lane"`
	FilesProcessed int       `json:"files_processed"`
	FilesFailed    int       `json:"files_failed"`
	ChunksImported int       `json:"chunks_imported"`
	LastRun        time.Time `json:"last_run"`
	Running        bool      `json:"running"`
}

// Collection describes one vector collection. Dimensions never change once
// points exist; a different mode or dimension is a different collection.
type Collection struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Project    string    `json:"project,omitempty"`
	Mode       string    `json:"mode"`
	Dimensions int       `json:"dimensions"`
	Points     int       `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewDocument returns an empty document at the current schema version.
func NewDocument(now time.Time) *Document {
	return &Document{
		Version:     CurrentVersion,
		Metadata:    Metadata{CreatedAt: now, LastModified: now},
		Files:       map[string]*FileRecord{},
		Importers:   map[string]*ImporterStats{},
		Collections: map[string]*Collection{},
	}
}

// ensureMaps replaces nil maps left by sparse JSON.
func (d *Document) ensureMaps() {
	if d.Files == nil {
		d.Files = map[string]*FileRecord{}
	}
	if d.Importers == nil {
		d.Importers = map[string]*ImporterStats{}
	}
	if d.Collections == nil {
		d.Collections = map[string]*Collection{}
	}
}

// recompute refreshes derived totals and per-collection point counts for
// conversation collections.
func (d *Document) recompute() {
	d.Metadata.TotalFiles = len(d.Files)
	d.Metadata.TotalChunks = 0

	points := map[string]int{}
	for _, f := range d.Files {
		if f.Status != StatusCompleted {
			continue
		}
		d.Metadata.TotalChunks += f.Chunks
		points[f.Collection] += f.Chunks
	}
	for name, c := range d.Collections {
		if c.Kind == KindConversation {
			c.Points = points[name]
		}
	}
}
