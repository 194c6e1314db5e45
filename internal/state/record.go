package state

import (
	"context"
	"log/slog"
	"time"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// ImportOutcome is the result of one ingestion attempt for one file.
type ImportOutcome struct {
	Path       string
	Project    string
	ModifiedAt time.Time
	Chunks     int
	Importer   string
	Collection string
	Mode       string
	Dimensions int
	Status     Status
	// Err explains a failed status. Ignored for completed outcomes.
	Err            error
	SkippedRecords int
	// NextAttemptAt is when a failed file becomes eligible again. Zero
	// means immediately.
	NextAttemptAt time.Time
}

// RecordImport stores the outcome of an attempt and returns the resulting
// record. A completed outcome with zero chunks is recorded as failed with
// reason empty-chunk-set. Failures increment the retry count; success
// resets it, and so does a newer mtime before the failure is counted.
func (s *Store) RecordImport(ctx context.Context, out ImportOutcome) (FileRecord, error) {
	path, err := s.NormalizePath(out.Path)
	if err != nil {
		return FileRecord{}, err
	}

	status := out.Status
	reason := ""
	switch {
	case status == StatusCompleted && out.Chunks == 0:
		status = StatusFailed
		reason = amerrors.EmptyChunkSetReason
	case status == StatusFailed:
		reason = amerrors.Reason(out.Err)
		if reason == "" {
			reason = "unknown error"
		}
	}

	var stored FileRecord
	err = s.Update(ctx, func(doc *Document) error {
		now := s.now().UTC()
		rec, ok := doc.Files[path]
		if !ok {
			rec = &FileRecord{Path: path}
			doc.Files[path] = rec
		}

		if ok {
			rec.RetryCount = rec.AttemptsFor(out.ModifiedAt)
		}
		rec.Project = out.Project
		rec.ModifiedAt = out.ModifiedAt.UTC()
		rec.ImportedAt = now
		rec.Importer = out.Importer
		rec.Mode = out.Mode
		rec.Collection = out.Collection
		rec.SkippedRecords = out.SkippedRecords
		rec.Status = status

		switch status {
		case StatusCompleted:
			rec.Chunks = out.Chunks
			rec.Error = ""
			rec.RetryCount = 0
			rec.NextAttemptAt = nil
			registerCollection(doc, Collection{
				Name:       out.Collection,
				Kind:       KindConversation,
				Project:    out.Project,
				Mode:       out.Mode,
				Dimensions: out.Dimensions,
			}, now)
		case StatusFailed:
			rec.Chunks = 0
			rec.Error = reason
			rec.RetryCount++
			if !out.NextAttemptAt.IsZero() {
				next := out.NextAttemptAt.UTC()
				rec.NextAttemptAt = &next
			} else {
				rec.NextAttemptAt = nil
			}
		default:
			rec.Error = ""
		}

		stored = *rec
		return nil
	})
	if err != nil {
		return FileRecord{}, err
	}

	if stored.Status == StatusFailed {
		s.logger.Warn("file_import_failed",
			slog.String("path", stored.Path),
			slog.String("reason", stored.Error),
			slog.Int("retry_count", stored.RetryCount))
	}
	return stored, nil
}

// PendingFile is a discovered file about to be attempted.
type PendingFile struct {
	Path       string
	Project    string
	ModifiedAt time.Time
	Importer   string
}

// MarkPending creates pending records for files that have none yet.
// Existing records are left alone so retry counts survive.
func (s *Store) MarkPending(ctx context.Context, files []PendingFile) error {
	if len(files) == 0 {
		return nil
	}
	normalized := make([]PendingFile, 0, len(files))
	for _, f := range files {
		p, err := s.NormalizePath(f.Path)
		if err != nil {
			s.logger.Warn("pending_path_rejected", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		f.Path = p
		normalized = append(normalized, f)
	}

	return s.Update(ctx, func(doc *Document) error {
		for _, f := range normalized {
			if _, ok := doc.Files[f.Path]; ok {
				continue
			}
			doc.Files[f.Path] = &FileRecord{
				Path:       f.Path,
				Project:    f.Project,
				ModifiedAt: f.ModifiedAt.UTC(),
				Status:     StatusPending,
				Importer:   f.Importer,
			}
		}
		return nil
	})
}

// LaneRun is what one lane tick reports for the status reporter.
type LaneRun struct {
	Lane           string
	FilesProcessed int
	FilesFailed    int
	ChunksImported int
	Running        bool
}

// RecordLaneRun accumulates lane counters.
func (s *Store) RecordLaneRun(ctx context.Context, run LaneRun) error {
	return s.Update(ctx, func(doc *Document) error {
		st, ok := doc.Importers[run.Lane]
		if !ok {
			st = &ImporterStats{Lane: run.Lane}
			doc.Importers[run.Lane] = st
		}
		st.FilesProcessed += run.FilesProcessed
		st.FilesFailed += run.FilesFailed
		st.ChunksImported += run.ChunksImported
		st.Running = run.Running
		st.LastRun = s.now().UTC()
		return nil
	})
}

// RegisterCollection records a collection descriptor if it is new. For
// notes collections delta is added to the point count.
func (s *Store) RegisterCollection(ctx context.Context, c Collection, delta int) error {
	return s.Update(ctx, func(doc *Document) error {
		registerCollection(doc, c, s.now().UTC())
		if c.Kind == KindNotes {
			doc.Collections[c.Name].Points += delta
		}
		return nil
	})
}

func registerCollection(doc *Document, c Collection, now time.Time) {
	if c.Name == "" {
		return
	}
	if existing, ok := doc.Collections[c.Name]; ok {
		if existing.Dimensions == 0 {
			existing.Dimensions = c.Dimensions
		}
		return
	}
	c.CreatedAt = now
	c.Points = 0
	doc.Collections[c.Name] = &c
}

// Cleanup removes records imported more than olderThanDays days ago and
// returns them, so callers can drop the matching vector points.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) ([]FileRecord, error) {
	if olderThanDays <= 0 {
		return nil, amerrors.ValidationError("olderThanDays must be positive", nil)
	}

	var removed []FileRecord
	err := s.Update(ctx, func(doc *Document) error {
		cutoff := s.now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
		for path, rec := range doc.Files {
			if rec.ImportedAt.IsZero() || !rec.ImportedAt.Before(cutoff) {
				continue
			}
			removed = append(removed, *rec)
			delete(doc.Files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("state_cleanup", slog.Int("removed", len(removed)), slog.Int("older_than_days", olderThanDays))
	return removed, nil
}
