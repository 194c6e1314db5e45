package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanmem/internal/chunk"
	"github.com/Aman-CERP/amanmem/internal/embed"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// fileResult is the outcome of one file attempt.
type fileResult struct {
	record  state.FileRecord
	chunks  int
	skipped int
	err     error
}

// target is where one file's points go.
type target struct {
	mode       string
	embedder   embed.Embedder
	collection string
}

// importFile streams one transcript into its collection and records the
// outcome. The mtime recorded is the one observed when the file was
// discovered, so a write during processing triggers another pass.
func (s *Scheduler) importFile(ctx context.Context, laneName string, t task) fileResult {
	start := s.now()
	f := t.file
	logger := s.logger.With(slog.String("path", f.Path), slog.String("lane", laneName))

	chunks, skipped, tgt, err := s.indexFile(ctx, t)
	if ctx.Err() != nil {
		// Shutdown is not a file failure; the record keeps its last state.
		logger.Debug("file_import_cancelled")
		return fileResult{chunks: chunks, skipped: skipped, err: ctx.Err()}
	}
	if err == nil && chunks == 0 {
		err = amerrors.EmptyChunkSet(f.Path)
	}

	outcome := state.ImportOutcome{
		Path:           f.Path,
		Project:        f.Project,
		ModifiedAt:     f.ModifiedAt,
		Chunks:         chunks,
		Importer:       laneName,
		Mode:           tgt.mode,
		SkippedRecords: skipped,
	}
	if tgt.embedder != nil {
		outcome.Collection = tgt.collection
		outcome.Dimensions = tgt.embedder.Dimensions()
	}

	if err != nil {
		s.dropPartial(ctx, t, tgt, chunks, logger)
		outcome.Status = state.StatusFailed
		outcome.Chunks = 0
		outcome.Err = err
		outcome.NextAttemptAt = s.policy.NextAttempt(t.prevRetries+1, err, s.now())
	} else {
		outcome.Status = state.StatusCompleted
	}

	rec, recErr := s.state.RecordImport(ctx, outcome)
	if recErr != nil {
		logger.Error("record_import_failed", slog.String("error", recErr.Error()))
		if err == nil {
			err = recErr
		}
		return fileResult{chunks: chunks, skipped: skipped, err: err}
	}

	if err == nil {
		logger.Info("file_imported",
			slog.Int("chunks", chunks),
			slog.Int("skipped_records", skipped),
			slog.String("collection", tgt.collection),
			slog.Duration("duration", s.now().Sub(start)))
	}
	return fileResult{record: rec, chunks: chunks, skipped: skipped, err: err}
}

// dropPartial removes the points of a failed attempt, so a failed record
// never leaves searchable chunks behind.
func (s *Scheduler) dropPartial(ctx context.Context, t task, tgt target, written int, logger *slog.Logger) {
	if tgt.collection == "" {
		return
	}
	n := written
	if t.prevCollection == tgt.collection && t.prevChunks > n {
		n = t.prevChunks
	}
	if n == 0 {
		return
	}
	path, err := s.state.NormalizePath(t.file.Path)
	if err != nil {
		return
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = chunk.PointID(path, i)
	}
	if err := s.vectors.Delete(ctx, tgt.collection, ids); err != nil {
		logger.Warn("partial_points_not_removed", slog.String("error", err.Error()))
	}
}

// indexFile runs parse, chunk, embed and upsert for one file and removes
// points a previous, longer import left past the new chunk count.
func (s *Scheduler) indexFile(ctx context.Context, t task) (int, int, target, error) {
	f := t.file
	mode := s.runtime.EmbeddingMode()
	tgt := target{mode: mode}

	path, err := s.state.NormalizePath(f.Path)
	if err != nil {
		return 0, 0, tgt, err
	}

	emb, err := s.embedders.For(ctx, embed.Mode(mode))
	if err != nil {
		return 0, 0, tgt, err
	}
	tgt.embedder = emb
	tgt.collection = vector.ConversationCollection(f.Project, mode, emb.Dimensions())

	if err := s.vectors.EnsureCollection(ctx, tgt.collection, emb.Dimensions()); err != nil {
		return 0, 0, tgt, err
	}

	reader, err := s.source.Open(ctx, f.Path)
	if err != nil {
		return 0, 0, tgt, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = reader.Close() }()

	cfg := s.runtime.Config()
	builder := chunk.NewBuilder(chunk.Options{
		MaxChars:      cfg.Ingest.MaxChunkChars,
		MaxMessages:   cfg.Ingest.MaxChunkMessages,
		IncludeSystem: cfg.Ingest.IncludeSystem,
	})
	batchSize := cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	w := &pointWriter{
		store:      s.vectors,
		embedder:   emb,
		collection: tgt.collection,
		project:    f.Project,
		path:       path,
		fallback:   f.ModifiedAt,
	}

	for {
		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return w.written, reader.Skipped(), tgt, fmt.Errorf("read transcript: %w", err)
		}
		w.pending = append(w.pending, builder.Add(msg)...)
		if len(w.pending) >= batchSize {
			if err := w.flush(ctx); err != nil {
				return w.written, reader.Skipped(), tgt, err
			}
		}
	}
	w.pending = append(w.pending, builder.Flush()...)
	if err := w.flush(ctx); err != nil {
		return w.written, reader.Skipped(), tgt, err
	}

	if t.prevCollection == tgt.collection && t.prevChunks > w.written {
		stale := make([]string, 0, t.prevChunks-w.written)
		for i := w.written; i < t.prevChunks; i++ {
			stale = append(stale, chunk.PointID(path, i))
		}
		if err := s.vectors.Delete(ctx, tgt.collection, stale); err != nil {
			return w.written, reader.Skipped(), tgt, err
		}
	}
	return w.written, reader.Skipped(), tgt, nil
}

// pointWriter embeds pending chunks in one call and upserts them.
type pointWriter struct {
	store      vector.Store
	embedder   embed.Embedder
	collection string
	project    string
	path       string
	fallback   time.Time

	pending []chunk.Chunk
	written int
}

func (w *pointWriter) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	texts := make([]string, len(w.pending))
	for i, c := range w.pending {
		texts[i] = c.Text
	}
	vecs, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]vector.Point, len(w.pending))
	for i, c := range w.pending {
		ts := c.Timestamp
		if ts.IsZero() {
			ts = w.fallback
		}
		points[i] = vector.Point{
			ID:     chunk.PointID(w.path, c.Index),
			Vector: vecs[i],
			Payload: vector.Payload{
				Kind:         vector.KindConversation,
				Project:      w.project,
				Path:         w.path,
				ChunkIndex:   c.Index,
				Role:         c.Role,
				Text:         c.Text,
				Timestamp:    ts.UTC(),
				Tools:        c.Tools,
				Files:        c.Files,
				Concepts:     c.Concepts,
				MessageCount: c.MessageCount,
				StartIndex:   c.StartIndex,
				EndIndex:     c.EndIndex,
			},
		}
	}
	if err := w.store.Upsert(ctx, w.collection, points); err != nil {
		return err
	}
	w.written += len(points)
	w.pending = w.pending[:0]
	return nil
}
