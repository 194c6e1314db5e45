package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanmem/internal/chunk"
	"github.com/Aman-CERP/amanmem/internal/embed"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// DefaultTimelineSpan is the window of a Timeline without a start.
const DefaultTimelineSpan = 7 * 24 * time.Hour

// maxTimelineFiles bounds the files listed per day.
const maxTimelineFiles = 20

// Recent returns the newest chunks and notes of scope written at or after
// since, newest first.
func (o *Orchestrator) Recent(ctx context.Context, scope Scope, since time.Time, limit int) ([]Result, error) {
	cfg := o.runtime.Config().Search
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	hits, _, err := o.scroll(ctx, scope, vector.Filter{Since: since})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, ch := range hits {
		out = append(out, toResult(ch.collection, ch.hit.ID, ch.hit.Payload))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Timeline buckets the activity of scope in [from, to) by UTC day. A zero
// to means now; a zero from means DefaultTimelineSpan before to.
func (o *Orchestrator) Timeline(ctx context.Context, scope Scope, from, to time.Time) (*Timeline, error) {
	if to.IsZero() {
		to = o.now()
	}
	if from.IsZero() {
		from = to.Add(-DefaultTimelineSpan)
	}
	if !from.Before(to) {
		return nil, amerrors.ValidationError("timeline start must be before its end", nil)
	}

	hits, dropped, err := o.scroll(ctx, scope, vector.Filter{Since: from, Until: to})
	if err != nil {
		return nil, err
	}

	type bucket struct {
		day      Day
		projects map[string]bool
		files    map[string]bool
		tools    map[string]int
	}
	buckets := make(map[string]*bucket)
	for _, ch := range hits {
		p := ch.hit.Payload
		date := p.Timestamp.UTC().Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			b = &bucket{
				day:      Day{Date: date},
				projects: make(map[string]bool),
				files:    make(map[string]bool),
				tools:    make(map[string]int),
			}
			buckets[date] = b
		}
		if p.Kind == vector.KindNote {
			b.day.Notes++
		} else {
			b.day.Chunks++
			b.day.Messages += p.MessageCount
		}
		if p.Project != "" {
			b.projects[p.Project] = true
		}
		for _, t := range p.Tools {
			b.tools[t]++
		}
		for _, f := range p.Files {
			b.files[f] = true
		}
	}

	tl := &Timeline{From: from, To: to, Dropped: dropped}
	for _, b := range buckets {
		d := b.day
		d.Projects = sortedKeys(b.projects)
		d.Files = sortedKeys(b.files)
		if len(d.Files) > maxTimelineFiles {
			d.Files = d.Files[:maxTimelineFiles]
		}
		for tool, n := range b.tools {
			d.Tools = append(d.Tools, ToolCount{Tool: tool, Count: n})
		}
		sort.Slice(d.Tools, func(i, j int) bool {
			if d.Tools[i].Count != d.Tools[j].Count {
				return d.Tools[i].Count > d.Tools[j].Count
			}
			return d.Tools[i].Tool < d.Tools[j].Tool
		})
		tl.Days = append(tl.Days, d)
	}
	sort.Slice(tl.Days, func(i, j int) bool { return tl.Days[i].Date < tl.Days[j].Date })
	return tl, nil
}

// scroll reads every point of scope passing filter, notes included.
func (o *Orchestrator) scroll(ctx context.Context, scope Scope, filter vector.Filter) ([]collectionHit, []string, error) {
	mode, err := o.mode(scope)
	if err != nil {
		return nil, nil, err
	}
	targets, err := o.resolve(ctx, scope, mode, filter, true)
	if err != nil || len(targets) == 0 {
		return nil, nil, err
	}
	return o.fanOut(ctx, targets, func(ctx context.Context, t target) ([]vector.Hit, error) {
		points, err := o.vectors.Scroll(ctx, t.name, t.filter, 0)
		if err != nil {
			return nil, err
		}
		hits := make([]vector.Hit, len(points))
		for i, p := range points {
			hits[i] = vector.Hit{ID: p.ID, Payload: p.Payload}
		}
		return hits, nil
	})
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StoreNote embeds text under the current mode and stores it in that
// mode's notes collection. An empty project stores a global note, which
// only all-project scopes return.
func (o *Orchestrator) StoreNote(ctx context.Context, project, text string, tags []string) (*Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, amerrors.ValidationError("note text is empty", nil)
	}
	mode := o.runtime.EmbeddingMode()
	e, err := o.embedders.For(ctx, embed.Mode(mode))
	if err != nil {
		return nil, err
	}
	name := vector.NotesCollection(mode, e.Dimensions())
	if err := o.vectors.EnsureCollection(ctx, name, e.Dimensions()); err != nil {
		return nil, err
	}
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed note: %w", err)
	}

	now := o.now().UTC()
	concepts, files := chunk.Annotate(text)
	note := &Note{ID: uuid.NewString(), Collection: name, Project: project, Timestamp: now}
	point := vector.Point{
		ID:     note.ID,
		Vector: vecs[0],
		Payload: vector.Payload{
			Kind:      vector.KindNote,
			Project:   project,
			Text:      text,
			Timestamp: now,
			Files:     files,
			Concepts:  concepts,
			Tags:      tags,
		},
	}
	if err := o.vectors.Upsert(ctx, name, []vector.Point{point}); err != nil {
		return nil, err
	}

	if o.state != nil {
		err := o.state.RegisterCollection(ctx, state.Collection{
			Name:       name,
			Kind:       state.KindNotes,
			Mode:       mode,
			Dimensions: e.Dimensions(),
		}, 1)
		if err != nil {
			// The note is stored; only the descriptor count lags.
			o.logger.Warn("note_collection_not_registered",
				slog.String("collection", name),
				slog.String("error", err.Error()))
		}
	}
	o.logger.Info("note_stored",
		slog.String("id", note.ID),
		slog.String("collection", name),
		slog.String("project", project))
	return note, nil
}
