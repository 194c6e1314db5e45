package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

func TestStoreNote_SearchableWhenNotesIncluded(t *testing.T) {
	// Given: a stored note
	h := newHarness(t, nil)
	ctx := context.Background()
	note, err := h.orch.StoreNote(ctx, "alpha", "  Remember: `RecordImport` forces empty files to failed  ", []string{"decision"})
	require.NoError(t, err)

	// When: searching with and without notes
	with, err := h.orch.Search(ctx, "RecordImport forces empty files to failed", Scope{All: true}, Options{IncludeNotes: true})
	require.NoError(t, err)
	without, err := h.orch.Search(ctx, "RecordImport forces empty files to failed", Scope{All: true}, Options{})
	require.NoError(t, err)

	// Then: only the first finds it, with its tags and concepts
	assert.Equal(t, vector.NotesCollection("local", 384), note.Collection)
	assert.Equal(t, testNow, note.Timestamp)
	require.Len(t, with.Results, 1)
	hit := with.Results[0]
	assert.Equal(t, note.ID, hit.ID)
	assert.Equal(t, vector.KindNote, hit.Kind)
	assert.Equal(t, "Remember: `RecordImport` forces empty files to failed", hit.Snippet)
	assert.Equal(t, []string{"decision"}, hit.Tags)
	assert.Contains(t, hit.Concepts, "RecordImport")
	assert.Empty(t, without.Results)
}

func TestStoreNote_RegistersCollection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.StoreNote(ctx, "", "first note", nil)
	require.NoError(t, err)
	_, err = h.orch.StoreNote(ctx, "", "second note", nil)
	require.NoError(t, err)

	doc, err := h.state.Read(ctx)
	require.NoError(t, err)
	c := doc.Collections[vector.NotesCollection("local", 384)]
	require.NotNil(t, c)
	assert.Equal(t, state.KindNotes, c.Kind)
	assert.Equal(t, 384, c.Dimensions)
	assert.Equal(t, 2, c.Points)
}

func TestStoreNote_ProjectNotesStayInProject(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "beta", h.local, seedDoc{id: "b", text: "unrelated"})
	_, err := h.orch.StoreNote(ctx, "alpha", "alpha uses badger for points", nil)
	require.NoError(t, err)

	resp, err := h.orch.Search(ctx, "alpha uses badger for points", Scope{Project: "beta"}, Options{IncludeNotes: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(resp.Results))
}

func TestStoreNote_RejectsEmptyText(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.StoreNote(context.Background(), "alpha", " \n ", nil)

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestRecent_NewestFirstSinceCutoff(t *testing.T) {
	// Given: chunks an hour, three hours and thirty hours old, and a note
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "alpha", h.local,
		seedDoc{id: "3h", text: "three", age: 3 * time.Hour},
		seedDoc{id: "30h", text: "thirty", age: 30 * time.Hour},
		seedDoc{id: "1h", text: "one", age: time.Hour},
	)
	note, err := h.orch.StoreNote(ctx, "alpha", "just now", nil)
	require.NoError(t, err)

	// When: asking for the last day
	got, err := h.orch.Recent(ctx, Scope{Project: "alpha"}, testNow.Add(-24*time.Hour), 10)

	// Then: the note leads and the old chunk is left out
	require.NoError(t, err)
	assert.Equal(t, []string{note.ID, "1h", "3h"}, ids(got))
}

func TestRecent_Limit(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "alpha", h.local,
		seedDoc{id: "a", text: "a", age: time.Hour},
		seedDoc{id: "b", text: "b", age: 2 * time.Hour},
		seedDoc{id: "c", text: "c", age: 3 * time.Hour},
	)

	got, err := h.orch.Recent(context.Background(), Scope{All: true}, time.Time{}, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestTimeline_BucketsByDay(t *testing.T) {
	// Given: activity on two days and one chunk outside the window
	h := newHarness(t, nil)
	h.seed(t, "alpha", h.local,
		seedDoc{id: "today-1", text: "x", age: time.Hour, tools: []string{"Read", "Bash"}, files: []string{"b.go"}, messages: 4},
		seedDoc{id: "today-2", text: "y", age: 2 * time.Hour, tools: []string{"Bash"}, files: []string{"a.go"}, messages: 2},
		seedDoc{id: "yesterday", text: "z", age: 26 * time.Hour, tools: []string{"Grep"}, messages: 3},
		seedDoc{id: "old", text: "w", age: 10 * 24 * time.Hour},
	)

	// When: building the default week-long timeline
	tl, err := h.orch.Timeline(context.Background(), Scope{Project: "alpha"}, time.Time{}, time.Time{})
	require.NoError(t, err)

	// Then: one bucket per active day, oldest first, with rollups
	assert.Equal(t, testNow, tl.To)
	assert.Equal(t, testNow.Add(-DefaultTimelineSpan), tl.From)
	require.Len(t, tl.Days, 2)

	yesterday, today := tl.Days[0], tl.Days[1]
	assert.Equal(t, "2026-03-09", yesterday.Date)
	assert.Equal(t, 1, yesterday.Chunks)
	assert.Equal(t, 3, yesterday.Messages)

	assert.Equal(t, "2026-03-10", today.Date)
	assert.Equal(t, 2, today.Chunks)
	assert.Equal(t, 6, today.Messages)
	assert.Equal(t, []string{"alpha"}, today.Projects)
	assert.Equal(t, []string{"a.go", "b.go"}, today.Files)
	assert.Equal(t, []ToolCount{{Tool: "Bash", Count: 2}, {Tool: "Read", Count: 1}}, today.Tools)
}

func TestTimeline_RejectsInvertedRange(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Timeline(context.Background(), Scope{All: true}, testNow, testNow.Add(-time.Hour))

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}
