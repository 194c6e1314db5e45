package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

var renderNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newStatus(phase state.Phase, failed []state.FileRecord) *search.Status {
	return &search.Status{
		Mode: "local",
		Summary: state.Summary{
			TotalFiles:      4,
			Completed:       4 - len(failed),
			Failed:          len(failed),
			TotalChunks:     37,
			PercentComplete: float64(4-len(failed)) * 25,
			Phase:           phase,
			LastModified:    renderNow.Add(-2 * time.Hour),
			Lanes: []state.ImporterStats{
				{Lane: "hot", FilesProcessed: 3, ChunksImported: 30, LastRun: renderNow.Add(-time.Minute), Running: true},
				{Lane: "cold", FilesProcessed: 1, ChunksImported: 7},
			},
			FailedFiles: failed,
		},
		Vectors: []vector.CollectionInfo{{Name: "conv_1a2b3c4d_local_384", Dimensions: 384, Points: 37}},
	}
}

func TestStatusRenderer_Render_Complete(t *testing.T) {
	// Given: a fully imported document
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)
	r.now = func() time.Time { return renderNow }

	// When: rendering
	require.NoError(t, r.Render(newStatus(state.PhaseComplete, nil)))

	// Then: phase, counters, lanes and collections are shown
	out := buf.String()
	assert.Contains(t, out, "Memory Status  complete")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "Chunks:    37")
	assert.Contains(t, out, "Updated:   2 hours ago")
	assert.Contains(t, out, "hot   running")
	assert.Contains(t, out, "last run never")
	assert.Contains(t, out, "conv_1a2b3c4d_local_384")
	assert.NotContains(t, out, "Needs attention")
}

func TestStatusRenderer_Render_NeedsAttention(t *testing.T) {
	// Given: one permanently failed file
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)
	failed := []state.FileRecord{{Path: "/t/a.jsonl", RetryCount: 3, Error: "empty-chunk-set: no chunks"}}

	// When: rendering
	require.NoError(t, r.Render(newStatus(state.PhaseCompleteWithAttention, failed)))

	// Then: it never reads as plainly complete
	out := buf.String()
	assert.Contains(t, out, "complete, 1 files need attention")
	assert.Contains(t, out, "Needs attention (1):")
	assert.Contains(t, out, "/t/a.jsonl (attempts 3) empty-chunk-set: no chunks")
}

func TestStatusRenderer_Render_TruncatesFailures(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)
	var failed []state.FileRecord
	for i := 0; i < maxFailedShown+3; i++ {
		failed = append(failed, state.FileRecord{Path: "/t/f.jsonl"})
	}

	require.NoError(t, r.Render(newStatus(state.PhaseInProgress, failed)))

	assert.Contains(t, buf.String(), "... and 3 more")
	assert.Contains(t, buf.String(), "in progress")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.RenderJSON(newStatus(state.PhaseComplete, nil)))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "local", parsed["mode"])
	summary := parsed["summary"].(map[string]any)
	assert.Equal(t, "complete", summary["phase"])
	assert.Equal(t, float64(37), summary["total_chunks"])
}

func TestFormatAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{time.Hour, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{3 * 24 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAgo(renderNow.Add(-tt.ago), renderNow))
	}
	assert.Equal(t, "2026-02-01 12:00", formatAgo(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), renderNow))
	assert.Equal(t, "never", formatAgo(time.Time{}, renderNow))
}
