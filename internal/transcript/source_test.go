package transcript

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSource_DiscoverAssignsProjects(t *testing.T) {
	// Given: transcripts in two project directories, plus noise
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj-a", "s1.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-a", "nested", "s2.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-b", "s3.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj-b", "notes.txt"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "s4.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "top.jsonl"), "{}\n")

	src := NewSource([]string{root, filepath.Join(root, "missing")}, "", nil)

	// When: discovering
	files, err := src.Discover(context.Background())

	// Then: only jsonl outside hidden dirs, sorted, with project names
	require.NoError(t, err)
	got := map[string]string{}
	for _, f := range files {
		rel, _ := filepath.Rel(root, f.Path)
		got[filepath.ToSlash(rel)] = f.Project
		assert.False(t, f.ModifiedAt.IsZero())
	}
	assert.Equal(t, map[string]string{
		"proj-a/s1.jsonl":        "proj-a",
		"proj-a/nested/s2.jsonl": "proj-a",
		"proj-b/s3.jsonl":        "proj-b",
		"top.jsonl":              filepath.Base(root),
	}, got)
}

func TestSource_OpenAndStat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p", "s.jsonl")
	writeFile(t, path, sampleTranscript)
	src := NewSource([]string{root}, "", nil)

	f, err := src.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "p", f.Project)

	r, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	msgs, err := ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
}

func TestWatcher_ReportsSettledWrites(t *testing.T) {
	// Given: a watcher over an existing project directory
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p"), 0o755))
	src := NewSource([]string{root}, "", nil)

	var mu sync.Mutex
	seen := map[string]int{}
	w, err := NewWatcher(src, 50*time.Millisecond, func(path string) {
		mu.Lock()
		seen[filepath.Base(path)]++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	defer func() {
		cancel()
		<-w.Done()
	}()
	time.Sleep(100 * time.Millisecond)

	// When: a transcript is written several times and a non-transcript once
	path := filepath.Join(root, "p", "s.jsonl")
	for i := 0; i < 3; i++ {
		writeFile(t, path, sampleTranscript)
	}
	writeFile(t, filepath.Join(root, "p", "other.txt"), "x")

	// Then: one coalesced notification for the transcript only
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["s.jsonl"] == 1
	}, 3*time.Second, 20*time.Millisecond)
	mu.Lock()
	assert.Zero(t, seen["other.txt"])
	mu.Unlock()
}
