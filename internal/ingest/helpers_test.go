package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/embed"
	"github.com/Aman-CERP/amanmem/internal/logging"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/transcript"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

type harness struct {
	root    string
	cfg     *config.Config
	rt      *config.Runtime
	state   *state.Store
	vectors vector.Store
	sched   *Scheduler
}

// newHarness wires a scheduler over a temp source root, a file-locked state
// document and an in-memory vector store. tweak adjusts config before the
// scheduler is built.
func newHarness(t *testing.T, tweak func(*config.Config), embedders ...embed.Embedder) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "projects")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := config.NewConfig()
	cfg.Paths.Sources = []string{root}
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Ingest.RetryBackoff = 0
	if tweak != nil {
		tweak(cfg)
	}
	rt := config.NewRuntime(cfg)

	st, err := state.Open(ctx, cfg.StatePath(),
		state.WithAllowedRoots(root),
		state.WithLockTimeout(2*time.Second),
		state.WithLogger(logging.Discard()))
	require.NoError(t, err)

	vs, err := vector.OpenLocal("", vector.WithInMemory(), vector.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	if len(embedders) == 0 {
		embedders = []embed.Embedder{embed.NewStaticEmbedder(embed.LocalDimensions)}
	}
	set := embed.NewSetOf(logging.Discard(), embedders...)

	source := transcript.NewSource(cfg.Paths.Sources, cfg.Ingest.Pattern, logging.Discard())
	sched, err := New(rt, source, st, vs, set, WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(sched.Close)

	return &harness{root: root, cfg: cfg, rt: rt, state: st, vectors: vs, sched: sched}
}

// write creates project/name with one user message per text and sets its
// mtime to age ago.
func (h *harness) write(t *testing.T, project, name string, age time.Duration, texts ...string) string {
	t.Helper()
	path := filepath.Join(h.root, project, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var b strings.Builder
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range texts {
		fmt.Fprintf(&b, `{"type":"user","timestamp":%q,"message":{"role":"user","content":%q}}`+"\n",
			base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), text)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func (h *harness) record(t *testing.T, path string) *state.FileRecord {
	t.Helper()
	key, err := h.state.NormalizePath(path)
	require.NoError(t, err)
	doc, err := h.state.Read(context.Background())
	require.NoError(t, err)
	return doc.Files[key]
}

func (h *harness) points(t *testing.T, collection string) []vector.Point {
	t.Helper()
	pts, err := h.vectors.Scroll(context.Background(), collection, vector.Filter{}, 0)
	require.NoError(t, err)
	return pts
}

// modeEmbedder presents an embedder under another mode.
type modeEmbedder struct {
	embed.Embedder
	mode embed.Mode
}

func (m modeEmbedder) Mode() embed.Mode { return m.mode }

// failingEmbedder fails every Embed call with err.
type failingEmbedder struct {
	embed.Embedder
	err   error
	calls atomic.Int32
}

func newFailing(err error) *failingEmbedder {
	return &failingEmbedder{Embedder: embed.NewStaticEmbedder(embed.LocalDimensions), err: err}
}

func (f *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	f.calls.Add(1)
	return nil, f.err
}
