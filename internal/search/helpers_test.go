package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/embed"
	"github.com/Aman-CERP/amanmem/internal/logging"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	cfg     *config.Config
	rt      *config.Runtime
	state   *state.Store
	vectors *flakyStore
	local   embed.Embedder
	remote  embed.Embedder
	orch    *Orchestrator
}

// newHarness wires an orchestrator over an in-memory vector store with a
// local (384) and a remote (128) static embedder.
func newHarness(t *testing.T, tweak func(*config.Config), opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	if tweak != nil {
		tweak(cfg)
	}
	rt := config.NewRuntime(cfg)

	st, err := state.Open(context.Background(), cfg.StatePath(), state.WithLogger(logging.Discard()))
	require.NoError(t, err)

	local, err := vector.OpenLocal("", vector.WithInMemory(), vector.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	vs := &flakyStore{Store: local, slow: map[string]bool{}, fail: map[string]error{}}

	h := &harness{
		cfg:     cfg,
		rt:      rt,
		state:   st,
		vectors: vs,
		local:   embed.NewStaticEmbedder(embed.LocalDimensions),
		remote:  modeEmbedder{Embedder: embed.NewStaticEmbedder(128), mode: embed.ModeRemote},
	}
	set := embed.NewSetOf(logging.Discard(), h.local, h.remote)
	t.Cleanup(func() { _ = set.Close() })

	opts = append([]Option{WithLogger(logging.Discard()), WithClock(func() time.Time { return testNow })}, opts...)
	h.orch = New(rt, vs, set, st, opts...)
	return h
}

// seedDoc is one conversation chunk to index.
type seedDoc struct {
	id       string
	text     string
	age      time.Duration
	tools    []string
	files    []string
	messages int
}

// seed indexes docs into project's conversation collection for e and
// returns the collection name.
func (h *harness) seed(t *testing.T, project string, e embed.Embedder, docs ...seedDoc) string {
	t.Helper()
	ctx := context.Background()
	name := vector.ConversationCollection(project, string(e.Mode()), e.Dimensions())
	require.NoError(t, h.vectors.EnsureCollection(ctx, name, e.Dimensions()))

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text
	}
	vecs, err := e.Embed(ctx, texts)
	require.NoError(t, err)

	points := make([]vector.Point, len(docs))
	for i, d := range docs {
		points[i] = vector.Point{
			ID:     d.id,
			Vector: vecs[i],
			Payload: vector.Payload{
				Kind:         vector.KindConversation,
				Project:      project,
				Path:         "/transcripts/" + project + "/session.jsonl",
				ChunkIndex:   i,
				Role:         "user",
				Text:         d.text,
				Timestamp:    testNow.Add(-d.age),
				Tools:        d.tools,
				Files:        d.files,
				MessageCount: d.messages,
			},
		}
	}
	require.NoError(t, h.vectors.Upsert(ctx, name, points))
	return name
}

// flakyStore delays or fails queries against chosen collections.
type flakyStore struct {
	vector.Store
	slow map[string]bool
	fail map[string]error
}

func (s *flakyStore) Query(ctx context.Context, name string, vec []float32, filter vector.Filter, limit int) ([]vector.Hit, error) {
	if err, ok := s.fail[name]; ok {
		return nil, err
	}
	if s.slow[name] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.Query(ctx, name, vec, filter, limit)
}

var errUnavailable = errors.New("collection unavailable")

// modeEmbedder reports a different mode than the embedder it wraps.
type modeEmbedder struct {
	embed.Embedder
	mode embed.Mode
}

func (m modeEmbedder) Mode() embed.Mode { return m.mode }

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
