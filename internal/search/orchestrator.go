package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/embed"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/telemetry"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// Per-collection fetch size is a multiple of the requested window, since
// decay reorders hits after the store ranked them by similarity alone.
const (
	fetchMultiplier = 3
	minFetch        = 20
)

// Orchestrator serves search, recent activity, timelines, notes and status.
type Orchestrator struct {
	runtime   *config.Runtime
	vectors   vector.Store
	embedders *embed.Set
	state     *state.Store
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now for decay and note timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records every search in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. st may be nil when Status and note
// bookkeeping are not needed.
func New(rt *config.Runtime, vectors vector.Store, embedders *embed.Set, st *state.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:   rt,
		vectors:   vectors,
		embedders: embedders,
		state:     st,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "search")
	return o
}

// target is one collection to query and the filter to query it with.
type target struct {
	name   string
	dims   int
	filter vector.Filter
}

// Search ranks hits for query across the collections of scope.
func (o *Orchestrator) Search(ctx context.Context, query string, scope Scope, opts Options) (*Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	opts, err := o.normalize(opts)
	if err != nil {
		return nil, err
	}
	mode, err := o.mode(scope)
	if err != nil {
		return nil, err
	}

	targets, err := o.resolve(ctx, scope, mode, vector.Filter{}, opts.IncludeNotes)
	if err != nil {
		return nil, err
	}
	resp := &Response{Query: query, Mode: mode, Detail: opts.Detail, Collections: names(targets)}
	if len(targets) == 0 {
		o.logger.Debug("search_no_collections", slog.String("mode", mode), slog.String("project", scope.Project))
		o.record(resp, scope, start)
		return resp, nil
	}

	embedder, err := o.embedders.Query(ctx, embed.Mode(mode))
	if err != nil {
		return nil, err
	}
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := vecs[0]

	fetch := max((opts.Offset+opts.Limit)*fetchMultiplier, minFetch)
	hits, dropped, err := o.fanOut(ctx, targets, func(ctx context.Context, t target) ([]vector.Hit, error) {
		if t.dims != len(vec) {
			return nil, amerrors.DimensionMismatch(t.name, t.dims, len(vec))
		}
		return o.vectors.Query(ctx, t.name, vec, t.filter, fetch)
	})
	resp.Dropped = dropped
	if err != nil {
		o.record(resp, scope, start)
		return nil, err
	}

	ranked := o.rank(hits, opts.MinScore)
	resp.Total = len(ranked)
	shape(resp, paginate(ranked, opts.Offset, opts.Limit))
	o.record(resp, scope, start)

	o.logger.Debug("search_complete",
		slog.String("query", query),
		slog.String("mode", mode),
		slog.Int("collections", len(targets)),
		slog.Int("dropped", len(dropped)),
		slog.Int("total", resp.Total),
		slog.Duration("took", resp.Took))
	return resp, nil
}

func (o *Orchestrator) normalize(opts Options) (Options, error) {
	cfg := o.runtime.Config().Search
	detail, err := ParseDetail(string(opts.Detail))
	if err != nil {
		return opts, amerrors.ValidationError(err.Error(), nil)
	}
	opts.Detail = detail
	if opts.Limit <= 0 {
		opts.Limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && opts.Limit > cfg.MaxLimit {
		opts.Limit = cfg.MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.MinScore <= 0 {
		opts.MinScore = cfg.MinScore
	}
	return opts, nil
}

// mode returns the embedding mode a scope is served under.
func (o *Orchestrator) mode(scope Scope) (string, error) {
	if scope.Mode == "" {
		return o.runtime.EmbeddingMode(), nil
	}
	if err := config.ValidateMode(scope.Mode); err != nil {
		return "", amerrors.ValidationError(err.Error(), err)
	}
	return scope.Mode, nil
}

// resolve lists the collections of scope under mode. base carries filter
// fields shared by every target; project scopes add the project.
func (o *Orchestrator) resolve(ctx context.Context, scope Scope, mode string, base vector.Filter, notes bool) ([]target, error) {
	if !scope.All && scope.Project == "" {
		return nil, amerrors.ValidationError("a project is required unless all projects are searched", nil)
	}
	infos, err := o.vectors.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	hash := ""
	if !scope.All {
		hash = vector.ProjectHash(scope.Project)
		base.Project = scope.Project
	}

	var targets []target
	for _, info := range infos {
		name, ok := vector.ParseCollectionName(info.Name)
		if !ok || name.Mode != mode {
			continue
		}
		switch name.Kind {
		case vector.KindConversation:
			if hash != "" && name.ProjectHash != hash {
				continue
			}
		case vector.KindNote:
			if !notes {
				continue
			}
		default:
			continue
		}
		targets = append(targets, target{name: info.Name, dims: info.Dimensions, filter: base})
	}
	return targets, nil
}

func names(targets []target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.name
	}
	return out
}

// collectionHit is a hit tagged with the collection it came from.
type collectionHit struct {
	collection string
	hit        vector.Hit
}

// fanOut runs call against every target with bounded concurrency and a
// per-target timeout. Failing targets are logged and dropped; the error is
// non-nil only when every target failed or ctx ended.
func (o *Orchestrator) fanOut(ctx context.Context, targets []target, call func(context.Context, target) ([]vector.Hit, error)) ([]collectionHit, []string, error) {
	cfg := o.runtime.Config().Search
	results := make([][]vector.Hit, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			// Never fail the group; one collection must not cancel the rest.
			results[i], errs[i] = withTimeout(gctx, cfg.CollectionTimeout, t, call)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		hits    []collectionHit
		dropped []string
		failed  []error
	)
	for i, t := range targets {
		if err := errs[i]; err != nil {
			dropped = append(dropped, t.name)
			failed = append(failed, err)
			o.logger.Warn("collection_dropped",
				slog.String("collection", t.name),
				slog.String("code", amerrors.GetCode(err)),
				slog.String("error", err.Error()))
			continue
		}
		for _, h := range results[i] {
			hits = append(hits, collectionHit{collection: t.name, hit: h})
		}
	}
	if len(failed) == len(targets) {
		return nil, dropped, amerrors.New(amerrors.ErrCodeSearchFailed,
			fmt.Sprintf("all %d collections failed", len(targets)), errors.Join(failed...))
	}
	return hits, dropped, nil
}

// withTimeout runs call under its own deadline and stops waiting for it
// once the deadline passes, even if the store ignores ctx.
func withTimeout(ctx context.Context, timeout time.Duration, t target, call func(context.Context, target) ([]vector.Hit, error)) ([]vector.Hit, error) {
	if timeout <= 0 {
		return call(ctx, t)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		hits []vector.Hit
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		hits, err := call(ctx, t)
		ch <- reply{hits: hits, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, amerrors.CollectionQueryTimeout(t.name, r.err)
		}
		return r.hits, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, amerrors.CollectionQueryTimeout(t.name, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) record(resp *Response, scope Scope, start time.Time) {
	resp.Took = time.Since(start)
	if o.metrics == nil {
		return
	}
	o.metrics.Record(telemetry.SearchEvent{
		Query:       resp.Query,
		Scope:       scope.telemetryScope(),
		Mode:        resp.Mode,
		Collections: len(resp.Collections),
		Dropped:     resp.Dropped,
		ResultCount: resp.Total,
		Latency:     resp.Took,
	})
}

// Status reports ingestion progress and the live collections.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	if o.state == nil {
		return nil, amerrors.InternalError("status requires a state store", nil)
	}
	doc, err := o.state.Read(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := o.vectors.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	st := &Status{
		Mode:    o.runtime.EmbeddingMode(),
		Summary: state.Summarize(doc, o.runtime.Config().Ingest.MaxAttempts),
		Vectors: infos,
	}
	if o.metrics != nil {
		st.Telemetry = o.metrics.Snapshot()
	}
	return st, nil
}
