package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/embed"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/transcript"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// Report totals what a run imported.
type Report struct {
	Files   int `json:"files"`
	Failed  int `json:"failed"`
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped_records"`
}

func (r Report) sub(o Report) Report {
	return Report{Files: r.Files - o.Files, Failed: r.Failed - o.Failed, Chunks: r.Chunks - o.Chunks, Skipped: r.Skipped - o.Skipped}
}

// Scheduler discovers transcripts, buckets them into lanes and imports
// them with per-lane worker pools. A dispatcher hands out work round-robin
// across lanes so a burst in one lane cannot starve the others.
type Scheduler struct {
	runtime   *config.Runtime
	source    *transcript.Source
	state     *state.Store
	vectors   vector.Store
	embedders *embed.Set
	policy    RetryPolicy
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	lanes   []*lane
	byName  map[string]*lane
	next    int
	claimed map[string]bool
	totals  Report

	wake  chan struct{}
	tasks sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for lane classification and
// retry backoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a Scheduler. Close releases its worker pools.
func New(rt *config.Runtime, source *transcript.Source, st *state.Store, vectors vector.Store, embedders *embed.Set, opts ...Option) (*Scheduler, error) {
	cfg := rt.Config()
	s := &Scheduler{
		runtime:   rt,
		source:    source,
		state:     st,
		vectors:   vectors,
		embedders: embedders,
		policy:    NewRetryPolicy(cfg.Ingest),
		logger:    slog.Default(),
		now:       time.Now,
		byName:    make(map[string]*lane),
		claimed:   make(map[string]bool),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ingest")

	for _, spec := range []struct {
		name string
		cfg  config.LaneConfig
	}{
		{LaneHot, cfg.Lanes.Hot},
		{LaneWarm, cfg.Lanes.Warm},
		{LaneCold, cfg.Lanes.Cold},
	} {
		l, err := newLane(spec.name, spec.cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.lanes = append(s.lanes, l)
		s.byName[spec.name] = l
	}

	rt.OnModeChange(func(old, updated string) {
		s.logger.Info("embedding_mode_changed", slog.String("from", old), slog.String("to", updated))
	})
	return s, nil
}

// Policy returns the retry policy in effect.
func (s *Scheduler) Policy() RetryPolicy {
	return s.policy
}

// Close releases the lane pools. In-flight files finish first.
func (s *Scheduler) Close() {
	s.tasks.Wait()
	for _, l := range s.lanes {
		l.pool.Release()
	}
}

// RunOnce imports every eligible file, each in its lane, and returns when
// all of them are done.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	before := s.snapshot()
	if _, err := s.scan(ctx, "", 0); err != nil {
		return Report{}, err
	}
	err := s.drain(ctx)
	s.flushStats(context.WithoutCancel(ctx), LaneHot, LaneWarm, LaneCold)

	rep := s.snapshot().sub(before)
	s.logger.Info("import_run_complete",
		slog.Int("files", rep.Files),
		slog.Int("failed", rep.Failed),
		slog.Int("chunks", rep.Chunks))
	return rep, err
}

// Run polls each lane on its own cadence and dispatches work until ctx is
// cancelled. Every lane is swept once at start.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)
	for _, l := range s.lanes {
		name := l.name
		spec := "@every " + l.cfg.PollInterval.String()
		if _, err := c.AddFunc(spec, func() { s.tick(ctx, name) }); err != nil {
			return fmt.Errorf("schedule %s lane: %w", name, err)
		}
	}

	for _, l := range s.lanes {
		s.tick(ctx, l.name)
	}
	c.Start()
	s.logger.Info("scheduler_started")

	for {
		s.dispatch(ctx)
		select {
		case <-s.wake:
		case <-ctx.Done():
			<-c.Stop().Done()
			s.tasks.Wait()
			s.abandonQueued()
			s.flushStats(context.WithoutCancel(ctx), LaneHot, LaneWarm, LaneCold)
			s.logger.Info("scheduler_stopped")
			return nil
		}
	}
}

// Nudge queues a freshly written file into the hot lane without waiting
// for the next poll. Files outside the source pattern are ignored.
func (s *Scheduler) Nudge(ctx context.Context, path string) error {
	if !s.source.Matches(path) {
		return nil
	}
	f, err := s.source.Stat(path)
	if err != nil {
		return err
	}
	key, err := s.state.NormalizePath(f.Path)
	if err != nil {
		return err
	}
	doc, err := s.state.Read(ctx)
	if err != nil {
		return err
	}
	rec := doc.Files[key]
	if !s.policy.Eligible(rec, f.ModifiedAt, s.now()) {
		return nil
	}

	s.mu.Lock()
	if s.claimed[key] {
		s.mu.Unlock()
		return nil
	}
	s.claimed[key] = true
	hot := s.byName[LaneHot]
	hot.queue = append(hot.queue, newTask(key, f, rec))
	s.mu.Unlock()

	if rec == nil {
		if err := s.state.MarkPending(ctx, []state.PendingFile{{
			Path: f.Path, Project: f.Project, ModifiedAt: f.ModifiedAt, Importer: LaneHot,
		}}); err != nil {
			s.logger.Warn("mark_pending_failed", slog.String("error", err.Error()))
		}
	}
	s.signal()
	s.logger.Debug("file_nudged", slog.String("path", key))
	return nil
}

func newTask(key string, f transcript.File, rec *state.FileRecord) task {
	t := task{key: key, file: f}
	if rec != nil {
		if rec.Status == state.StatusCompleted {
			t.prevChunks = rec.Chunks
			t.prevCollection = rec.Collection
		}
		t.prevRetries = rec.AttemptsFor(f.ModifiedAt)
	}
	return t
}

// tick is one poll of a lane: claim up to a batch of eligible files, then
// publish the lane's counters.
func (s *Scheduler) tick(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	l := s.byName[name]
	n, err := s.scan(ctx, name, l.cfg.Batch)
	if err != nil {
		s.logger.Warn("lane_scan_failed", slog.String("lane", name), slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Debug("lane_tick", slog.String("lane", name), slog.Int("claimed", n))
	}
	s.flushStats(ctx, name)
}

type candidate struct {
	lane string
	key  string
	file transcript.File
}

// scan discovers files and claims the eligible ones. only restricts the
// scan to one lane; limit caps claims per lane (0 for no cap).
func (s *Scheduler) scan(ctx context.Context, only string, limit int) (int, error) {
	files, err := s.source.Discover(ctx)
	if err != nil {
		return 0, err
	}
	doc, err := s.state.Read(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	lanes := s.runtime.Config().Lanes
	var candidates []candidate
	for _, f := range files {
		name := Classify(lanes, f.ModifiedAt, now)
		if only != "" && name != only {
			continue
		}
		key, err := s.state.NormalizePath(f.Path)
		if err != nil {
			s.logger.Warn("source_path_rejected", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if !s.policy.Eligible(doc.Files[key], f.ModifiedAt, now) {
			continue
		}
		candidates = append(candidates, candidate{lane: name, key: key, file: f})
	}

	var pending []state.PendingFile
	claimed := make(map[string]int)
	s.mu.Lock()
	for _, c := range candidates {
		if s.claimed[c.key] || (limit > 0 && claimed[c.lane] >= limit) {
			continue
		}
		rec := doc.Files[c.key]
		if rec == nil {
			pending = append(pending, state.PendingFile{
				Path: c.file.Path, Project: c.file.Project, ModifiedAt: c.file.ModifiedAt, Importer: c.lane,
			})
		}
		s.claimed[c.key] = true
		l := s.byName[c.lane]
		l.queue = append(l.queue, newTask(c.key, c.file, rec))
		claimed[c.lane]++
	}
	s.mu.Unlock()

	if err := s.state.MarkPending(ctx, pending); err != nil {
		s.logger.Warn("mark_pending_failed", slog.String("error", err.Error()))
	}

	total := 0
	for _, n := range claimed {
		total += n
	}
	if total > 0 {
		s.signal()
	}
	return total, nil
}

// dispatch starts as many queued files as the lanes allow, one lane at a
// time in rotation.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		l := s.nextReady()
		if l == nil {
			return
		}
		t := l.pop()
		l.inFlight++
		s.tasks.Add(1)
		err := l.pool.Submit(func() {
			defer s.tasks.Done()
			s.finish(l, t, s.importFile(ctx, l.name, t))
		})
		if err != nil {
			l.inFlight--
			s.tasks.Done()
			l.queue = append([]task{t}, l.queue...)
			return
		}
	}
}

// nextReady must be called with s.mu held.
func (s *Scheduler) nextReady() *lane {
	for i := range s.lanes {
		l := s.lanes[(s.next+i)%len(s.lanes)]
		if l.ready() {
			s.next = (s.next + i + 1) % len(s.lanes)
			return l
		}
	}
	return nil
}

func (s *Scheduler) finish(l *lane, t task, res fileResult) {
	s.mu.Lock()
	l.inFlight--
	delete(s.claimed, t.key)
	l.processed++
	l.chunks += res.chunks
	s.totals.Files++
	s.totals.Skipped += res.skipped
	if res.err != nil {
		l.failed++
		s.totals.Failed++
	} else {
		s.totals.Chunks += res.chunks
	}
	s.mu.Unlock()
	s.signal()
}

// drain dispatches until every lane is empty and idle.
func (s *Scheduler) drain(ctx context.Context) error {
	for {
		s.dispatch(ctx)
		if !s.busy() {
			return nil
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			s.tasks.Wait()
			s.abandonQueued()
			return ctx.Err()
		}
	}
}

func (s *Scheduler) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		if l.busy() {
			return true
		}
	}
	return false
}

func (s *Scheduler) abandonQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		for _, t := range l.queue {
			delete(s.claimed, t.key)
		}
		l.queue = nil
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// flushStats publishes lane counters accumulated since the last flush.
func (s *Scheduler) flushStats(ctx context.Context, names ...string) {
	for _, name := range names {
		l := s.byName[name]
		s.mu.Lock()
		r := l.report(l.busy())
		s.mu.Unlock()

		err := s.state.RecordLaneRun(ctx, state.LaneRun{
			Lane:           r.lane,
			FilesProcessed: r.processed,
			FilesFailed:    r.failed,
			ChunksImported: r.chunks,
			Running:        r.running,
		})
		if err != nil {
			s.logger.Warn("lane_stats_not_recorded", slog.String("lane", name), slog.String("error", err.Error()))
		}
	}
}
