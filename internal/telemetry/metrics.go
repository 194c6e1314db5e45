// Package telemetry records local search metrics. Nothing leaves the
// machine; the store is a SQLite file in the data directory.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Scope is the breadth of a search.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeAll     Scope = "all"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// SearchEvent is one completed search.
type SearchEvent struct {
	Query       string
	Scope       Scope
	Mode        string
	Collections int
	// Dropped names collections that failed or timed out.
	Dropped     []string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	copy(out, b.items[b.head:])
	copy(out[b.capacity-b.head:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and keeps words of three or more bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time view of the in-memory metrics.
type Snapshot struct {
	ScopeCounts         map[Scope]int64         `json:"scope_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	DroppedCollections  map[string]int64        `json:"dropped_collections"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches that found nothing.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config configures a Metrics collector.
type Config struct {
	TopTermsCapacity      int
	ZeroResultsCapacity   int
	RecentQueriesCapacity int
	// FlushInterval is how often deltas are written to the store. 0
	// disables the background flush.
	FlushInterval time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// Metrics aggregates search events in memory and periodically writes the
// increments since the previous flush to a Store. Safe for concurrent use.
type Metrics struct {
	mu     sync.Mutex
	config Config
	store  *Store
	logger *slog.Logger

	topTerms      *lru.Cache[string, int64]
	zeroResults   *CircularBuffer[string]
	recentQueries *lru.Cache[string, struct{}]
	startTime     time.Time
	totals        counters
	pending       counters

	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

type counters struct {
	scopes    map[Scope]int64
	latencies map[LatencyBucket]int64
	dropped   map[string]int64
	terms     map[string]int64
	zero      []SearchEvent
	queries   int64
	zeroCount int64
	repeats   int64
}

func newCounters() counters {
	return counters{
		scopes:    make(map[Scope]int64),
		latencies: make(map[LatencyBucket]int64),
		dropped:   make(map[string]int64),
		terms:     make(map[string]int64),
	}
}

// New creates a collector. store may be nil to keep metrics in memory only.
func New(store *Store, cfg Config, logger *slog.Logger) *Metrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	m := &Metrics{
		config:        cfg,
		store:         store,
		logger:        logger.With("component", "telemetry"),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		startTime:     time.Now(),
		totals:        newCounters(),
		pending:       newCounters(),
		stopCh:        make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *Metrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one search.
func (m *Metrics) Record(e SearchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	hash := hashQuery(e.Query)
	repeat := m.recentQueries.Contains(hash)
	m.recentQueries.Add(hash, struct{}{})

	for _, c := range []*counters{&m.totals, &m.pending} {
		c.queries++
		c.scopes[e.Scope]++
		c.latencies[LatencyToBucket(e.Latency)]++
		for _, name := range e.Dropped {
			c.dropped[name]++
		}
		for _, term := range ExtractTerms(e.Query) {
			c.terms[term]++
		}
		if repeat {
			c.repeats++
		}
		if e.ResultCount == 0 {
			c.zeroCount++
		}
	}

	for _, term := range ExtractTerms(e.Query) {
		n, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, n+1)
	}
	if e.ResultCount == 0 {
		m.zeroResults.Add(e.Query)
		m.pending.zero = append(m.pending.zero, e)
	}
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the metrics recorded since the collector started.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var top []TermCount
	for _, k := range m.topTerms.Keys() {
		if n, ok := m.topTerms.Peek(k); ok {
			top = append(top, TermCount{Term: k, Count: n})
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Term < top[j].Term
	})

	return &Snapshot{
		ScopeCounts:         copyMap(m.totals.scopes),
		TopTerms:            top,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: copyMap(m.totals.latencies),
		DroppedCollections:  copyMap(m.totals.dropped),
		TotalQueries:        m.totals.queries,
		ZeroResultCount:     m.totals.zeroCount,
		ExactRepeatCount:    m.totals.repeats,
		Since:               m.startTime,
	}
}

func copyMap[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Flush writes the increments recorded since the last flush. Without a
// store it is a no-op. On failure the increments are kept for the next try.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	delta := m.pending
	m.pending = newCounters()
	m.mu.Unlock()

	if delta.queries == 0 {
		return nil
	}
	if err := m.store.Save(time.Now(), delta); err != nil {
		m.mu.Lock()
		m.pending.merge(delta)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (c *counters) merge(o counters) {
	for k, v := range o.scopes {
		c.scopes[k] += v
	}
	for k, v := range o.latencies {
		c.latencies[k] += v
	}
	for k, v := range o.dropped {
		c.dropped[k] += v
	}
	for k, v := range o.terms {
		c.terms[k] += v
	}
	c.zero = append(o.zero, c.zero...)
	c.queries += o.queries
	c.zeroCount += o.zeroCount
	c.repeats += o.repeats
}

// Close stops the background flush and writes what is left.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
