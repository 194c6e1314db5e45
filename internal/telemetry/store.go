package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const maxZeroResults = 100

const schema = `
CREATE TABLE IF NOT EXISTS search_scope_stats (
	date TEXT NOT NULL,
	scope TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, scope)
);

CREATE TABLE IF NOT EXISTS search_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS search_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_search_terms_count ON search_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_searches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	scope TEXT NOT NULL,
	mode TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dropped_collections (
	date TEXT NOT NULL,
	collection TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, collection)
);
`

// Store persists search metrics in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the metrics database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)

	// modernc.org/sqlite ignores most DSN pragmas; set them as statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save adds one flush worth of increments under the day of now.
func (s *Store) Save(now time.Time, c counters) error {
	date := now.Format("2006-01-02")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for scope, n := range c.scopes {
		if _, err := tx.Exec(`
			INSERT INTO search_scope_stats (date, scope, count) VALUES (?, ?, ?)
			ON CONFLICT(date, scope) DO UPDATE SET count = count + excluded.count
		`, date, string(scope), n); err != nil {
			return fmt.Errorf("save scope count: %w", err)
		}
	}
	for bucket, n := range c.latencies {
		if _, err := tx.Exec(`
			INSERT INTO search_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
		`, date, string(bucket), n); err != nil {
			return fmt.Errorf("save latency count: %w", err)
		}
	}
	for name, n := range c.dropped {
		if _, err := tx.Exec(`
			INSERT INTO dropped_collections (date, collection, count) VALUES (?, ?, ?)
			ON CONFLICT(date, collection) DO UPDATE SET count = count + excluded.count
		`, date, name, n); err != nil {
			return fmt.Errorf("save dropped collection: %w", err)
		}
	}
	for term, n := range c.terms {
		if _, err := tx.Exec(`
			INSERT INTO search_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP
		`, term, n); err != nil {
			return fmt.Errorf("save term count: %w", err)
		}
	}
	for _, e := range c.zero {
		if _, err := tx.Exec(`
			INSERT INTO zero_result_searches (query, scope, mode, timestamp) VALUES (?, ?, ?, ?)
		`, e.Query, string(e.Scope), e.Mode, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("save zero-result search: %w", err)
		}
	}
	if len(c.zero) > 0 {
		if _, err := tx.Exec(`
			DELETE FROM zero_result_searches
			WHERE id NOT IN (SELECT id FROM zero_result_searches ORDER BY id DESC LIMIT ?)
		`, maxZeroResults); err != nil {
			return fmt.Errorf("trim zero-result searches: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ScopeCounts sums searches per scope between two dates (YYYY-MM-DD,
// inclusive).
func (s *Store) ScopeCounts(from, to string) (map[Scope]int64, error) {
	out := make(map[Scope]int64)
	err := s.sumBy(`
		SELECT scope, SUM(count) FROM search_scope_stats
		WHERE date >= ? AND date <= ? GROUP BY scope
	`, from, to, func(k string, n int64) { out[Scope(k)] = n })
	return out, err
}

// LatencyCounts sums the latency histogram between two dates.
func (s *Store) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	out := make(map[LatencyBucket]int64)
	err := s.sumBy(`
		SELECT bucket, SUM(count) FROM search_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket
	`, from, to, func(k string, n int64) { out[LatencyBucket(k)] = n })
	return out, err
}

// DroppedCollections sums per-collection failures between two dates.
func (s *Store) DroppedCollections(from, to string) (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.sumBy(`
		SELECT collection, SUM(count) FROM dropped_collections
		WHERE date >= ? AND date <= ? GROUP BY collection
	`, from, to, func(k string, n int64) { out[k] = n })
	return out, err
}

func (s *Store) sumBy(query, from, to string, put func(string, int64)) error {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		put(k, n)
	}
	return rows.Err()
}

// TopTerms returns the most searched terms.
func (s *Store) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM search_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// ZeroResultQueries returns the most recent searches that found nothing,
// newest first.
func (s *Store) ZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_searches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result searches: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
