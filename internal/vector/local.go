package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// sqliteFile is the database inside the store directory.
const sqliteFile = "vectors.db"

// Every write bumps its collection's seq and stamps the rows it touches
// with the new value. Deleted points leave a tombstone so that other
// processes can drop them from their in-memory graphs.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	seq INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	vector BLOB NOT NULL,
	payload TEXT NOT NULL,
	seq INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_points_seq ON points(collection, seq);

CREATE TABLE IF NOT EXISTS tombstones (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_tombstones_seq ON tombstones(collection, seq);
`

const (
	upsertPointSQL = `INSERT INTO points (collection, id, vector, payload, seq) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload, seq = excluded.seq`
	upsertTombstoneSQL = `INSERT INTO tombstones (collection, id, seq) VALUES (?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET seq = excluded.seq`
)

// LocalStore is an embedded Store that several processes can share.
// SQLite in WAL mode holds descriptors and points. Each process keeps an
// HNSW graph per collection and, before every read, applies the changes
// other writers committed since it last looked.
type LocalStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	collections map[string]*collection
	closed      bool
}

var _ Store = (*LocalStore)(nil)

// OpenLocal opens or creates a store in dir and loads every collection index.
func OpenLocal(dir string, opts ...Option) (*LocalStore, error) {
	o := applyOptions(opts)
	logger := o.logger.With("component", "vector")

	dsn := ":memory:"
	if !o.inMemory {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "create vector directory", err).WithDetail("path", dir)
		}
		dsn = filepath.Join(dir, sqliteFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "open vector store", err).WithDetail("path", dir)
	}
	// One connection per process; an in-memory database lives only as long
	// as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN pragmas; set them as statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "open vector store", fmt.Errorf("set pragma %q: %w", p, err)).WithDetail("path", dir)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "create vector schema", err).WithDetail("path", dir)
	}

	s := &LocalStore{
		db:          db,
		logger:      logger,
		now:         time.Now,
		collections: make(map[string]*collection),
	}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) load(ctx context.Context) error {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "load vector indexes", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return amerrors.New(amerrors.ErrCodeStoreFailed, "load vector indexes", err)
		}
		names = append(names, name)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "load vector indexes", err)
	}

	points := 0
	for _, name := range names {
		c, err := s.get(ctx, name)
		if err != nil {
			return err
		}
		c.mu.Lock()
		err = s.catchUp(ctx, c)
		points += c.ix.len()
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	s.logger.Info("vector_store_opened",
		slog.Int("collections", len(names)),
		slog.Int("points", points),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// get returns the cached collection, loading its descriptor when another
// process created it after this one opened the store.
func (s *LocalStore) get(ctx context.Context, name string) (*collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed()
	}
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	d := descriptor{Name: name}
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT dimensions, created_at FROM collections WHERE name = ?`, name).Scan(&d.Dimensions, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "read collection", err).WithDetail("collection", name)
	}
	d.CreatedAt = parseTime(created)

	c := &collection{desc: d, ix: newIndex(d.Dimensions)}
	s.collections[name] = c
	return c, nil
}

// catchUp applies every change committed after c.seq. The caller holds
// c.mu. A failure leaves c.seq alone, so the next call replays the same
// changes; reapplying one is harmless.
func (s *LocalStore) catchUp(ctx context.Context, c *collection) error {
	name := c.desc.Name
	fail := func(err error) error {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "refresh collection", err).WithDetail("collection", name)
	}

	// One read transaction gives a consistent snapshot across the queries.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM collections WHERE name = ?`, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return fail(err)
	}
	if seq == c.seq {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, vector, payload FROM points WHERE collection = ? AND seq > ?`, name, c.seq)
	if err != nil {
		return fail(err)
	}
	for rows.Next() {
		var (
			id      string
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			_ = rows.Close()
			return fail(err)
		}
		p, err := decodePoint(id, blob, payload, c.desc.Dimensions)
		if err != nil {
			_ = rows.Close()
			return fail(err)
		}
		c.ix.put(p)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fail(err)
	}

	rows, err = tx.QueryContext(ctx, `SELECT id FROM tombstones WHERE collection = ? AND seq > ?`, name, c.seq)
	if err != nil {
		return fail(err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fail(err)
		}
		c.ix.remove(id)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fail(err)
	}

	c.seq = seq
	return nil
}

// writeTx runs fn in a BEGIN IMMEDIATE transaction on a dedicated
// connection. Taking the write lock up front makes a writer in another
// process wait out busy_timeout instead of failing on lock upgrade.
func (s *LocalStore) writeTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return err
	}
	return nil
}

// nextSeq bumps the collection's change counter inside a write.
func nextSeq(ctx context.Context, conn *sql.Conn, name string) (int64, error) {
	var seq int64
	err := conn.QueryRowContext(ctx, `UPDATE collections SET seq = seq + 1 WHERE name = ? RETURNING seq`, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return seq, err
}

func writeError(op, name string, err error) error {
	if errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	return amerrors.New(amerrors.ErrCodeStoreFailed, op, err).WithDetail("collection", name)
}

// EnsureCollection implements Store.
func (s *LocalStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dims <= 0 {
		return amerrors.ValidationError(fmt.Sprintf("collection %s: dimensions must be positive", name), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if c, ok := s.collections[name]; ok {
		if c.desc.Dimensions != dims {
			return amerrors.DimensionMismatch(name, c.desc.Dimensions, dims)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimensions, created_at, seq) VALUES (?, ?, ?, 0) ON CONFLICT(name) DO NOTHING`,
		name, dims, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "create collection", err).WithDetail("collection", name)
	}
	created, _ := res.RowsAffected()

	// Another process may have created it first, possibly with another size.
	d := descriptor{Name: name}
	var createdAt string
	if err := s.db.QueryRowContext(ctx, `SELECT dimensions, created_at FROM collections WHERE name = ?`, name).Scan(&d.Dimensions, &createdAt); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "read collection", err).WithDetail("collection", name)
	}
	d.CreatedAt = parseTime(createdAt)
	s.collections[name] = &collection{desc: d, ix: newIndex(d.Dimensions)}
	if d.Dimensions != dims {
		return amerrors.DimensionMismatch(name, d.Dimensions, dims)
	}

	if created == 1 {
		s.logger.Info("collection_created", slog.String("collection", name), slog.Int("dimensions", dims))
	}
	return nil
}

// Upsert implements Store. All points are validated before any is written,
// and they are written in one transaction.
func (s *LocalStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(ctx, name)
	if err != nil {
		return err
	}
	if err := validatePoints(name, c.desc.Dimensions, points); err != nil {
		return err
	}

	err = s.writeTx(ctx, func(conn *sql.Conn) error {
		seq, err := nextSeq(ctx, conn, name)
		if err != nil {
			return err
		}
		upsert, err := conn.PrepareContext(ctx, upsertPointSQL)
		if err != nil {
			return err
		}
		defer func() { _ = upsert.Close() }()
		unmark, err := conn.PrepareContext(ctx, `DELETE FROM tombstones WHERE collection = ? AND id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = unmark.Close() }()

		for _, p := range points {
			payload, err := json.Marshal(p.Payload)
			if err != nil {
				return fmt.Errorf("encode point %s: %w", p.ID, err)
			}
			if _, err := upsert.ExecContext(ctx, name, p.ID, encodeVector(p.Vector), string(payload), seq); err != nil {
				return err
			}
			if _, err := unmark.ExecContext(ctx, name, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return writeError("write points", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.catchUp(ctx, c)
}

// Query implements Store.
func (s *LocalStore) Query(ctx context.Context, name string, vec []float32, filter Filter, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vec) != c.desc.Dimensions {
		return nil, amerrors.DimensionMismatch(name, c.desc.Dimensions, len(vec))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.catchUp(ctx, c); err != nil {
		return nil, err
	}
	return c.ix.search(vec, filter, limit), nil
}

// Scroll implements Store. Points come back in ID order.
func (s *LocalStore) Scroll(ctx context.Context, name string, filter Filter, limit int) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := s.catchUp(ctx, c); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	out := make([]Point, 0, len(c.ix.points))
	for _, p := range c.ix.points {
		if filter.Match(p.Payload) {
			out = append(out, p)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store. Only IDs that were present leave a tombstone.
func (s *LocalStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(ctx, name)
	if err != nil {
		return err
	}

	err = s.writeTx(ctx, func(conn *sql.Conn) error {
		seq, err := nextSeq(ctx, conn, name)
		if err != nil {
			return err
		}
		for _, id := range ids {
			res, err := conn.ExecContext(ctx, `DELETE FROM points WHERE collection = ? AND id = ?`, name, id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if _, err := conn.ExecContext(ctx, upsertTombstoneSQL, name, id, seq); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return writeError("delete points", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.catchUp(ctx, c)
}

// Collections implements Store. Counts come from the database, so they
// include points written by other processes.
func (s *LocalStore) Collections(ctx context.Context) ([]CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT c.name, c.dimensions, c.created_at, COUNT(p.id)
FROM collections c LEFT JOIN points p ON p.collection = c.name
GROUP BY c.name, c.dimensions, c.created_at
ORDER BY c.name`)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "list collections", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]CollectionInfo, 0)
	for rows.Next() {
		var (
			info    CollectionInfo
			created string
		)
		if err := rows.Scan(&info.Name, &info.Dimensions, &created, &info.Points); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "list collections", err)
		}
		info.CreatedAt = parseTime(created)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "list collections", err)
	}
	return out, nil
}

// Close releases resources.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.collections = nil
	return s.db.Close()
}

func decodePoint(id string, blob []byte, payload string, dims int) (Point, error) {
	vec, err := decodeVector(blob, dims)
	if err != nil {
		return Point{}, fmt.Errorf("decode point %s: %w", id, err)
	}
	p := Point{ID: id, Vector: vec}
	if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return Point{}, fmt.Errorf("decode point %s: %w", id, err)
	}
	return p, nil
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != dims*4 {
		return nil, fmt.Errorf("vector is %d bytes, want %d", len(b), dims*4)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
