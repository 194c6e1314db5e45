package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// Key layout:
//
//	col:<name>        -> collection descriptor (JSON)
//	pt:<name>:<id>    -> point (JSON)
const (
	collectionPrefix = "col:"
	pointPrefix      = "pt:"
)

func collectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

func pointKey(collection, id string) []byte {
	return []byte(pointPrefix + collection + ":" + id)
}

func pointPrefixFor(collection string) []byte {
	return []byte(pointPrefix + collection + ":")
}

// BadgerStore is an embedded Store kept in BadgerDB. Badger holds an
// exclusive lock on its directory, so a second process cannot open the
// same store while the first has it. The HNSW graph of every collection is
// rebuilt in memory on open.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to badger.Logger. Badger's info output is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenBadger opens or creates a Badger store in dir and rebuilds every
// collection index.
func OpenBadger(dir string, opts ...Option) (*BadgerStore, error) {
	o := applyOptions(opts)
	logger := o.logger.With("component", "vector")

	var bopts badger.Options
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "create vector directory", err).WithDetail("path", dir)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts.Logger = &badgerLogger{logger: logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		aerr := amerrors.New(amerrors.ErrCodeStoreFailed, "open vector store", err).WithDetail("path", dir)
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			aerr = aerr.WithSuggestion("another amanmem process has the badger vector store open; stop it or set vector.backend: sqlite")
		}
		return nil, aerr
	}

	s := &BadgerStore{
		db:          db,
		logger:      logger,
		now:         time.Now,
		collections: make(map[string]*collection),
	}
	if err := s.rebuild(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) rebuild() error {
	start := time.Now()
	points := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(collectionPrefix), PrefetchValues: true})
		defer it.Close()

		var descs []descriptor
		for it.Rewind(); it.Valid(); it.Next() {
			var d descriptor
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return fmt.Errorf("decode collection %s: %w", it.Item().Key(), err)
			}
			descs = append(descs, d)
		}

		for _, d := range descs {
			c := &collection{desc: d, ix: newIndex(d.Dimensions)}
			pit := txn.NewIterator(badger.IteratorOptions{Prefix: pointPrefixFor(d.Name), PrefetchValues: true})
			for pit.Rewind(); pit.Valid(); pit.Next() {
				var p Point
				if err := pit.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
					pit.Close()
					return fmt.Errorf("decode point %s: %w", pit.Item().Key(), err)
				}
				c.ix.put(p)
				points++
			}
			pit.Close()
			s.collections[d.Name] = c
		}
		return nil
	})
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "rebuild vector indexes", err)
	}

	s.logger.Info("vector_store_opened",
		slog.Int("collections", len(s.collections)),
		slog.Int("points", points),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (s *BadgerStore) get(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// EnsureCollection implements Store.
func (s *BadgerStore) EnsureCollection(ctx context.Context, name string, dims int) error {
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

	d := descriptor{Name: name, Dimensions: dims, CreatedAt: s.now().UTC()}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(collectionKey(name), data)
	}); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "create collection", err).WithDetail("collection", name)
	}

	s.collections[name] = &collection{desc: d, ix: newIndex(dims)}
	s.logger.Info("collection_created", slog.String("collection", name), slog.Int("dimensions", dims))
	return nil
}

// Upsert implements Store. All points are validated before any is written.
func (s *BadgerStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(name)
	if err != nil {
		return err
	}

	if err := validatePoints(name, c.desc.Dimensions, points); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range points {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode point %s: %w", p.ID, err)
		}
		if err := wb.Set(pointKey(name, p.ID), data); err != nil {
			return amerrors.New(amerrors.ErrCodeStoreFailed, "write points", err).WithDetail("collection", name)
		}
	}
	if err := wb.Flush(); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "write points", err).WithDetail("collection", name)
	}

	for _, p := range points {
		c.ix.put(p)
	}
	return nil
}

// Query implements Store.
func (s *BadgerStore) Query(ctx context.Context, name string, vec []float32, filter Filter, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if len(vec) != c.desc.Dimensions {
		return nil, amerrors.DimensionMismatch(name, c.desc.Dimensions, len(vec))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ix.search(vec, filter, limit), nil
}

// Scroll implements Store. Points come back in ID order.
func (s *BadgerStore) Scroll(ctx context.Context, name string, filter Filter, limit int) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	out := make([]Point, 0, len(c.ix.points))
	for _, p := range c.ix.points {
		if filter.Match(p.Payload) {
			out = append(out, p)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(pointKey(name, id)); err != nil {
			return amerrors.New(amerrors.ErrCodeStoreFailed, "delete points", err).WithDetail("collection", name)
		}
	}
	if err := wb.Flush(); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "delete points", err).WithDetail("collection", name)
	}

	for _, id := range ids {
		c.ix.remove(id)
	}
	return nil
}

// Collections implements Store.
func (s *BadgerStore) Collections(ctx context.Context) ([]CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	out := make([]CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		c.mu.RLock()
		out = append(out, CollectionInfo{
			Name:       c.desc.Name,
			Dimensions: c.desc.Dimensions,
			Points:     c.ix.len(),
			CreatedAt:  c.desc.CreatedAt,
		})
		c.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close releases resources.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.collections = nil
	return s.db.Close()
}
