package vector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

type descriptor struct {
	Name       string    `json:"name"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

type collection struct {
	mu   sync.RWMutex
	desc descriptor
	ix   *index

	// seq is the last change of this collection applied to ix. Only the
	// SQLite store tracks it.
	seq int64
}

// Option configures a local store.
type Option func(*localOptions)

type localOptions struct {
	inMemory bool
	logger   *slog.Logger
}

// WithInMemory keeps everything in memory; the path is ignored.
func WithInMemory() Option {
	return func(o *localOptions) { o.inMemory = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *localOptions) { o.logger = l }
}

func applyOptions(opts []Option) localOptions {
	o := localOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens the local store for backend in dir.
func Open(backend, dir string, opts ...Option) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return OpenLocal(dir, opts...)
	case BackendBadger:
		return OpenBadger(dir, opts...)
	default:
		return nil, amerrors.ValidationError(fmt.Sprintf("unknown vector backend %q", backend), nil)
	}
}

// validatePoints checks every point before anything is written.
func validatePoints(name string, dims int, points []Point) error {
	for _, p := range points {
		if p.ID == "" {
			return amerrors.ValidationError("point id is empty", nil)
		}
		if len(p.Vector) != dims {
			return amerrors.DimensionMismatch(name, dims, len(p.Vector))
		}
	}
	return nil
}

func errClosed() error {
	return fmt.Errorf("vector store is closed")
}
