package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// Store reads and mutates the state document at one path.
type Store struct {
	path        string
	locker      Locker
	holder      string
	roots       []string
	lockTimeout time.Duration
	leaseTTL    time.Duration
	recover     bool
	logger      *slog.Logger
	now         func() time.Time

	// local serializes callers in this process so they queue on a channel
	// instead of polling the lease.
	local chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLocker selects the lease backend. Defaults to a FileLocker.
func WithLocker(l Locker) Option {
	return func(s *Store) { s.locker = l }
}

// WithHolder sets the identity written into leases.
func WithHolder(holder string) Option {
	return func(s *Store) { s.holder = holder }
}

// WithAllowedRoots restricts recorded paths to these directories.
func WithAllowedRoots(roots ...string) Option {
	return func(s *Store) { s.roots = roots }
}

// WithLockTimeout bounds how long Read and Update wait for the lease.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLeaseTTL sets how long an acquired lease stays valid. An Update whose
// critical section outlives it fails instead of writing.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Store) { s.leaseTTL = d }
}

// WithCorruptRecovery quarantines an unparseable document and starts fresh
// instead of failing.
func WithCorruptRecovery(enabled bool) Option {
	return func(s *Store) { s.recover = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares the store at path and migrates an older document in place.
// A missing document is not an error; it is created on the first Update.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path: %w", err)
	}

	s := &Store{
		path:        abs,
		lockTimeout: 5 * time.Second,
		leaseTTL:    30 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
		local:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "state"))
	if s.holder == "" {
		s.holder = DefaultHolder()
	}
	if s.locker == nil {
		s.locker = NewFileLocker(abs, s.logger)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if _, err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Holder returns the identity this store writes into leases.
func (s *Store) Holder() string {
	return s.holder
}

// withLease runs fn while holding both the in-process slot and the lease.
func (s *Store) withLease(ctx context.Context, fn func(lease *Lease) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case s.local <- struct{}{}:
	case <-timer.C:
		return amerrors.LockTimeout(s.path, s.holder, s.lockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.local }()

	wait := s.lockTimeout - time.Since(start)
	if wait < 0 {
		wait = 0
	}
	lease, err := s.locker.Acquire(ctx, s.holder, s.leaseTTL, wait)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			s.logger.Warn("lease_release_failed", slog.String("error", err.Error()))
		}
	}()

	return fn(lease)
}

// Read returns a consistent snapshot of the document. The lease is held
// only while the file is read.
func (s *Store) Read(ctx context.Context) (*Document, error) {
	var doc *Document
	err := s.withLease(ctx, func(*Lease) error {
		var err error
		doc, err = s.load()
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Update loads the document, applies mutate, stamps last_modified and
// writes it back atomically, all under the lease. If mutate returns an
// error nothing is written. Nor is anything written when the lease expired
// or was reclaimed while mutate ran; Update then returns a LeaseLost error.
func (s *Store) Update(ctx context.Context, mutate func(*Document) error) error {
	return s.withLease(ctx, func(lease *Lease) error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if err := mutate(doc); err != nil {
			return err
		}
		doc.Version = CurrentVersion
		doc.recompute()
		doc.Metadata.LastModified = s.now().UTC()
		return s.locker.Fence(ctx, lease, func() error { return s.write(doc) })
	})
}

// load reads the document. Callers must hold the lease.
func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewDocument(s.now().UTC()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	doc, err := decode(s.path, data)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, amerrors.ErrCorruptState) || !s.recover {
		return nil, err
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if rerr := os.Rename(s.path, quarantine); rerr != nil {
		return nil, fmt.Errorf("failed to quarantine corrupt state: %w", rerr)
	}
	s.logger.Warn("corrupt_state_reinitialized",
		slog.String("path", s.path),
		slog.String("quarantined_to", quarantine),
		slog.String("error", err.Error()))
	return NewDocument(s.now().UTC()), nil
}

// decode parses a document at any supported version into the current
// schema. Older versions are converted in memory only.
func decode(path string, data []byte) (*Document, error) {
	version, err := probeVersion(data)
	if err != nil {
		return nil, amerrors.CorruptState(path, err)
	}

	switch {
	case version > CurrentVersion:
		return nil, amerrors.UnsupportedVersion(path, version, CurrentVersion)
	case version < CurrentVersion:
		doc, err := migrateV1(data)
		if err != nil {
			return nil, amerrors.MigrationFailure(path, version, CurrentVersion, err)
		}
		return doc, nil
	}

	if err := validateDocument(data); err != nil {
		return nil, amerrors.CorruptState(path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, amerrors.CorruptState(path, err)
	}
	doc.ensureMaps()
	return &doc, nil
}

func (s *Store) write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to write state", err).WithDetail("path", s.path)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory,
// fsyncs it, and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}

	// Persist the rename itself. Not supported everywhere, so best effort.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
