package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// FileLocker stores the lease in a sidecar file next to the state document
// so it is visible to every process. An OS advisory lock (flock on Unix,
// LockFileEx on Windows) guards only the read-modify-write of the sidecar,
// never the caller's critical section.
type FileLocker struct {
	leasePath string
	guardPath string
	logger    *slog.Logger
	now       func() time.Time
}

// NewFileLocker returns a locker for the state document at statePath.
func NewFileLocker(statePath string, logger *slog.Logger) *FileLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLocker{
		leasePath: statePath + ".lease",
		guardPath: statePath + ".lease.lock",
		logger:    logger,
		now:       time.Now,
	}
}

// LeasePath is the sidecar holding the current lease.
func (f *FileLocker) LeasePath() string {
	return f.leasePath
}

// Acquire implements Locker.
func (f *FileLocker) Acquire(ctx context.Context, holder string, ttl, wait time.Duration) (*Lease, error) {
	deadline := time.Now().Add(wait)
	lastOwner := ""
	for {
		lease, owner, err := f.tryAcquire(holder, ttl)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}
		if owner != "" {
			lastOwner = owner
		}

		ok, err := waitTick(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, amerrors.LockTimeout(f.leasePath, lastOwner, wait)
		}
	}
}

// tryAcquire makes one attempt. It returns the new lease, or nil and the
// current owner when a live lease exists. While another process holds the
// guard the owner is read from the lease file as it stands; it is replaced
// atomically, so the read never sees a partial write.
func (f *FileLocker) tryAcquire(holder string, ttl time.Duration) (*Lease, string, error) {
	guard := flock.New(f.guardPath)
	locked, err := guard.TryLock()
	if err != nil {
		return nil, "", fmt.Errorf("failed to lock %s: %w", f.guardPath, err)
	}
	if !locked {
		if current, err := f.readLease(); err == nil && current.Valid(f.now()) {
			return nil, current.Holder, nil
		}
		return nil, "", nil
	}
	defer func() { _ = guard.Unlock() }()

	now := f.now()
	current, err := f.readLease()
	if err != nil {
		return nil, "", err
	}
	if current.Valid(now) {
		return nil, current.Holder, nil
	}
	if current != nil {
		f.logger.Warn("stale_lease_reclaimed",
			slog.String("path", f.leasePath),
			slog.String("previous_holder", current.Holder),
			slog.Time("expired_at", current.ExpiresAt))
	}

	lease := newLease(holder, now, ttl)
	data, err := json.Marshal(lease)
	if err != nil {
		return nil, "", err
	}
	if err := writeFileAtomic(f.leasePath, data); err != nil {
		return nil, "", fmt.Errorf("failed to write lease: %w", err)
	}
	return lease, "", nil
}

// Release implements Locker.
func (f *FileLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	guard := flock.New(f.guardPath)
	locked, err := guard.TryLockContext(ctx, pollInterval)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", f.guardPath, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", f.guardPath)
	}
	defer func() { _ = guard.Unlock() }()

	current, err := f.readLease()
	if err != nil {
		return err
	}
	if current == nil || current.TxnID != lease.TxnID {
		// Expired and reclaimed by someone else; nothing of ours to remove.
		return nil
	}
	if err := os.Remove(f.leasePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lease: %w", err)
	}
	return nil
}

// Fence implements Locker. commit runs under the guard, so no other
// process can reclaim the lease while it does.
func (f *FileLocker) Fence(ctx context.Context, lease *Lease, commit func() error) error {
	guard := flock.New(f.guardPath)
	locked, err := guard.TryLockContext(ctx, pollInterval)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", f.guardPath, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", f.guardPath)
	}
	defer func() { _ = guard.Unlock() }()

	current, err := f.readLease()
	if err != nil {
		return err
	}
	if !heldBy(current, lease, f.now()) {
		f.logger.Warn("lease_lost_before_write",
			slog.String("path", f.leasePath),
			slog.String("holder", holderOf(lease)))
		return amerrors.LeaseLost(f.leasePath, holderOf(lease))
	}
	return commit()
}

// readLease returns nil when no lease file exists. An unreadable lease is
// treated as expired.
func (f *FileLocker) readLease() (*Lease, error) {
	data, err := os.ReadFile(f.leasePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		f.logger.Warn("lease_unreadable", slog.String("path", f.leasePath), slog.String("error", err.Error()))
		return &Lease{Holder: "unknown"}, nil
	}
	return &l, nil
}
