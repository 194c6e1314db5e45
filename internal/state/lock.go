package state

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// Lease is the advisory lock on one state document. It is valid only while
// AcquiredAt < now < ExpiresAt; an expired lease is treated as absent.
type Lease struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TxnID      string    `json:"txn_id"`
}

// Valid reports whether the lease is live at now.
func (l *Lease) Valid(now time.Time) bool {
	return l != nil && l.AcquiredAt.Before(now) && now.Before(l.ExpiresAt)
}

// Locker grants leases on a state document. Implementations differ only in
// where the lease lives; validity and expiry work the same for all of them.
type Locker interface {
	// Acquire waits up to wait for a lease valid for ttl, returning a
	// LockTimeout error when it cannot get one.
	Acquire(ctx context.Context, holder string, ttl, wait time.Duration) (*Lease, error)
	// Release drops the lease if it is still the current one.
	Release(ctx context.Context, lease *Lease) error
	// Fence calls commit only while lease is still the current, unexpired
	// lease, and keeps it from being reclaimed until commit returns. A lost
	// lease is a LeaseLost error and commit is not called.
	Fence(ctx context.Context, lease *Lease, commit func() error) error
}

// DefaultHolder identifies this process in lease files.
func DefaultHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

const pollInterval = 20 * time.Millisecond

func newLease(holder string, now time.Time, ttl time.Duration) *Lease {
	// Back-date acquisition by a nanosecond so the lease is valid at now.
	return &Lease{
		Holder:     holder,
		AcquiredAt: now.Add(-time.Nanosecond),
		ExpiresAt:  now.Add(ttl),
		TxnID:      uuid.NewString(),
	}
}

// heldBy reports whether current is ours and still live.
func heldBy(current, ours *Lease, now time.Time) bool {
	return current != nil && ours != nil && current.TxnID == ours.TxnID && current.Valid(now)
}

func holderOf(l *Lease) string {
	if l == nil {
		return ""
	}
	return l.Holder
}

// waitTick sleeps one poll interval, or returns false when the deadline or
// the context ends first.
func waitTick(ctx context.Context, deadline time.Time) (bool, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, nil
	}
	d := pollInterval
	if remaining < d {
		d = remaining
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.C:
		return true, nil
	}
}

// MemoryLocker keeps leases in process memory. Suitable when a single
// process owns the state document, and for tests.
type MemoryLocker struct {
	name string
	now  func() time.Time

	mu      sync.Mutex
	current *Lease
}

// NewMemoryLocker returns a locker for the document called name.
func NewMemoryLocker(name string) *MemoryLocker {
	return &MemoryLocker{name: name, now: time.Now}
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(ctx context.Context, holder string, ttl, wait time.Duration) (*Lease, error) {
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		now := m.now()
		if !m.current.Valid(now) {
			m.current = newLease(holder, now, ttl)
			lease := *m.current
			m.mu.Unlock()
			return &lease, nil
		}
		owner := m.current.Holder
		m.mu.Unlock()

		ok, err := waitTick(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, amerrors.LockTimeout(m.name, owner, wait)
		}
	}
}

// Fence implements Locker.
func (m *MemoryLocker) Fence(_ context.Context, lease *Lease, commit func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !heldBy(m.current, lease, m.now()) {
		return amerrors.LeaseLost(m.name, holderOf(lease))
	}
	return commit()
}

// Release implements Locker.
func (m *MemoryLocker) Release(_ context.Context, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lease != nil && m.current != nil && m.current.TxnID == lease.TxnID {
		m.current = nil
	}
	return nil
}
