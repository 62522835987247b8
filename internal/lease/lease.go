// Package lease provides the per-collection exclusion that keeps at most one
// Sync running for a collection at a time.
package lease

import (
	"context"
	"fmt"
	"sync"

	"github.com/bull/ragindex/internal/errs"
)

var (
	// ErrHeld is returned by Acquire when another holder owns the key.
	ErrHeld = fmt.Errorf("%w: sync already in progress", errs.ErrConflict)
	// ErrLost reports that a lease stopped being held before Release.
	ErrLost = fmt.Errorf("%w: sync lease lost", errs.ErrConflict)
)

// Lease is a held key.
type Lease interface {
	Release(ctx context.Context) error
	// Lost is closed when the holder can no longer be sure it owns the key.
	// Work guarded by the lease must stop writing once it is closed.
	Lost() <-chan struct{}
}

// Locker hands out leases. Acquire fails fast with ErrHeld instead of waiting.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Key builds the lease key for a tenant's collection.
func Key(tenantID, collectionID string) string {
	return tenantID + "/" + collectionID
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire takes key if it is free.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	l.held[key] = struct{}{}
	return &localLease{locker: l, key: key}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

// Lost returns nil: an in-process lease is held until released.
func (l *localLease) Lost() <-chan struct{} { return nil }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}
