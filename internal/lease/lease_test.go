package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/errs"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := Key("t1", "c1")

	first, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrHeld)
	assert.ErrorIs(t, err, errs.ErrConflict)

	other, err := l.Acquire(ctx, Key("t1", "c2"))
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker(t *testing.T) {
	exerciseLocker(t, NewLocalLocker())
}

func TestLocalLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	first, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx))

	second, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	// A stale release must not free the new holder's lease.
	require.NoError(t, first.Release(ctx))
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrHeld)
	require.NoError(t, second.Release(ctx))
}

func TestLocalLocker_OneWinnerUnderContention(t *testing.T) {
	l := NewLocalLocker()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "k"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLocalLease_NeverLost(t *testing.T) {
	held, err := NewLocalLocker().Acquire(context.Background(), "k")
	require.NoError(t, err)
	select {
	case <-held.Lost():
		t.Fatal("local lease reported lost")
	default:
	}
	require.NoError(t, held.Release(context.Background()))
}

func TestLocalLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalLocker().Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
