package lease

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// DefaultBucket is the JetStream key-value bucket holding sync leases.
	DefaultBucket = "ragindex_sync_leases"
	// DefaultTTL is how long an unrefreshed lease survives a crashed holder.
	DefaultTTL = 2 * time.Minute
)

// NATSLocker keeps leases in a JetStream key-value bucket so that several
// server replicas share one view of running syncs. Keys expire after the
// bucket TTL; holders refresh them while running.
type NATSLocker struct {
	kv     nats.KeyValue
	ttl    time.Duration
	owner  string
	logger *slog.Logger
}

var _ Locker = (*NATSLocker)(nil)

// NewNATSLocker opens or creates the lease bucket.
func NewNATSLocker(nc *nats.Conn, bucket string, ttl time.Duration, logger *slog.Logger) (*NATSLocker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "ragindex per-collection sync leases",
			TTL:         ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("lease bucket %s: %w", bucket, err)
	}

	host, _ := os.Hostname()
	return &NATSLocker{
		kv:     kv,
		ttl:    ttl,
		owner:  fmt.Sprintf("%s/%d", host, os.Getpid()),
		logger: logger,
	}, nil
}

// Acquire creates the key, failing with ErrHeld if it already exists.
func (l *NATSLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := encodeKey(key)
	rev, err := l.kv.Create(k, []byte(l.owner))
	if errors.Is(err, nats.ErrKeyExists) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	lease := &natsLease{
		locker: l,
		key:    key,
		kvKey:  k,
		rev:    rev,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go lease.keepAlive()
	return lease, nil
}

// NATS keys allow a restricted alphabet; tenant and collection ids do not.
func encodeKey(key string) string {
	return "sync." + base64.RawURLEncoding.EncodeToString([]byte(key))
}

type natsLease struct {
	locker *NATSLocker
	key    string
	kvKey  string

	mu  sync.Mutex
	rev uint64

	once sync.Once
	stop chan struct{}
	done chan struct{}
	lost chan struct{}
}

// keepAlive rewrites the key before the bucket TTL expires it. The first
// failed refresh closes lost and ends the loop.
func (l *natsLease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			rev, err := l.locker.kv.Update(l.kvKey, []byte(l.locker.owner), l.rev)
			if err == nil {
				l.rev = rev
			}
			l.mu.Unlock()
			if err != nil {
				l.locker.logger.Warn("Failed to refresh sync lease", "key", l.key, "error", err)
				close(l.lost)
				return
			}
		}
	}
}

func (l *natsLease) Lost() <-chan struct{} { return l.lost }

// Release deletes the key if this lease still owns it. A lost lease is not
// deleted; whatever is left of it expires with the bucket TTL.
func (l *natsLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		select {
		case <-l.lost:
			return
		default:
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		err = l.locker.kv.Delete(l.kvKey, nats.LastRevision(l.rev))
		if err != nil {
			err = fmt.Errorf("release lease %s: %w", l.key, err)
		}
	})
	return err
}
