// Package events publishes notifications about finished syncs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectSyncCompleted is the NATS subject sync results are published on.
const SubjectSyncCompleted = "ragindex.sync.completed"

// SyncCompleted describes one finished Sync call.
type SyncCompleted struct {
	TenantID     string        `json:"tenant_id"`
	CollectionID string        `json:"collection_id"`
	Added        int           `json:"added"`
	Deleted      int           `json:"deleted"`
	Updated      int           `json:"updated"`
	Failed       []string      `json:"failed,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Publisher delivers sync notifications.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, ev SyncCompleted) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishSyncCompleted(context.Context, SyncCompleted) error { return nil }

// NATSPublisher publishes events as JSON over core NATS.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher publishes on subject, or SubjectSyncCompleted when empty.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = SubjectSyncCompleted
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) PublishSyncCompleted(ctx context.Context, ev SyncCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}
