// Package events provides a small in-memory notification queue with a
// per-entry TTL. Sync and lifecycle operations publish here instead of
// pushing to the orchestrator, so a slow or absent consumer can never
// stall a sync.
package events

import (
	"sync"
	"time"
)

// Kind labels what a notification is about.
type Kind string

const (
	KindSyncCompleted   Kind = "sync_completed"
	KindSyncFailed      Kind = "sync_failed"
	KindPriceChange     Kind = "price_change"
	KindBalanceUpdated  Kind = "balance_updated"
	KindProviderTrashed Kind = "provider_trashed"
	KindProviderDeleted Kind = "provider_deleted"
)

// Notification is one published event. Data is a small, JSON-friendly
// payload shaped per kind.
type Notification struct {
	Kind       Kind                   `json:"kind"`
	ProviderID int64                  `json:"providerId,omitempty"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`

	expiresAt time.Time
}

// Queue holds recent notifications until their TTL elapses. Expired
// entries are dropped lazily on the next Publish or List.
type Queue struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []Notification
	now     func() time.Time
}

// NewQueue creates a queue whose entries live for ttl.
func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Queue{ttl: ttl, now: time.Now}
}

// Publish appends a notification. It never blocks.
func (q *Queue) Publish(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n.CreatedAt = now
	n.expiresAt = now.Add(q.ttl)

	q.prune(now)
	q.entries = append(q.entries, n)
}

// List returns all live notifications, oldest first.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune(q.now())

	out := make([]Notification, len(q.entries))
	copy(out, q.entries)
	return out
}

// prune drops expired entries. Caller holds the lock.
func (q *Queue) prune(now time.Time) {
	live := q.entries[:0]
	for _, e := range q.entries {
		if e.expiresAt.After(now) {
			live = append(live, e)
		}
	}
	q.entries = live
}
