package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePublishAndList(t *testing.T) {
	q := NewQueue(time.Minute)

	q.Publish(Notification{Kind: KindSyncCompleted, ProviderID: 1, Message: "Sync completed"})
	q.Publish(Notification{Kind: KindPriceChange, ProviderID: 1, Message: "3 prices changed"})

	got := q.List()
	require.Len(t, got, 2)
	assert.Equal(t, KindSyncCompleted, got[0].Kind)
	assert.Equal(t, KindPriceChange, got[1].Kind)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestQueueExpiry(t *testing.T) {
	q := NewQueue(30 * time.Second)

	current := time.Now()
	q.now = func() time.Time { return current }

	q.Publish(Notification{Kind: KindSyncFailed, Message: "old"})

	current = current.Add(31 * time.Second)
	q.Publish(Notification{Kind: KindSyncCompleted, Message: "new"})

	got := q.List()
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Message)
}

func TestQueueConcurrentPublish(t *testing.T) {
	q := NewQueue(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Publish(Notification{Kind: KindBalanceUpdated, Message: "balance"})
		}()
	}
	wg.Wait()

	assert.Len(t, q.List(), 20)
}
