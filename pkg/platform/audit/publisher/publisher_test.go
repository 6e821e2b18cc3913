package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventGrantIssued),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventGrantIssued), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	subject := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventSeatActivated),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), subject)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	subject := uuid.NewString()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Subject: subject,
			Action:  string(audit.EventEntitlementChecked),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	subject := uuid.NewString()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				Subject: subject,
				Action:  string(audit.EventEntitlementChecked),
			})
			if err != nil {
				assert.True(t, errors.Is(err, ErrBufferFull))
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	before := time.Now()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventEntitlementDenied),
	})
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		Subject:   subject,
		Action:    string(audit.EventGrantIssued),
		Timestamp: customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_DifferentSubjects(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	first, second := uuid.NewString(), uuid.NewString()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: first, Action: string(audit.EventGrantIssued)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: second, Action: string(audit.EventSeatActivated)}))

	events1, err := pub.List(context.Background(), first)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventGrantIssued), events1[0].Action)

	events2, err := pub.List(context.Background(), second)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, string(audit.EventSeatActivated), events2[0].Action)
}
