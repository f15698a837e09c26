package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan string, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue() error = %v", err)
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), "abc"))
	select {
	case got := <-result:
		assert.Equal(t, "abc", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestPreloadDrainsInOrderThenReportsDrained(t *testing.T) {
	t.Parallel()

	q := Preload([]string{"a", "b", "a"})
	assert.Equal(t, 3, q.Len())
	for _, want := range []string{"a", "b", "a"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, harvest.ErrQueueDrained)
	require.ErrorIs(t, q.Enqueue(context.Background(), "late"), ErrQueueClosed)
}

func TestQueueHandsEachItemOut(t *testing.T) {
	t.Parallel()

	items := make([]string, 200)
	for i := range items {
		items[i] = string(rune('A' + i%26))
	}
	q := Preload(items)

	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := q.Dequeue(context.Background()); err != nil {
					return
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, len(items), count)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := Preload([]string{"a"})
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), "primed"))
	require.ErrorIs(t, full.Enqueue(ctx, "blocked"), context.Canceled)

	full.Close()
	full.Close()
}
