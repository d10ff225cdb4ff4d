package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.Site, 1)
	errCh := make(chan error, 1)

	go func() {
		site, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- site
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.Site{Name: "acme"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		assert.Equal(t, "acme", got.Name)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return site")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), crawler.Site{Name: "buffered"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")
	require.EqualError(t, q.Enqueue(ctx, crawler.Site{}), "enqueue canceled: context canceled")
	assert.Equal(t, 1, q.Len(), "a canceled dequeue must not consume buffered sites")
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.Site{Name: "first"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, crawler.Site{Name: "second"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseAndDrain(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.Site{Name: "a"}))
	require.NoError(t, q.Enqueue(ctx, crawler.Site{Name: "b"}))
	q.Close()
	q.Close()

	site, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", site.Name)

	rest := q.Drain()
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].Name)

	_, err = q.Dequeue(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Empty(t, q.Drain())
}
