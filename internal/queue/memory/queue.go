// Package memory provides the bounded in-memory site queue used for admission.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of sites with context-aware operations.
type Queue struct {
	ch      chan crawler.Site
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity sites.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.Site, capacity),
	}
}

// Enqueue blocks until there is room for site or ctx ends. A canceled context
// always wins over free capacity.
func (q *Queue) Enqueue(ctx context.Context, site crawler.Site) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- site:
		return nil
	}
}

// Dequeue pops the next site. Once ctx is canceled no further sites are
// handed out, even if some are buffered.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Site, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Site{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return crawler.Site{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case site, ok := <-q.ch:
		if !ok {
			return crawler.Site{}, ErrClosed
		}
		return site, nil
	}
}

// Len reports the number of buffered sites.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain removes and returns every buffered site without blocking.
func (q *Queue) Drain() []crawler.Site {
	var out []crawler.Site
	for {
		select {
		case site, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, site)
		default:
			return out
		}
	}
}

// Close stops further enqueues; Enqueue must not be called afterwards.
// Buffered sites remain available to Dequeue.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
