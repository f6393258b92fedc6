// Package dedupe remembers idempotency keys of match saves so that a client
// retrying a request does not apply the same change twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 10_000

// Deduper records idempotency keys together with the ID of the record the
// first request produced. A key is in flight from SeenAndRecord until Commit
// or Unrecord settles it.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was seen. If it was, the
	// recorded value is returned with true. Otherwise value is recorded as in
	// flight and false is returned.
	SeenAndRecord(ctx context.Context, key, value string) (string, bool)

	// Commit marks key as applied and releases waiters.
	Commit(ctx context.Context, key string)

	// Unrecord forgets key, allowing a failed request to be retried.
	Unrecord(ctx context.Context, key string)

	// Wait blocks until key is settled. It returns the recorded value and
	// true if the first request was committed, false if the key was
	// unrecorded or is unknown.
	Wait(ctx context.Context, key string) (string, bool, error)

	Size() int64
}

type entry struct {
	key       string
	value     string
	done      chan struct{}
	settled   bool
	committed bool
}

// settle must be called with the deduper lock held.
func (e *entry) settle(committed bool) {
	if e.settled {
		return
	}
	e.settled, e.committed = true, committed
	close(e.done)
}

// inMemoryDeduper evicts the oldest key once maxSize is reached.
// maxSize <= 0 keeps every key.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front is oldest
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key, value string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		return el.Value.(*entry).value, true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[key] = d.order.PushBack(&entry{key: key, value: value, done: make(chan struct{})})
	d.size.Add(1)
	return value, false
}

func (d *inMemoryDeduper) Commit(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		el.Value.(*entry).settle(true)
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		el.Value.(*entry).settle(false)
		d.order.Remove(el)
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Wait(ctx context.Context, key string) (string, bool, error) {
	d.mu.Lock()
	el, ok := d.seen[key]
	if !ok {
		d.mu.Unlock()
		return "", false, nil
	}
	e := el.Value.(*entry)
	d.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return e.value, e.committed, nil
}

// evictOldest must be called with d.mu held. Waiters on an evicted key are
// released as if it had been unrecorded.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Front()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	if !e.settled {
		e.settle(false)
	}
	d.order.Remove(el)
	delete(d.seen, e.key)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
