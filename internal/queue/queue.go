// Package queue implements the bounded, priority-ordered admission queue
// from spec §4.3: in-flight inspect requests keyed by asset id, with
// coalescing of duplicate submissions and per-entry deadlines.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cs2inspect/gateway/internal/domain"
)

// AddResult reports the outcome of Add.
type AddResult int

const (
	Added AddResult = iota
	Coalesced
	Full
)

// Completion is attached to a QueueEntry; every caller waiting on the same
// asset id shares one and all are notified when it resolves.
type Completion struct {
	requestID uuid.UUID

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	result domain.InspectResult
	err    error
}

func newCompletion(requestID uuid.UUID) *Completion {
	return &Completion{requestID: requestID, done: make(chan struct{})}
}

// RequestID returns the id minted for the entry this completion belongs
// to, for correlating admission-time logs with dispatch-time logs.
func (c *Completion) RequestID() uuid.UUID { return c.requestID }

// Resolve completes the completion exactly once; subsequent calls are
// no-ops, matching the single-physical-inspect guarantee in spec §4.3.
func (c *Completion) Resolve(result domain.InspectResult, err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = result
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Wait blocks until done is closed, then returns the completion's current
// result; pass Done() to wait for resolution.
func (c *Completion) Wait(done <-chan struct{}) (domain.InspectResult, error) {
	<-done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Done exposes the completion's channel for select statements.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Entry is one admitted inspect request (spec §3 QueueEntry).
type Entry struct {
	RequestID  uuid.UUID
	AssetID    uint64
	Owner      uint64
	Proof      uint64
	MarketID   uint64
	EnqueuedAt time.Time
	Deadline   time.Time
	Priority   domain.Priority
	RetryCount int

	Completion *Completion

	index int // heap bookkeeping
}

// Queue is a bounded, coalescing, priority-ordered admission queue.
type Queue struct {
	mu       sync.Mutex
	maxSize  int
	timeout  time.Duration
	byAsset  map[uint64]*Entry
	pq       entryHeap
	onExpire func(*Entry)
}

// New creates a Queue with the given capacity and per-entry timeout.
// onExpire, if non-nil, is invoked (off the queue's lock) for every entry
// removed by timeout.
func New(maxSize int, timeout time.Duration, onExpire func(*Entry)) *Queue {
	return &Queue{
		maxSize:  maxSize,
		timeout:  timeout,
		byAsset:  make(map[uint64]*Entry),
		onExpire: onExpire,
	}
}

// Add admits assetID into the queue, or coalesces it onto an existing entry
// for the same asset id. Returns the entry's Completion so the caller can
// await it, along with which of Added/Coalesced/Full occurred.
func (q *Queue) Add(assetID, owner, proof, marketID uint64, priority domain.Priority) (*Completion, AddResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byAsset[assetID]; ok {
		return existing.Completion, Coalesced
	}

	if len(q.byAsset) >= q.maxSize {
		return nil, Full
	}

	now := time.Now()
	requestID := uuid.New()
	e := &Entry{
		RequestID:  requestID,
		AssetID:    assetID,
		Owner:      owner,
		Proof:      proof,
		MarketID:   marketID,
		EnqueuedAt: now,
		Deadline:   now.Add(q.timeout),
		Priority:   priority,
		Completion: newCompletion(requestID),
	}
	q.byAsset[assetID] = e
	heap.Push(&q.pq, e)

	q.scheduleExpiry(e)

	return e.Completion, Added
}

// scheduleExpiry arms a timer that removes e and resolves its completion
// with InspectTimeout once its deadline passes (spec §4.3 Timeouts),
// unless it has already been removed by then.
func (q *Queue) scheduleExpiry(e *Entry) {
	d := time.Until(e.Deadline)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() {
		q.mu.Lock()
		current, ok := q.byAsset[e.AssetID]
		if !ok || current != e {
			q.mu.Unlock()
			return
		}
		delete(q.byAsset, e.AssetID)
		heap.Remove(&q.pq, e.index)
		q.mu.Unlock()

		e.Completion.Resolve(domain.InspectResult{}, domain.ErrInspectTimeout)
		if q.onExpire != nil {
			q.onExpire(e)
		}
	})
}

// Remove removes assetID from the queue without resolving its completion
// (the caller is expected to do so itself, e.g. on successful dispatch).
func (q *Queue) Remove(assetID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byAsset[assetID]
	if !ok {
		return
	}
	delete(q.byAsset, assetID)
	heap.Remove(&q.pq, e.index)
}

// Pop removes and returns the highest-priority, earliest-enqueued entry, or
// nil if the queue is empty.
func (q *Queue) Pop() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pq.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.pq).(*Entry)
	delete(q.byAsset, e.AssetID)
	return e
}

// Size returns the current number of resident entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byAsset)
}

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byAsset) >= q.maxSize
}

// Metrics returns the priority distribution of resident entries (spec §3
// FleetMetrics).
func (q *Queue) Metrics() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[domain.Priority]int{}
	for _, e := range q.byAsset {
		out[e.Priority]++
	}
	return out
}

// entryHeap orders by (priority desc, enqueuedAt asc) per spec §4.3.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
