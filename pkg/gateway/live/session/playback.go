package session

import (
	"sync"
	"time"
)

const defaultQueueCapacity = 2

// playbackItem is one synthesized audio payload on its way to the client.
type playbackItem struct {
	id         string
	audio      []byte
	mimeType   string
	enqueuedAt time.Time
}

// playbackQueue holds audio awaiting delivery plus delivered items awaiting
// the client's played confirmation. Capacity applies to the undelivered FIFO:
// when full, the oldest undelivered item is evicted to keep latency bounded.
type playbackQueue struct {
	mu       sync.Mutex
	capacity int
	pending  []*playbackItem
	awaiting map[string]*playbackItem
	playing  bool
	now      func() time.Time
}

func newPlaybackQueue(capacity int, now func() time.Time) *playbackQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &playbackQueue{
		capacity: capacity,
		pending:  make([]*playbackItem, 0, capacity),
		awaiting: make(map[string]*playbackItem),
		now:      now,
	}
}

// Enqueue adds an item and returns the evicted oldest item when the queue
// was already at capacity, nil otherwise.
func (q *playbackQueue) Enqueue(item *playbackItem) *playbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.enqueuedAt = q.now()

	var evicted *playbackItem
	if len(q.pending) >= q.capacity {
		evicted = q.pending[0]
		q.pending = append(q.pending[:0], q.pending[1:]...)
	}
	q.pending = append(q.pending, item)
	return evicted
}

// Next pops the oldest undelivered item, records it as awaiting confirmation,
// and raises the playing flag. Returns nil when nothing is queued.
func (q *playbackQueue) Next() *playbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = append(q.pending[:0], q.pending[1:]...)
	q.awaiting[item.id] = item
	q.playing = true
	return item
}

// NextIfIdle pops the next item only when no delivered item is awaiting
// confirmation, keeping at most one chunk in flight.
func (q *playbackQueue) NextIfIdle() *playbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.awaiting) > 0 || len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = append(q.pending[:0], q.pending[1:]...)
	q.awaiting[item.id] = item
	q.playing = true
	return item
}

// Confirm marks a delivered item as played. The playing flag drops once no
// delivered item remains unconfirmed and nothing is queued.
func (q *playbackQueue) Confirm(id string) (*playbackItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.awaiting[id]
	if !ok {
		return nil, false
	}
	delete(q.awaiting, id)
	if len(q.awaiting) == 0 && len(q.pending) == 0 {
		q.playing = false
	}
	return item, true
}

// Playing reports whether assistant audio is queued, in flight, or awaiting
// confirmation.
func (q *playbackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// EndTurn clears the playing flag at upstream turn completion regardless of
// outstanding confirmations, so a client that never confirms cannot wedge
// the microphone shut.
func (q *playbackQueue) EndTurn() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playing = false
}

// Reset drops all queued and awaiting items. Used on interruption.
func (q *playbackQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = q.pending[:0]
	q.awaiting = make(map[string]*playbackItem)
	q.playing = false
}

// Len reports the number of undelivered items.
func (q *playbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
