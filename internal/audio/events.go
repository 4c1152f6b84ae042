package audio

import (
	"slices"
	"sync"
	"time"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

// Topic is a typed publish/subscribe channel. The zero value is ready to use.
// Handlers run synchronously on the publishing goroutine and must not block.
type Topic[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// Subscribe registers h and returns a function that removes it
func (t *Topic[T]) Subscribe(h func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subs == nil {
		t.subs = make(map[uint64]func(T))
	}
	id := t.next
	t.next++
	t.subs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Publish delivers v to every current subscriber in subscription order
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.subs[id])
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len returns the number of subscribers
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

type LoadEvent struct {
	Track    types.Track
	URL      string
	Duration time.Duration
}

type PlayEvent struct {
	Track    types.Track
	Position time.Duration
}

type PauseEvent struct {
	Track    types.Track
	Position time.Duration
}

// EndEvent fires when the active handle reaches the end of its stream
type EndEvent struct {
	Track types.Track
}

type SeekEvent struct {
	Position time.Duration
}

// URLExpiredEvent fires when a URL failed to load twice and should be re-resolved
type URLExpiredEvent struct {
	Track types.Track
	Err   error
}

type LockForceResetEvent struct {
	PreviousID string
	At         time.Time
}

type ErrorEvent struct {
	Op  OpKind
	Err error
}

// Events is the transport's event bus
type Events struct {
	Load           Topic[LoadEvent]
	Play           Topic[PlayEvent]
	Pause          Topic[PauseEvent]
	End            Topic[EndEvent]
	Seek           Topic[SeekEvent]
	URLExpired     Topic[URLExpiredEvent]
	LockForceReset Topic[LockForceResetEvent]
	Error          Topic[ErrorEvent]
}

// NewEvents creates an empty bus
func NewEvents() *Events {
	return &Events{}
}
