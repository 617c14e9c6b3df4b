package relay

import (
	"context"
	"sync"
	"time"
)

const (
	// EventCollaborationEnabled announces that a draft migrated from solo to
	// collaborative editing and carries the seeded state for new participants.
	EventCollaborationEnabled = "collaboration-enabled"
	// EventDraftSaved announces a solo snapshot write so other tabs of the
	// same author can refresh.
	EventDraftSaved = "draft-saved"
)

// Event is one notification fanned out to an author's open streams.
type Event struct {
	AuthorID    string
	EventType   string
	DraftID     string
	StoredState string
	Timestamp   time.Time
}

// Dispatcher fans events out to every open stream of an author. Delivery is
// best effort: a subscriber that stops draining its buffer loses messages
// rather than blocking the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
	done   chan struct{}
}

// NewDispatcher returns a Dispatcher with no subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the author. The stream is released when the
// context ends or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, authorID string) (<-chan Event, func()) {
	if authorID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
		done:   make(chan struct{}),
	}
	d.register(authorID, sub)
	cleanup := func() {
		d.unregister(authorID, sub.id)
	}
	// The watcher must also stop on explicit cleanup, or it would wait
	// forever on a context that never cancels.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every current subscriber of its author.
func (d *Dispatcher) Publish(event Event) {
	if event.AuthorID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.AuthorID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(authorID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[authorID]; !ok {
		d.subscribers[authorID] = make(map[int64]*subscriber)
	}
	d.subscribers[authorID][sub.id] = sub
}

func (d *Dispatcher) unregister(authorID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[authorID]
	sub, present := subscribers[subscriberID]
	if present {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, authorID)
		}
	}
	d.mu.Unlock()
	// Closing under the presence check keeps a second unregister (cleanup
	// racing with context cancellation) from closing done twice.
	if present {
		close(sub.done)
	}
}
