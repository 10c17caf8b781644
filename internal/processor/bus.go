package processor

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrBusClosed = errors.New("event bus is closed")

// Bus fans pipeline events out to subscribers. Publish never blocks: an event
// is dropped for any subscriber whose buffer is full.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*busSubscriber
	nextID uint64
	closed bool

	published atomic.Uint64
}

type busSubscriber struct {
	ch       chan Event
	streamID string
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*busSubscriber)}
}

// Subscribe returns a channel of events, limited to streamID when non-empty,
// and a function that unsubscribes and closes the channel.
func (b *Bus) Subscribe(streamID string, buffer int) (<-chan Event, func(), error) {
	if buffer <= 0 {
		buffer = 32
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}

	b.nextID++
	id := b.nextID
	sub := &busSubscriber{ch: make(chan Event, buffer), streamID: streamID}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, nil
}

func (b *Bus) Publish(ev Event) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.streamID != "" && sub.streamID != ev.StreamID {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BusStats{Subscribers: len(b.subs), Published: b.published.Load()}
	for _, sub := range b.subs {
		s.Sent += sub.sent.Load()
		s.Dropped += sub.dropped.Load()
	}
	return s
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
