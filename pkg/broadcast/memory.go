package broadcast

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker: all subscribers within one process
// share the topic, mirroring a per-profile browser broadcast channel.
type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan []byte
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]chan []byte)}
}

// Publish fans the payload out to every subscriber. Delivery is best effort:
// a subscriber that stopped draining its channel is skipped rather than
// blocking the sender.
func (b *MemoryBroker) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (b *MemoryBroker) Subscribe(_ context.Context) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}
