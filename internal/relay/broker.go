package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Event kinds.
const (
	KindCall   = "call"
	KindTunnel = "tunnel"
)

// Event is one live-feed item for a proxy.
type Event struct {
	ProxyID string
	Kind    string
	Payload string
}

type subscriber struct {
	proxyID string
	ch      chan Event
}

// Broker fans out events to SSE clients watching a proxy.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]subscriber
	nextID      atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]subscriber)}
}

// Subscribe registers a client for events of proxyID; an empty proxyID
// receives every event. The channel is buffered and slow consumers have
// events dropped.
func (b *Broker) Subscribe(proxyID string) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = subscriber{proxyID: proxyID, ch: ch}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers evt without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.proxyID != "" && sub.proxyID != evt.ProxyID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
