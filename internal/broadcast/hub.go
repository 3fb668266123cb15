// Package broadcast fans out snapshot updates from a single producer to
// many WebSocket sessions. The registration and non-blocking publish
// pattern is adapted from go-server-3/internal/session/hub.go's Hub,
// without its sharding (one subscriber map behind a single RWMutex), and
// specialized to per-subscriber bounded channels instead of one
// shared broadcast queue, so a lagging subscriber can be dropped-from
// without affecting any other receiver.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
)

// Receiver is what a WebSocket session holds after Subscribe.
type Receiver struct {
	id      uint64
	ch      chan interface{}
	lagged  int32
	closed  int32
	hub     *Hub
}

// C returns the channel of inbound messages. A receive on a closed
// receiver's channel yields a closed, drained channel (never blocks
// forever).
func (r *Receiver) C() <-chan interface{} { return r.ch }

// Lagged reports whether this receiver has ever had messages dropped in
// its favor.
func (r *Receiver) Lagged() bool { return atomic.LoadInt32(&r.lagged) == 1 }

// Close releases the receiver's slot in the hub. Safe to call multiple
// times.
func (r *Receiver) Close() {
	r.hub.unsubscribe(r)
}

// Hub is the broadcast hub: publish never blocks on a slow consumer.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Receiver
	nextID      uint64
	bufferSize  int
	metrics     *metrics.Registry
}

// New builds a Hub whose per-subscriber channel holds bufferSize pending
// messages before the subscriber is marked lagged (default 100-1000).
func New(bufferSize int, reg *metrics.Registry) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		subscribers: make(map[uint64]*Receiver),
		bufferSize:  bufferSize,
		metrics:     reg,
	}
}

// Subscribe creates a Receiver positioned at the current tail: messages
// published before this call are never delivered to it.
func (h *Hub) Subscribe() *Receiver {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	r := &Receiver{id: h.nextID, ch: make(chan interface{}, h.bufferSize), hub: h}
	h.subscribers[r.id] = r
	if h.metrics != nil {
		h.metrics.WSConnectionsActive.Inc()
	}
	return r
}

func (h *Hub) unsubscribe(r *Receiver) {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return
	}
	h.mu.Lock()
	delete(h.subscribers, r.id)
	h.mu.Unlock()
	close(r.ch)
	if h.metrics != nil {
		h.metrics.WSConnectionsActive.Dec()
	}
}

// Publish enqueues message for every subscriber. A full subscriber buffer
// means that subscriber is lagged: its oldest undelivered message is
// dropped to make room rather than blocking the publisher.
func (h *Hub) Publish(message interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, r := range h.subscribers {
		select {
		case r.ch <- message:
			if h.metrics != nil {
				h.metrics.WSMessagesSent.Inc()
			}
		default:
			h.dropOldestAndRetry(r, message)
		}
	}
}

func (h *Hub) dropOldestAndRetry(r *Receiver, message interface{}) {
	select {
	case <-r.ch:
		if h.metrics != nil {
			h.metrics.WSMessagesDropped.Inc()
		}
	default:
	}
	atomic.StoreInt32(&r.lagged, 1)
	if h.metrics != nil {
		h.metrics.WSSessionsLagged.Inc()
	}
	select {
	case r.ch <- message:
		if h.metrics != nil {
			h.metrics.WSMessagesSent.Inc()
		}
	default:
		if h.metrics != nil {
			h.metrics.WSMessagesDropped.Inc()
		}
	}
}

// SubscriberCount reports the number of active receivers, for
// /cache-stats and /health.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
