// Package postbox provides per-connection typed message queues that decouple the
// tick loop from socket I/O.
package postbox

import (
	"sync"

	"github.com/google/uuid"
	"github.com/zeusync/netsync/internal/core/protocol"
)

// PostBox is a bidirectional queue. The tick loop sends outbound messages and drains
// inbound ones; the transport delivers inbound messages and drains outbound ones.
// All methods are safe for concurrent use.
type PostBox[In, Out any] struct {
	id uuid.UUID

	mu     sync.Mutex
	inbox  []In
	outbox []Out
	closed bool

	// notify is signalled (non-blocking) whenever the outbox grows.
	notify chan struct{}
	done   chan struct{}
}

func New[In, Out any]() *PostBox[In, Out] {
	return &PostBox[In, Out]{
		id:     uuid.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (p *PostBox[In, Out]) ID() uuid.UUID {
	return p.id
}

// Send enqueues an outbound message for the transport to flush.
func (p *PostBox[In, Out]) Send(msg Out) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "send", protocol.ErrPostBoxClosed).
			WithContext("postbox", p.id.String())
	}
	p.outbox = append(p.outbox, msg)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Deliver enqueues an inbound message received by the transport.
func (p *PostBox[In, Out]) Deliver(msg In) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "deliver", protocol.ErrPostBoxClosed).
			WithContext("postbox", p.id.String())
	}
	p.inbox = append(p.inbox, msg)
	return nil
}

// DrainInbox removes and returns every inbound message matching pred in arrival order.
// Non-matching messages stay queued in their original order. Messages delivered before
// Close remain drainable.
func (p *PostBox[In, Out]) DrainInbox(pred func(In) bool) []In {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []In
	kept := p.inbox[:0]
	for _, msg := range p.inbox {
		if pred == nil || pred(msg) {
			matched = append(matched, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	clear(p.inbox[len(kept):])
	p.inbox = kept
	return matched
}

// DrainOutbox removes and returns all outbound messages in send order.
func (p *PostBox[In, Out]) DrainOutbox() []Out {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outbox
	p.outbox = nil
	return out
}

func (p *PostBox[In, Out]) HasMessages() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inbox) > 0
}

// Notify fires after Send; the transport waits on it before draining the outbox.
func (p *PostBox[In, Out]) Notify() <-chan struct{} {
	return p.notify
}

// Done is closed when the postbox is closed.
func (p *PostBox[In, Out]) Done() <-chan struct{} {
	return p.done
}

// Close marks the connection gone. It is idempotent.
func (p *PostBox[In, Out]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.outbox = nil
	close(p.done)
}

func (p *PostBox[In, Out]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
