package memory

import (
	"context"
	"sync"

	"github.com/coregx/messagehub/crossdomain"
)

// Bus is an in-memory crossdomain.Bus. Messages are removed from their queue
// when received; Complete is a no-op.
type Bus struct {
	mu     sync.Mutex
	queues map[string]*busQueue
}

type busQueue struct {
	messages []crossdomain.Message
	changed  chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{queues: make(map[string]*busQueue)}
}

// Send implements crossdomain.Bus.
func (b *Bus) Send(ctx context.Context, queue string, msg crossdomain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	msg.Body = append([]byte(nil), msg.Body...)
	q.messages = append(q.messages, msg)
	close(q.changed)
	q.changed = make(chan struct{})
	return nil
}

// Receive implements crossdomain.Bus. It takes the oldest message of queue
// regardless of its session.
func (b *Bus) Receive(ctx context.Context, queue string) (*crossdomain.Delivery, error) {
	return b.take(ctx, queue, func(crossdomain.Message) bool { return true })
}

// AcceptSession implements crossdomain.Bus.
func (b *Bus) AcceptSession(_ context.Context, queue, sessionID string) (crossdomain.SessionReceiver, error) {
	return &sessionReceiver{bus: b, queue: queue, sessionID: sessionID}, nil
}

// Pending returns the number of messages waiting on queue.
func (b *Bus) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue(queue).messages)
}

func (b *Bus) take(ctx context.Context, queue string, match func(crossdomain.Message) bool) (*crossdomain.Delivery, error) {
	for {
		b.mu.Lock()
		q := b.queue(queue)
		for i, msg := range q.messages {
			if match(msg) {
				q.messages = append(q.messages[:i], q.messages[i+1:]...)
				b.mu.Unlock()
				return crossdomain.NewDelivery(msg, nil), nil
			}
		}
		changed := q.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (b *Bus) queue(name string) *busQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &busQueue{changed: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

type sessionReceiver struct {
	bus       *Bus
	queue     string
	sessionID string
}

func (r *sessionReceiver) Receive(ctx context.Context) (*crossdomain.Delivery, error) {
	return r.bus.take(ctx, r.queue, func(msg crossdomain.Message) bool {
		return msg.SessionID == r.sessionID
	})
}

func (r *sessionReceiver) Close(context.Context) error {
	return nil
}
