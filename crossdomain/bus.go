package crossdomain

import "context"

// Message is one message on the bus together with its routing properties.
type Message struct {
	Body []byte
	// SessionID addresses the message to the receiver that accepted this session.
	SessionID string
	// ReplyTo names the queue the receiver should answer on.
	ReplyTo string
	// ReplyToSessionID is the session the answer must be addressed to.
	ReplyToSessionID string
	CorrelationID    string
}

// Delivery is a received message. The message stays owned by the receiver
// until Complete is called; an uncompleted delivery may be redelivered.
type Delivery struct {
	Message
	complete func(ctx context.Context) error
}

// NewDelivery wraps msg. complete removes the message from its queue and may be nil.
func NewDelivery(msg Message, complete func(ctx context.Context) error) *Delivery {
	return &Delivery{Message: msg, complete: complete}
}

// Complete acknowledges the delivery.
func (d *Delivery) Complete(ctx context.Context) error {
	if d.complete == nil {
		return nil
	}
	return d.complete(ctx)
}

// SessionReceiver receives the messages of one session.
type SessionReceiver interface {
	// Receive blocks until a message of the session arrives or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)

	// Close releases the session.
	Close(ctx context.Context) error
}

// Bus is the message transport between the hub and the domains.
type Bus interface {
	// Send publishes msg to queue.
	Send(ctx context.Context, queue string, msg Message) error

	// Receive blocks until a message arrives on queue or ctx is done.
	Receive(ctx context.Context, queue string) (*Delivery, error)

	// AcceptSession starts receiving the messages of queue addressed to sessionID.
	AcceptSession(ctx context.Context, queue, sessionID string) (SessionReceiver, error)
}
