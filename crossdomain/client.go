package crossdomain

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
)

// DefaultReplyTimeout is how long the client waits for a domain's reply.
const DefaultReplyTimeout = 30 * time.Second

// Client sends content requests to domains and waits for their replies.
// Safe for concurrent use; every call uses its own session.
type Client struct {
	bus          Bus
	logger       messagehub.Logger
	replyTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a new Client with the provided options.
//
// Required options:
//   - WithClientBus: message bus
//   - WithClientLogger: logger instance
//
// Example:
//
//	client, err := crossdomain.NewClient(
//	    crossdomain.WithClientBus(bus),
//	    crossdomain.WithClientLogger(logger),
//	    crossdomain.WithReplyTimeout(10*time.Second), // optional
//	)
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{replyTimeout: DefaultReplyTimeout}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeConfiguration, "failed to apply client option", err)
		}
	}

	if c.bus == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "Bus is required (use WithClientBus)")
	}
	if c.logger == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "Logger is required (use WithClientLogger)")
	}

	return c, nil
}

// WithClientBus sets the message bus.
func WithClientBus(bus Bus) ClientOption {
	return func(c *Client) error {
		if bus == nil {
			return fmt.Errorf("bus cannot be nil")
		}
		c.bus = bus
		return nil
	}
}

// WithClientLogger sets the logger instance.
func WithClientLogger(logger messagehub.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithReplyTimeout sets how long Send waits for a reply. Must be > 0.
func WithReplyTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("reply timeout must be > 0, got %v", timeout)
		}
		c.replyTimeout = timeout
		return nil
	}
}

// Send publishes req to the domain of origin and waits for the reply.
//
// Returns nil, nil when no reply arrived within the reply timeout. A reply that
// cannot be decoded, or a success whose notification ids differ from the
// request, fails with ErrCodeProtocol.
func (c *Client) Send(ctx context.Context, req Request, origin model.Origin) (*Response, error) {
	if err := origin.Validate(); err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeValidation, "invalid origin", err)
	}

	sessionID := uuid.NewString()
	replyQueue := ReplyQueue(origin)

	receiver, err := c.bus.AcceptSession(ctx, replyQueue, sessionID)
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDelivery, "failed to accept reply session", err)
	}
	defer func() {
		if cerr := receiver.Close(context.WithoutCancel(ctx)); cerr != nil {
			c.logger.Warnf("Failed to close reply session %s: %v", sessionID, cerr)
		}
	}()

	msg := Message{
		Body:             MarshalRequest(req),
		ReplyTo:          replyQueue,
		ReplyToSessionID: sessionID,
		CorrelationID:    req.IdempotencyID,
	}
	if err := c.bus.Send(ctx, RequestQueue(origin), msg); err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDelivery, "failed to send request", err)
	}
	c.logger.Debugf("Request sent: origin=%s, idempotency_id=%s, session=%s, notifications=%d",
		origin, req.IdempotencyID, sessionID, len(req.NotificationIDs))

	waitCtx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()

	delivery, err := receiver.Receive(waitCtx)
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			c.logger.Warnf("No reply from %s within %v: idempotency_id=%s", origin, c.replyTimeout, req.IdempotencyID)
			return nil, nil
		}
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDelivery, "failed to receive reply", err)
	}
	if err := delivery.Complete(ctx); err != nil {
		c.logger.Warnf("Failed to complete reply %s: %v", sessionID, err)
	}

	resp, err := UnmarshalResponse(delivery.Body)
	if err != nil {
		return nil, err
	}
	if resp.Success != nil && !sameIDs(resp.Success.NotificationIDs, req.NotificationIDs) {
		return nil, protocolError(fmt.Sprintf("reply of %s does not match request %s", origin, req.IdempotencyID), nil)
	}

	return &resp, nil
}

// RequestContent asks the owning domain of bundle for its content.
func (c *Client) RequestContent(ctx context.Context, bundle model.Bundle) (*messagehub.ContentResult, error) {
	resp, err := c.Send(ctx, Request{
		IdempotencyID:   bundle.ID.String(),
		NotificationIDs: bundle.NotificationIDs,
		MessageType:     bundle.ContentType,
	}, bundle.Origin)
	if err != nil || resp == nil {
		return nil, err
	}

	if resp.Failure != nil {
		return &messagehub.ContentResult{Failure: &messagehub.ContentFailure{
			Reason:      resp.Failure.Reason,
			Description: resp.Failure.Description,
		}}, nil
	}
	return &messagehub.ContentResult{ContentURI: resp.Success.ContentURI}, nil
}
