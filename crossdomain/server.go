package crossdomain

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
)

// ContentProvider prepares the content of a request on the domain side.
// A returned error is answered with an InternalError failure.
type ContentProvider interface {
	ProvideContent(ctx context.Context, req Request) (*Response, error)
}

// ContentProviderFunc adapts a function to ContentProvider.
type ContentProviderFunc func(ctx context.Context, req Request) (*Response, error)

// ProvideContent calls f.
func (f ContentProviderFunc) ProvideContent(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ReplyServer is the domain half of the request/reply protocol: it serves the
// content requests of one origin and answers on the session the caller named.
type ReplyServer struct {
	bus        Bus
	origin     model.Origin
	provider   ContentProvider
	logger     messagehub.Logger
	errorDelay time.Duration
}

// ServerOption configures a ReplyServer.
type ServerOption func(*ReplyServer) error

// NewReplyServer creates a new ReplyServer for origin.
//
// Required options:
//   - WithServerBus: message bus
//   - WithContentProvider: the domain's content source
//   - WithServerLogger: logger instance
func NewReplyServer(origin model.Origin, opts ...ServerOption) (*ReplyServer, error) {
	if err := origin.Validate(); err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeConfiguration, "invalid origin", err)
	}
	s := &ReplyServer{origin: origin, errorDelay: time.Second}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeConfiguration, "failed to apply server option", err)
		}
	}

	if s.bus == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "Bus is required (use WithServerBus)")
	}
	if s.provider == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "ContentProvider is required (use WithContentProvider)")
	}
	if s.logger == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "Logger is required (use WithServerLogger)")
	}

	return s, nil
}

// WithServerBus sets the message bus.
func WithServerBus(bus Bus) ServerOption {
	return func(s *ReplyServer) error {
		if bus == nil {
			return fmt.Errorf("bus cannot be nil")
		}
		s.bus = bus
		return nil
	}
}

// WithContentProvider sets the provider requests are answered from.
func WithContentProvider(provider ContentProvider) ServerOption {
	return func(s *ReplyServer) error {
		if provider == nil {
			return fmt.Errorf("content provider cannot be nil")
		}
		s.provider = provider
		return nil
	}
}

// WithServerLogger sets the logger instance.
func WithServerLogger(logger messagehub.Logger) ServerOption {
	return func(s *ReplyServer) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// Run serves requests until ctx is cancelled.
func (s *ReplyServer) Run(ctx context.Context) {
	queue := RequestQueue(s.origin)
	s.logger.Infof("Reply server started: queue=%s", queue)

	for {
		delivery, err := s.bus.Receive(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Reply server stopped")
				return
			}
			s.logger.Errorf("Failed to receive request from %s: %v", queue, err)
			if !sleep(ctx, s.errorDelay) {
				s.logger.Info("Reply server stopped")
				return
			}
			continue
		}

		if err := s.Handle(ctx, delivery); err != nil {
			s.logger.Errorf("Failed to handle request: %v", err)
		}
	}
}

// Handle answers one request delivery. The delivery is completed once the
// reply was sent; requests without a reply address are dropped.
func (s *ReplyServer) Handle(ctx context.Context, delivery *Delivery) error {
	if delivery.ReplyTo == "" || delivery.ReplyToSessionID == "" {
		s.logger.Warnf("Dropping request without reply address: correlation_id=%s", delivery.CorrelationID)
		return delivery.Complete(ctx)
	}

	resp := s.respond(ctx, delivery)

	reply := Message{
		Body:          MarshalResponse(resp),
		SessionID:     delivery.ReplyToSessionID,
		CorrelationID: delivery.CorrelationID,
	}
	if err := s.bus.Send(ctx, delivery.ReplyTo, reply); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", delivery.ReplyTo, err)
	}

	return delivery.Complete(ctx)
}

func (s *ReplyServer) respond(ctx context.Context, delivery *Delivery) Response {
	req, err := UnmarshalRequest(delivery.Body)
	if err != nil {
		s.logger.Warnf("Malformed request: correlation_id=%s, error=%v", delivery.CorrelationID, err)
		return internalError("malformed request")
	}

	resp, err := s.provider.ProvideContent(ctx, req)
	if err != nil {
		s.logger.Errorf("Content provider failed: idempotency_id=%s, error=%v", req.IdempotencyID, err)
		return internalError(err.Error())
	}
	if resp == nil || (resp.Success == nil) == (resp.Failure == nil) {
		return internalError("content provider returned no result")
	}
	if resp.Success != nil && len(resp.Success.NotificationIDs) == 0 {
		resp.Success.NotificationIDs = req.NotificationIDs
	}

	return *resp
}

func internalError(description string) Response {
	return Response{Failure: &Failure{Reason: model.FailureInternalError, Description: description}}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
