package sqsbus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/crossdomain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// Message attribute names.
const (
	attrSessionID        = "SessionId"
	attrReplyTo          = "ReplyTo"
	attrReplyToSessionID = "ReplyToSessionId"
	attrCorrelationID    = "CorrelationId"
)

// SQSAPI abstracts the SQS operations used by the bus for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// Bus implements crossdomain.Bus on SQS.
type Bus struct {
	client  SQSAPI
	logger  messagehub.Logger
	breaker *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]

	waitTimeSeconds int32
	releaseDelay    int32

	mu       sync.Mutex
	urls     map[string]string
	sessions map[string]chan *crossdomain.Delivery
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueURLs maps queue names to URLs so they need no lookup.
func WithQueueURLs(urls map[string]string) Option {
	return func(b *Bus) {
		for name, url := range urls {
			b.urls[name] = url
		}
	}
}

// WithWaitTime sets the long polling wait of a receive call (max 20s).
func WithWaitTime(wait time.Duration) Option {
	return func(b *Bus) {
		seconds := int32(wait.Seconds())
		if seconds < 0 {
			seconds = 0
		}
		if seconds > 20 {
			seconds = 20
		}
		b.waitTimeSeconds = seconds
	}
}

// WithCircuitBreaker replaces the breaker guarding SendMessage.
func WithCircuitBreaker(breaker *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]) Option {
	return func(b *Bus) {
		b.breaker = breaker
	}
}

// NewBus creates a Bus on client.
func NewBus(client SQSAPI, logger messagehub.Logger, opts ...Option) *Bus {
	b := &Bus{
		client:          client,
		logger:          logger,
		waitTimeSeconds: 20,
		releaseDelay:    1,
		urls:            make(map[string]string),
		sessions:        make(map[string]chan *crossdomain.Delivery),
		breaker: gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
			Name:        "sqs-send",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send implements crossdomain.Bus.
func (b *Bus) Send(ctx context.Context, queue string, msg crossdomain.Message) error {
	queueURL, err := b.queueURL(ctx, queue)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(base64.StdEncoding.EncodeToString(msg.Body)),
		MessageAttributes: attributes(msg),
	}
	if strings.HasSuffix(queueURL, ".fifo") {
		input.MessageGroupId = aws.String(groupID(msg))
		input.MessageDeduplicationId = aws.String(uuid.NewString())
	}

	_, err = b.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return b.client.SendMessage(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("sqsbus: failed to send message to %s: %w", queue, err)
	}
	return nil
}

// Receive implements crossdomain.Bus.
func (b *Bus) Receive(ctx context.Context, queue string) (*crossdomain.Delivery, error) {
	queueURL, err := b.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	for {
		messages, err := b.receive(ctx, queueURL, 1)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return b.delivery(queueURL, messages[0]), nil
		}
	}
}

// AcceptSession implements crossdomain.Bus.
func (b *Bus) AcceptSession(ctx context.Context, queue, sessionID string) (crossdomain.SessionReceiver, error) {
	queueURL, err := b.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; ok {
		return nil, fmt.Errorf("sqsbus: session %s is already accepted", sessionID)
	}
	inbox := make(chan *crossdomain.Delivery, 4)
	b.sessions[sessionID] = inbox

	return &sessionReceiver{bus: b, queueURL: queueURL, sessionID: sessionID, inbox: inbox}, nil
}

func (b *Bus) receive(ctx context.Context, queueURL string, maxMessages int32) ([]sqsTypes.Message, error) {
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       b.waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqsbus: failed to receive from %s: %w", queueURL, err)
	}
	return out.Messages, nil
}

func (b *Bus) delivery(queueURL string, m sqsTypes.Message) *crossdomain.Delivery {
	body, err := base64.StdEncoding.DecodeString(aws.ToString(m.Body))
	if err != nil {
		body = []byte(aws.ToString(m.Body))
	}

	msg := crossdomain.Message{
		Body:             body,
		SessionID:        attribute(m, attrSessionID),
		ReplyTo:          attribute(m, attrReplyTo),
		ReplyToSessionID: attribute(m, attrReplyToSessionID),
		CorrelationID:    attribute(m, attrCorrelationID),
	}
	handle := m.ReceiptHandle

	return crossdomain.NewDelivery(msg, func(ctx context.Context) error {
		_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: handle,
		})
		if err != nil {
			return fmt.Errorf("sqsbus: failed to delete message: %w", err)
		}
		return nil
	})
}

// release makes a message visible to other consumers again.
func (b *Bus) release(ctx context.Context, queueURL string, m sqsTypes.Message) {
	_, err := b.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: b.releaseDelay,
	})
	if err != nil {
		b.logger.Warnf("Failed to release message %s: %v", aws.ToString(m.MessageId), err)
	}
}

// route hands m to the local session it is addressed to. It reports false if
// no such session waits in this process or its inbox is full.
func (b *Bus) route(queueURL string, m sqsTypes.Message) bool {
	sessionID := attribute(m, attrSessionID)

	b.mu.Lock()
	inbox, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case inbox <- b.delivery(queueURL, m):
		return true
	default:
		return false
	}
}

func (b *Bus) closeSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

func (b *Bus) queueURL(ctx context.Context, queue string) (string, error) {
	b.mu.Lock()
	url, ok := b.urls[queue]
	b.mu.Unlock()
	if ok {
		return url, nil
	}

	out, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", fmt.Errorf("sqsbus: failed to resolve queue %s: %w", queue, err)
	}
	url = aws.ToString(out.QueueUrl)

	b.mu.Lock()
	b.urls[queue] = url
	b.mu.Unlock()
	return url, nil
}

type sessionReceiver struct {
	bus       *Bus
	queueURL  string
	sessionID string
	inbox     chan *crossdomain.Delivery
}

// Receive polls the reply queue until a message of the session arrives.
func (r *sessionReceiver) Receive(ctx context.Context) (*crossdomain.Delivery, error) {
	for {
		select {
		case delivery := <-r.inbox:
			return delivery, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		messages, err := r.bus.receive(ctx, r.queueURL, 10)
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			if !r.bus.route(r.queueURL, m) {
				r.bus.release(context.WithoutCancel(ctx), r.queueURL, m)
			}
		}
	}
}

func (r *sessionReceiver) Close(context.Context) error {
	r.bus.closeSession(r.sessionID)
	return nil
}

func attributes(msg crossdomain.Message) map[string]sqsTypes.MessageAttributeValue {
	attrs := make(map[string]sqsTypes.MessageAttributeValue)
	for name, value := range map[string]string{
		attrSessionID:        msg.SessionID,
		attrReplyTo:          msg.ReplyTo,
		attrReplyToSessionID: msg.ReplyToSessionID,
		attrCorrelationID:    msg.CorrelationID,
	} {
		if value == "" {
			continue
		}
		attrs[name] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return attrs
}

func attribute(m sqsTypes.Message, name string) string {
	if value, ok := m.MessageAttributes[name]; ok {
		return aws.ToString(value.StringValue)
	}
	return ""
}

// groupID keeps the messages of one session, or of one correlation, in order
// on FIFO queues.
func groupID(msg crossdomain.Message) string {
	switch {
	case msg.SessionID != "":
		return msg.SessionID
	case msg.CorrelationID != "":
		return msg.CorrelationID
	default:
		return "default"
	}
}
