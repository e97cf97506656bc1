package crossdomain

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
)

// NotificationAppender stores announced notifications.
// *messagehub.DataAvailableService satisfies it.
type NotificationAppender interface {
	Append(ctx context.Context, n model.DataAvailableNotification) (*model.DataAvailableNotification, error)
}

// DataAvailableConsumer ingests data-available announcements from the bus and
// appends them to the recipients' cabinets.
//
// Announcements that fail to decode or validate are completed and dropped.
// Announcements that fail to store are left on the queue for redelivery. A
// redelivered announcement is stored once, keyed by its id.
type DataAvailableConsumer struct {
	bus        Bus
	appender   NotificationAppender
	logger     messagehub.Logger
	errorDelay time.Duration
}

// NewDataAvailableConsumer creates a consumer. All arguments are required.
func NewDataAvailableConsumer(bus Bus, appender NotificationAppender, logger messagehub.Logger) (*DataAvailableConsumer, error) {
	if bus == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "bus is required")
	}
	if appender == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "appender is required")
	}
	if logger == nil {
		return nil, messagehub.NewError(messagehub.ErrCodeConfiguration, "logger is required")
	}
	return &DataAvailableConsumer{bus: bus, appender: appender, logger: logger, errorDelay: time.Second}, nil
}

// Run consumes announcements until ctx is cancelled.
func (c *DataAvailableConsumer) Run(ctx context.Context) {
	c.logger.Infof("Data available consumer started: queue=%s", DataAvailableQueue)

	for {
		delivery, err := c.bus.Receive(ctx, DataAvailableQueue)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Data available consumer stopped")
				return
			}
			c.logger.Errorf("Failed to receive announcement: %v", err)
			if !sleep(ctx, c.errorDelay) {
				c.logger.Info("Data available consumer stopped")
				return
			}
			continue
		}

		if err := c.Handle(ctx, delivery); err != nil {
			c.logger.Errorf("Failed to ingest announcement: %v", err)
		}
	}
}

// Handle ingests one announcement.
func (c *DataAvailableConsumer) Handle(ctx context.Context, delivery *Delivery) error {
	announcement, err := UnmarshalDataAvailable(delivery.Body)
	if err != nil {
		c.logger.Warnf("Dropping malformed announcement: correlation_id=%s, error=%v", delivery.CorrelationID, err)
		return delivery.Complete(ctx)
	}

	stored, err := c.appender.Append(ctx, announcement.Notification())
	if err != nil {
		if messagehub.HasCode(err, messagehub.ErrCodeValidation) {
			c.logger.Warnf("Dropping invalid announcement %s: %v", announcement.ID, err)
			return delivery.Complete(ctx)
		}
		return fmt.Errorf("failed to append notification %s: %w", announcement.ID, err)
	}

	c.logger.Debugf("Announcement ingested: id=%s, key=%s, sequence=%d", stored.ID, stored.Key(), stored.SequenceNumber)
	return delivery.Complete(ctx)
}

// Announcer publishes data-available announcements on behalf of a domain.
type Announcer struct {
	bus Bus
}

// NewAnnouncer creates an Announcer on bus.
func NewAnnouncer(bus Bus) *Announcer {
	return &Announcer{bus: bus}
}

// Announce publishes d to the ingestion queue.
func (a *Announcer) Announce(ctx context.Context, d DataAvailable) error {
	if err := a.bus.Send(ctx, DataAvailableQueue, Message{
		Body:          MarshalDataAvailable(d),
		CorrelationID: d.ID.String(),
	}); err != nil {
		return messagehub.NewErrorWithCause(messagehub.ErrCodeDelivery, "failed to announce data", err)
	}
	return nil
}

// DequeueNotifier tells domains about bundles their recipients acknowledged.
// It implements messagehub.DequeueNotifier.
type DequeueNotifier struct {
	bus    Bus
	logger messagehub.Logger
}

// NewDequeueNotifier creates a DequeueNotifier on bus.
func NewDequeueNotifier(bus Bus, logger messagehub.Logger) *DequeueNotifier {
	return &DequeueNotifier{bus: bus, logger: logger}
}

// NotifyDequeued publishes a dequeue notification to the bundle's origin.
func (n *DequeueNotifier) NotifyDequeued(ctx context.Context, bundle model.Bundle) error {
	body := MarshalDequeueNotification(DequeueNotification{
		Recipient:       bundle.Recipient,
		BundleID:        bundle.ID,
		NotificationIDs: bundle.NotificationIDs,
	})
	queue := DequeueQueue(bundle.Origin)
	if err := n.bus.Send(ctx, queue, Message{Body: body, CorrelationID: bundle.ID.String()}); err != nil {
		return messagehub.NewErrorWithCause(messagehub.ErrCodeDelivery, "failed to send dequeue notification", err)
	}
	n.logger.Debugf("Dequeue notification sent: queue=%s, bundle_id=%s", queue, bundle.ID)
	return nil
}
