package messagehub

import (
	"context"

	"github.com/coregx/messagehub/model"
)

// NotificationService defines an optional interface for sending notifications
// about message hub events (domain failures, timeouts, delivered bundles).
//
// Implementations might send emails, Slack messages, SMS, or log to monitoring systems.
type NotificationService interface {
	// NotifyContentFailure is called when the owning domain answered a content
	// request with a failure. InternalError failures should page someone.
	NotifyContentFailure(ctx context.Context, bundle model.Bundle, reason model.FailureReason, description string) error

	// NotifyContentTimeout is called when the owning domain did not answer in time.
	NotifyContentTimeout(ctx context.Context, bundle model.Bundle) error

	// NotifyBundleReady is called when a new bundle becomes available to its recipient.
	NotifyBundleReady(ctx context.Context, bundle model.Bundle) error

	// NotifyBundleDequeued is called when a recipient acknowledged a bundle.
	NotifyBundleDequeued(ctx context.Context, bundle model.Bundle) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyContentFailure does nothing.
func (n *NoOpNotificationService) NotifyContentFailure(_ context.Context, _ model.Bundle, _ model.FailureReason, _ string) error {
	return nil
}

// NotifyContentTimeout does nothing.
func (n *NoOpNotificationService) NotifyContentTimeout(_ context.Context, _ model.Bundle) error {
	return nil
}

// NotifyBundleReady does nothing.
func (n *NoOpNotificationService) NotifyBundleReady(_ context.Context, _ model.Bundle) error {
	return nil
}

// NotifyBundleDequeued does nothing.
func (n *NoOpNotificationService) NotifyBundleDequeued(_ context.Context, _ model.Bundle) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyContentFailure logs the domain failure. Internal errors are logged as errors.
func (n *LoggingNotificationService) NotifyContentFailure(_ context.Context, bundle model.Bundle, reason model.FailureReason, description string) error {
	if reason == model.FailureInternalError {
		n.logger.Errorf("🚨 Domain failed to prepare content: origin=%s, bundle_id=%s, recipient=%s, description=%s",
			bundle.Origin, bundle.ID, bundle.Recipient, description)
		return nil
	}
	n.logger.Warnf("⚠️ Domain declined content request: origin=%s, bundle_id=%s, reason=%s, description=%s",
		bundle.Origin, bundle.ID, reason, description)
	return nil
}

// NotifyContentTimeout logs the missing reply.
func (n *LoggingNotificationService) NotifyContentTimeout(_ context.Context, bundle model.Bundle) error {
	n.logger.Warnf("⚠️ Domain did not answer content request: origin=%s, bundle_id=%s, notifications=%d",
		bundle.Origin, bundle.ID, len(bundle.NotificationIDs))
	return nil
}

// NotifyBundleReady logs bundle creation.
func (n *LoggingNotificationService) NotifyBundleReady(_ context.Context, bundle model.Bundle) error {
	n.logger.Infof("✅ Bundle ready: id=%s, recipient=%s, origin=%s, content_type=%s, notifications=%d, weight=%d",
		bundle.ID, bundle.Recipient, bundle.Origin, bundle.ContentType, len(bundle.NotificationIDs), bundle.Weight)
	return nil
}

// NotifyBundleDequeued logs bundle acknowledgement.
func (n *LoggingNotificationService) NotifyBundleDequeued(_ context.Context, bundle model.Bundle) error {
	n.logger.Infof("📤 Bundle dequeued: id=%s, recipient=%s, origin=%s",
		bundle.ID, bundle.Recipient, bundle.Origin)
	return nil
}
