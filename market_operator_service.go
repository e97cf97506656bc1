package messagehub

import (
	"context"
	"fmt"

	"github.com/coregx/messagehub/model"
	"github.com/coregx/messagehub/retry"
	"github.com/google/uuid"
)

// PeekKind restricts a peek to a group of origins.
type PeekKind int

const (
	// PeekAll admits every origin.
	PeekAll PeekKind = iota
	// PeekTimeSeries admits time series only.
	PeekTimeSeries
	// PeekAggregations admits aggregations only.
	PeekAggregations
	// PeekMasterData admits charges, metering points and market roles.
	PeekMasterData
)

// String returns the kind name.
func (k PeekKind) String() string {
	switch k {
	case PeekAll:
		return "all"
	case PeekTimeSeries:
		return "timeseries"
	case PeekAggregations:
		return "aggregations"
	case PeekMasterData:
		return "masterdata"
	default:
		return fmt.Sprintf("PeekKind(%d)", int(k))
	}
}

// Origins returns the admissible origins in priority order.
func (k PeekKind) Origins() []model.Origin {
	switch k {
	case PeekTimeSeries:
		return []model.Origin{model.OriginTimeSeries}
	case PeekAggregations:
		return []model.Origin{model.OriginAggregations}
	case PeekMasterData:
		return []model.Origin{model.OriginCharges, model.OriginMeteringPoints, model.OriginMarketRoles}
	default:
		return model.Origins()
	}
}

// Admits reports whether bundles of origin may be returned by this kind of peek.
func (k PeekKind) Admits(origin model.Origin) bool {
	for _, o := range k.Origins() {
		if o == origin {
			return true
		}
	}
	return false
}

// PeekRequest is a market operator asking for its current bundle.
type PeekRequest struct {
	Recipient model.GlobalLocationNumber
	// BundleID is optional. When set it names the bundle the recipient expects;
	// a new bundle is created with this id.
	BundleID uuid.UUID
	Kind     PeekKind
}

// DequeueNotifier tells the owning domain that a recipient acknowledged a bundle.
type DequeueNotifier interface {
	NotifyDequeued(ctx context.Context, bundle model.Bundle) error
}

// MarketOperatorService implements the consumer side of the message hub:
// peek the current bundle and dequeue it to advance.
type MarketOperatorService struct {
	assembler     *BundleAssembler
	bundles       BundleRepository
	dequeue       DequeueNotifier
	notifications NotificationService
	logger        Logger
	retryStrategy retry.Strategy
}

// MarketOperatorOption configures a MarketOperatorService.
type MarketOperatorOption func(*MarketOperatorService) error

// NewMarketOperatorService creates a new MarketOperatorService with the provided options.
//
// Required options:
//   - WithOperatorAssembler: bundle assembler
//   - WithOperatorBundles: bundle repository
//   - WithOperatorLogger: logger instance
//
// Example:
//
//	service, err := messagehub.NewMarketOperatorService(
//	    messagehub.WithOperatorAssembler(assembler),
//	    messagehub.WithOperatorBundles(bundles),
//	    messagehub.WithOperatorLogger(logger),
//	    messagehub.WithDequeueNotifier(notifier), // optional
//	)
func NewMarketOperatorService(opts ...MarketOperatorOption) (*MarketOperatorService, error) {
	s := &MarketOperatorService{
		notifications: &NoOpNotificationService{},
		retryStrategy: retry.DefaultStrategy(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply market operator option", err)
		}
	}

	if s.assembler == nil {
		return nil, NewError(ErrCodeConfiguration, "BundleAssembler is required (use WithOperatorAssembler)")
	}
	if s.bundles == nil {
		return nil, NewError(ErrCodeConfiguration, "BundleRepository is required (use WithOperatorBundles)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithOperatorLogger)")
	}

	return s, nil
}

// WithOperatorAssembler sets the assembler used when no bundle is outstanding.
func WithOperatorAssembler(assembler *BundleAssembler) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if assembler == nil {
			return fmt.Errorf("assembler cannot be nil")
		}
		s.assembler = assembler
		return nil
	}
}

// WithOperatorBundles sets the bundle repository.
func WithOperatorBundles(bundles BundleRepository) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if bundles == nil {
			return fmt.Errorf("bundles cannot be nil")
		}
		s.bundles = bundles
		return nil
	}
}

// WithOperatorLogger sets the logger instance.
func WithOperatorLogger(logger Logger) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithDequeueNotifier sets an optional notifier that informs domains about
// dequeued bundles.
func WithDequeueNotifier(notifier DequeueNotifier) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if notifier == nil {
			return fmt.Errorf("dequeue notifier cannot be nil")
		}
		s.dequeue = notifier
		return nil
	}
}

// WithOperatorNotifications sets an optional notification service.
func WithOperatorNotifications(service NotificationService) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		s.notifications = service
		return nil
	}
}

// WithPeekRetryStrategy sets how often a peek restarts after losing a commit race.
// Defaults to retry.DefaultStrategy().
func WithPeekRetryStrategy(strategy retry.Strategy) MarketOperatorOption {
	return func(s *MarketOperatorService) error {
		if strategy.MaxAttempts <= 0 {
			return fmt.Errorf("max attempts must be > 0, got %d", strategy.MaxAttempts)
		}
		s.retryStrategy = strategy
		return nil
	}
}

// Peek returns the recipient's current bundle, assembling a new one when none
// is outstanding.
//
// Repeated peeks return the same bundle until it is dequeued. Returns nil, nil
// when there is nothing to deliver for the requested kind, when the owning
// domain could not provide content, or when concurrent consumers kept winning
// the commit race.
func (s *MarketOperatorService) Peek(ctx context.Context, req PeekRequest) (*model.Bundle, error) {
	if err := req.Recipient.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid recipient", err)
	}

	var bundle *model.Bundle
	err := s.retryStrategy.Do(ctx, IsConflict, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			s.logger.Debugf("Restarting peek for %s (attempt %d)", req.Recipient, attempt)
		}

		existing, err := s.bundles.GetNextUnacknowledged(ctx, req.Recipient)
		switch {
		case err == nil:
			bundle, err = s.serveExisting(ctx, req, existing)
			return err
		case !IsNoData(err):
			return NewErrorWithCause(ErrCodeDatabase, "failed to load outstanding bundle", err)
		}

		bundle, err = s.assembler.Assemble(ctx, AssembleRequest{
			Recipient: req.Recipient,
			Origins:   req.Kind.Origins(),
			BundleID:  req.BundleID,
		})
		if HasCode(err, ErrCodeDuplicateBundle) {
			return NewErrorWithCause(ErrCodeConflict, "bundle was created concurrently", err)
		}
		return err
	})
	if err != nil {
		if retry.IsExhausted(err) {
			s.logger.Warnf("Giving up peek for %s after repeated conflicts: %v", req.Recipient, err)
			return nil, nil
		}
		return nil, err
	}

	return bundle, nil
}

func (s *MarketOperatorService) serveExisting(ctx context.Context, req PeekRequest, existing *model.Bundle) (*model.Bundle, error) {
	if req.BundleID != uuid.Nil && req.BundleID != existing.ID {
		return nil, NewError(ErrCodeValidation,
			fmt.Sprintf("bundle %s is outstanding, cannot peek %s", existing.ID, req.BundleID))
	}
	if !req.Kind.Admits(existing.Origin) {
		return nil, nil
	}

	uri, ok, err := selectContentPath(existing, s.assembler.content).resolve(ctx, existing)
	if err != nil || !ok {
		return nil, err
	}
	if !existing.HasContent() {
		if err := existing.AssignContent(uri); err != nil {
			return nil, NewErrorWithCause(ErrCodeProtocol, "domain returned unusable content", err)
		}
	}

	return existing, nil
}

// Dequeue acknowledges the bundle. It returns false when the recipient has no
// such outstanding bundle, including when it was already dequeued.
func (s *MarketOperatorService) Dequeue(ctx context.Context, recipient model.GlobalLocationNumber, bundleID uuid.UUID) (bool, error) {
	if err := recipient.Validate(); err != nil {
		return false, NewErrorWithCause(ErrCodeValidation, "invalid recipient", err)
	}

	outstanding, err := s.bundles.GetNextUnacknowledged(ctx, recipient)
	if err != nil && !IsNoData(err) {
		return false, NewErrorWithCause(ErrCodeDatabase, "failed to load outstanding bundle", err)
	}

	acknowledged, err := s.bundles.Acknowledge(ctx, recipient, bundleID)
	if err != nil {
		return false, NewErrorWithCause(ErrCodeDatabase, "failed to acknowledge bundle", err)
	}
	if !acknowledged {
		return false, nil
	}

	s.logger.Infof("Bundle dequeued: id=%s, recipient=%s", bundleID, recipient)

	if outstanding == nil || outstanding.ID != bundleID {
		return true, nil
	}
	outstanding.MarkDequeued()

	if s.dequeue != nil {
		if err := s.dequeue.NotifyDequeued(ctx, *outstanding); err != nil {
			s.logger.Warnf("Failed to notify %s about dequeued bundle %s: %v", outstanding.Origin, bundleID, err)
		}
	}
	if err := s.notifications.NotifyBundleDequeued(ctx, *outstanding); err != nil {
		s.logger.Warnf("Failed to send bundle dequeued notification: %v", err)
	}

	return true, nil
}
