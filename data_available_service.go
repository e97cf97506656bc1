package messagehub

import (
	"context"
	"fmt"

	"github.com/coregx/messagehub/model"
	"github.com/coregx/messagehub/retry"
)

// DataAvailableService implements the producer side of the message hub:
// domains announce data for a recipient and the service appends the
// notification to the recipient's cabinet with the next sequence number.
type DataAvailableService struct {
	storage       CabinetStorage
	logger        Logger
	retryStrategy retry.Strategy
}

// DataAvailableOption configures a DataAvailableService.
type DataAvailableOption func(*DataAvailableService) error

// NewDataAvailableService creates a new DataAvailableService with the provided options.
//
// Required options:
//   - WithDataAvailableStorage: cabinet storage
//   - WithDataAvailableLogger: logger instance
func NewDataAvailableService(opts ...DataAvailableOption) (*DataAvailableService, error) {
	s := &DataAvailableService{
		retryStrategy: retry.AllocationStrategy(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply data available option", err)
		}
	}

	if s.storage == nil {
		return nil, NewError(ErrCodeConfiguration, "CabinetStorage is required (use WithDataAvailableStorage)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithDataAvailableLogger)")
	}

	return s, nil
}

// WithDataAvailableStorage sets the cabinet storage notifications are appended to.
func WithDataAvailableStorage(storage CabinetStorage) DataAvailableOption {
	return func(s *DataAvailableService) error {
		if storage == nil {
			return fmt.Errorf("storage cannot be nil")
		}
		s.storage = storage
		return nil
	}
}

// WithDataAvailableLogger sets the logger instance.
func WithDataAvailableLogger(logger Logger) DataAvailableOption {
	return func(s *DataAvailableService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithAppendRetryStrategy sets how often an append is retried after a write
// conflict or a failed sequence allocation. Defaults to retry.AllocationStrategy().
func WithAppendRetryStrategy(strategy retry.Strategy) DataAvailableOption {
	return func(s *DataAvailableService) error {
		if strategy.MaxAttempts <= 0 {
			return fmt.Errorf("max attempts must be > 0, got %d", strategy.MaxAttempts)
		}
		s.retryStrategy = strategy
		return nil
	}
}

// Append validates the notification and appends it to its cabinet.
// Returns the stored notification with its sequence number.
func (s *DataAvailableService) Append(ctx context.Context, n model.DataAvailableNotification) (*model.DataAvailableNotification, error) {
	if err := n.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid notification", err)
	}

	var stored model.DataAvailableNotification
	err := s.retryStrategy.Do(ctx, IsRetryable, func(ctx context.Context, _ int) error {
		var err error
		stored, err = s.storage.AppendNotification(ctx, n)
		return err
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return nil, NewErrorWithCause(ErrCodeSequenceAllocation, "failed to append notification", err)
		}
		return nil, err
	}

	s.logger.Debugf("Notification appended: id=%s, key=%s, sequence=%d", stored.ID, stored.Key(), stored.SequenceNumber)
	return &stored, nil
}

// AppendBatch appends notifications in order. Failures are logged and skipped;
// the result holds the notifications that were stored.
func (s *DataAvailableService) AppendBatch(ctx context.Context, notifications []model.DataAvailableNotification) ([]model.DataAvailableNotification, error) {
	if len(notifications) == 0 {
		return []model.DataAvailableNotification{}, nil
	}

	stored := make([]model.DataAvailableNotification, 0, len(notifications))
	for _, n := range notifications {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}
		result, err := s.Append(ctx, n)
		if err != nil {
			s.logger.Errorf("Failed to append notification %s (recipient=%s, origin=%s): %v",
				n.ID, n.Recipient, n.Origin, err)
			continue
		}
		stored = append(stored, *result)
	}

	return stored, nil
}
