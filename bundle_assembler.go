package messagehub

import (
	"context"
	"fmt"

	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxBundleWeight is the weight budget of a bundle when no content type
// specific budget is configured.
const DefaultMaxBundleWeight int64 = 50

// BundleAssembler selects unread notifications of a recipient, obtains their
// content from the owning domain and stores the result as a ready bundle.
//
// Assembly is one read-select-commit cycle. The consumed cursor advancement is
// committed only after the bundle was saved; if another consumer committed
// first, the saved bundle is discarded and ErrConflict tells the caller to
// start over from a fresh read.
type BundleAssembler struct {
	storage       CabinetStorage
	bundles       BundleRepository
	content       domainContentPath
	logger        Logger
	notifications NotificationService

	maxWeight          int64
	contentTypeWeights map[string]int64
}

// AssemblerOption configures a BundleAssembler.
type AssemblerOption func(*BundleAssembler) error

// NewBundleAssembler creates a new BundleAssembler with the provided options.
//
// Required options:
//   - WithAssemblerRepositories: cabinet storage and bundle repository
//   - WithContentRequester: client of the owning domains
//   - WithAssemblerLogger: logger instance
//
// Example:
//
//	assembler, err := messagehub.NewBundleAssembler(
//	    messagehub.WithAssemblerRepositories(storage, bundles),
//	    messagehub.WithContentRequester(client),
//	    messagehub.WithAssemblerLogger(logger),
//	    messagehub.WithMaxBundleWeight(100), // optional
//	)
func NewBundleAssembler(opts ...AssemblerOption) (*BundleAssembler, error) {
	a := &BundleAssembler{
		notifications:      &NoOpNotificationService{},
		maxWeight:          DefaultMaxBundleWeight,
		contentTypeWeights: map[string]int64{},
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply assembler option", err)
		}
	}

	if a.storage == nil {
		return nil, NewError(ErrCodeConfiguration, "CabinetStorage is required (use WithAssemblerRepositories)")
	}
	if a.bundles == nil {
		return nil, NewError(ErrCodeConfiguration, "BundleRepository is required (use WithAssemblerRepositories)")
	}
	if a.content.requester == nil {
		return nil, NewError(ErrCodeConfiguration, "ContentRequester is required (use WithContentRequester)")
	}
	if a.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithAssemblerLogger)")
	}

	a.content.logger = a.logger
	a.content.notifications = a.notifications
	return a, nil
}

// WithAssemblerRepositories sets the required storage dependencies.
func WithAssemblerRepositories(storage CabinetStorage, bundles BundleRepository) AssemblerOption {
	return func(a *BundleAssembler) error {
		if storage == nil {
			return fmt.Errorf("storage cannot be nil")
		}
		if bundles == nil {
			return fmt.Errorf("bundles cannot be nil")
		}
		a.storage = storage
		a.bundles = bundles
		return nil
	}
}

// WithContentRequester sets the client used to obtain bundle content.
func WithContentRequester(requester ContentRequester) AssemblerOption {
	return func(a *BundleAssembler) error {
		if requester == nil {
			return fmt.Errorf("content requester cannot be nil")
		}
		a.content.requester = requester
		return nil
	}
}

// WithAssemblerLogger sets the logger instance.
func WithAssemblerLogger(logger Logger) AssemblerOption {
	return func(a *BundleAssembler) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		a.logger = logger
		return nil
	}
}

// WithAssemblerNotifications sets an optional notification service.
// Defaults to NoOpNotificationService.
func WithAssemblerNotifications(service NotificationService) AssemblerOption {
	return func(a *BundleAssembler) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		a.notifications = service
		return nil
	}
}

// WithMaxBundleWeight sets the default weight budget of a bundle. Must be > 0.
func WithMaxBundleWeight(weight int64) AssemblerOption {
	return func(a *BundleAssembler) error {
		if weight <= 0 {
			return fmt.Errorf("max bundle weight must be > 0, got %d", weight)
		}
		a.maxWeight = weight
		return nil
	}
}

// WithContentTypeWeights overrides the weight budget per content type.
// Content types are matched exactly.
func WithContentTypeWeights(weights map[string]int64) AssemblerOption {
	return func(a *BundleAssembler) error {
		for contentType, weight := range weights {
			if weight <= 0 {
				return fmt.Errorf("max bundle weight of %s must be > 0, got %d", contentType, weight)
			}
			a.contentTypeWeights[contentType] = weight
		}
		return nil
	}
}

// AssembleRequest describes what a bundle may be assembled from.
type AssembleRequest struct {
	Recipient model.GlobalLocationNumber
	// Origins are the admissible origins in priority order. Empty means all
	// origins in model.Origins() order.
	Origins []model.Origin
	// BundleID is the id the recipient asked for. Zero means generate one.
	BundleID uuid.UUID
}

// MaxWeight returns the weight budget for contentType.
func (a *BundleAssembler) MaxWeight(contentType string) int64 {
	if weight, ok := a.contentTypeWeights[contentType]; ok {
		return weight
	}
	return a.maxWeight
}

// Assemble runs one read-select-commit cycle for the recipient.
//
// Returns nil, nil when there is nothing to deliver, or when the owning domain
// failed, refused or did not answer in time; in those cases nothing was
// committed and the notifications stay unread. A reply that breaks the
// request/reply contract is returned as a PROTOCOL_ERROR. Returns an error
// matching ErrConflict when a concurrent consumer won the commit; the caller
// should retry from scratch.
func (a *BundleAssembler) Assemble(ctx context.Context, req AssembleRequest) (*model.Bundle, error) {
	if err := req.Recipient.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid recipient", err)
	}

	origins := req.Origins
	if len(origins) == 0 {
		origins = model.Origins()
	}

	entries, err := a.discover(ctx, req.Recipient, origins)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry == nil {
			continue
		}

		reader, err := OpenCabinetReader(ctx, a.storage, entry.Key())
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "failed to open cabinet", err)
		}

		items, weight, err := a.selectItems(ctx, reader)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			continue
		}

		return a.complete(ctx, req.BundleID, reader, items, weight)
	}

	return nil, nil
}

// discover loads the active catalog entry of every admissible origin
// concurrently. The result is in origin priority order; origins without unread
// data have a nil entry.
func (a *BundleAssembler) discover(ctx context.Context, recipient model.GlobalLocationNumber, origins []model.Origin) ([]*model.CatalogEntry, error) {
	entries := make([]*model.CatalogEntry, len(origins))

	g, gctx := errgroup.WithContext(ctx)
	for i, origin := range origins {
		g.Go(func() error {
			entry, err := a.storage.LoadActiveCatalogEntry(gctx, recipient, origin, nil)
			if err != nil {
				if IsNoData(err) {
					return nil
				}
				return NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("failed to load catalog of %s", origin), err)
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// selectItems takes items greedily: the first item is always taken; an item
// that does not support bundling is only taken first and ends the bundle;
// otherwise taking stops before the item that would exceed the weight budget.
func (a *BundleAssembler) selectItems(ctx context.Context, reader *CabinetReader) ([]model.DataAvailableNotification, int64, error) {
	budget := a.MaxWeight(reader.Key().ContentType)

	var (
		items  []model.DataAvailableNotification
		weight int64
	)
	for {
		ok, err := reader.CanPeek(ctx)
		if err != nil {
			return nil, 0, NewErrorWithCause(ErrCodeDatabase, "failed to read cabinet", err)
		}
		if !ok {
			break
		}

		next, err := reader.Peek(ctx)
		if err != nil {
			return nil, 0, err
		}
		if len(items) > 0 && (!next.SupportsBundling || weight+next.Weight > budget) {
			break
		}

		item, err := reader.Take(ctx)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
		weight += item.Weight

		if !item.SupportsBundling {
			break
		}
	}

	return items, weight, nil
}

// complete obtains content for the selected items, saves the bundle and
// commits the reader's advancement.
func (a *BundleAssembler) complete(
	ctx context.Context,
	bundleID uuid.UUID,
	reader *CabinetReader,
	items []model.DataAvailableNotification,
	weight int64,
) (*model.Bundle, error) {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	bundle := model.NewBundle(bundleID, reader.Key(), ids, weight)

	uri, ok, err := selectContentPath(&bundle, a.content).resolve(ctx, &bundle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := bundle.AssignContent(uri); err != nil {
		return nil, NewErrorWithCause(ErrCodeProtocol, "domain returned unusable content", err)
	}

	changes, err := reader.GetChanges(ctx)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to compute cabinet changes", err)
	}

	if err := a.bundles.Save(ctx, &bundle); err != nil {
		return nil, err
	}

	if err := a.storage.CommitChanges(ctx, changes); err != nil {
		if derr := a.bundles.Discard(ctx, bundle.ID); derr != nil {
			a.logger.Errorf("Failed to discard bundle %s after lost commit: %v", bundle.ID, derr)
		}
		if IsConflict(err) {
			a.logger.Debugf("Commit conflict for %s, bundle %s discarded", reader.Key(), bundle.ID)
			return nil, err
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to commit cabinet changes", err)
	}

	a.logger.Infof("Bundle assembled: id=%s, key=%s, notifications=%d, weight=%d",
		bundle.ID, reader.Key(), len(ids), weight)
	if nerr := a.notifications.NotifyBundleReady(ctx, bundle); nerr != nil {
		a.logger.Warnf("Failed to send bundle ready notification: %v", nerr)
	}

	return &bundle, nil
}
