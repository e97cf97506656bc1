package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
)

// BundleRepository is an in-memory messagehub.BundleRepository.
type BundleRepository struct {
	mu          sync.Mutex
	bundles     map[uuid.UUID]model.Bundle
	outstanding map[model.GlobalLocationNumber]uuid.UUID
}

// NewBundleRepository creates an empty repository.
func NewBundleRepository() *BundleRepository {
	return &BundleRepository{
		bundles:     make(map[uuid.UUID]model.Bundle),
		outstanding: make(map[model.GlobalLocationNumber]uuid.UUID),
	}
}

// GetNextUnacknowledged implements messagehub.BundleRepository.
func (r *BundleRepository) GetNextUnacknowledged(_ context.Context, recipient model.GlobalLocationNumber) (*model.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.outstanding[recipient]
	if !ok {
		return nil, messagehub.ErrNoData
	}
	bundle := clone(r.bundles[id])
	return &bundle, nil
}

// Save implements messagehub.BundleRepository.
func (r *BundleRepository) Save(_ context.Context, bundle *model.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.outstanding[bundle.Recipient]; ok {
		return messagehub.ErrDuplicateBundle
	}
	if _, ok := r.bundles[bundle.ID]; ok {
		return messagehub.NewError(messagehub.ErrCodeDuplicateBundle, "bundle id already used")
	}

	r.bundles[bundle.ID] = clone(*bundle)
	if !bundle.Dequeued {
		r.outstanding[bundle.Recipient] = bundle.ID
	}
	return nil
}

// Acknowledge implements messagehub.BundleRepository.
func (r *BundleRepository) Acknowledge(_ context.Context, recipient model.GlobalLocationNumber, bundleID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, ok := r.bundles[bundleID]
	if !ok || bundle.Recipient != recipient {
		return false, nil
	}
	if !bundle.MarkDequeued() {
		return false, nil
	}

	r.bundles[bundleID] = bundle
	delete(r.outstanding, recipient)
	return true, nil
}

// Discard implements messagehub.BundleRepository.
func (r *BundleRepository) Discard(_ context.Context, bundleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, ok := r.bundles[bundleID]
	if !ok || bundle.Dequeued {
		return nil
	}
	delete(r.bundles, bundleID)
	if r.outstanding[bundle.Recipient] == bundleID {
		delete(r.outstanding, bundle.Recipient)
	}
	return nil
}

// FindDequeuedBefore implements messagehub.BundleRepository.
func (r *BundleRepository) FindDequeuedBefore(_ context.Context, before time.Time, limit int) ([]model.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []model.Bundle
	for _, bundle := range r.bundles {
		if bundle.Dequeued && bundle.DequeuedAt != nil && bundle.DequeuedAt.Before(before) {
			found = append(found, clone(bundle))
		}
	}
	if len(found) == 0 {
		return nil, messagehub.ErrNoData
	}

	slices.SortFunc(found, func(a, b model.Bundle) int {
		return a.DequeuedAt.Compare(*b.DequeuedAt)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// Delete implements messagehub.BundleRepository.
func (r *BundleRepository) Delete(_ context.Context, bundleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, ok := r.bundles[bundleID]
	if !ok {
		return messagehub.ErrNoData
	}
	delete(r.bundles, bundleID)
	if r.outstanding[bundle.Recipient] == bundleID {
		delete(r.outstanding, bundle.Recipient)
	}
	return nil
}

func clone(b model.Bundle) model.Bundle {
	b.NotificationIDs = slices.Clone(b.NotificationIDs)
	if b.Content != nil {
		content := *b.Content
		b.Content = &content
	}
	if b.DequeuedAt != nil {
		at := *b.DequeuedAt
		b.DequeuedAt = &at
	}
	return b
}
