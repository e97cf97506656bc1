package messagehub

import (
	"context"
	"time"

	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
)

// DefaultMaxItemsPerDrawer is the number of items after which storage opens a new drawer.
const DefaultMaxItemsPerDrawer = 10000

// DrawerSlot pairs an unread drawer with the deferred fetch of its unread items.
type DrawerSlot struct {
	Drawer model.Drawer
	Items  *Deferred[[]model.DataAvailableNotification]
}

// SequenceAllocator issues strictly increasing sequence numbers per partition.
//
// Implementations must be safe for concurrent use and must never return the
// same value twice for one partition. Write conflicts are retried internally;
// when the retry budget is exhausted the error carries ErrCodeSequenceAllocation
// and the caller may retry the whole operation.
type SequenceAllocator interface {
	// NextSequenceNumber returns the next number of the partition.
	NextSequenceNumber(ctx context.Context, partitionKey string) (int64, error)
}

// CabinetStorage persists notifications grouped into drawers, the read cursor of
// every drawer and the catalog of cabinets with unread data.
//
// All mutations of drawers and catalog entries are conditional on the version
// the writer read. There are no locks and no cross-partition transactions
// beyond a single CommitChanges call.
type CabinetStorage interface {
	// AppendNotification assigns the next sequence number and appends the
	// notification to the newest drawer of its cabinet, opening a new drawer
	// when none exists or the newest one is full. All or nothing.
	// Returns the stored notification with SequenceNumber populated.
	AppendNotification(ctx context.Context, n model.DataAvailableNotification) (model.DataAvailableNotification, error)

	// LoadDrawersForKey returns the drawers of key that still have unread items,
	// ascending by OrderBy. Item fetches are deferred and not started.
	// Returns an empty slice if nothing is unread.
	LoadDrawersForKey(ctx context.Context, key model.CabinetKey) ([]DrawerSlot, error)

	// LoadCatalogEntry retrieves the catalog entry of key.
	// Returns ErrNoData if the cabinet has nothing unread.
	LoadCatalogEntry(ctx context.Context, key model.CabinetKey) (*model.CatalogEntry, error)

	// LoadActiveCatalogEntry returns the entry with the lowest NextSequenceNumber
	// among the recipient's cabinets of origin. A non-empty contentTypes limits
	// the search to those content types.
	// Returns ErrNoData if none has unread data.
	LoadActiveCatalogEntry(ctx context.Context, recipient model.GlobalLocationNumber, origin model.Origin, contentTypes []string) (*model.CatalogEntry, error)

	// CommitChanges applies a change set atomically. If any touched drawer or
	// catalog entry no longer carries the expected version, nothing is written
	// and ErrConflict is returned.
	CommitChanges(ctx context.Context, changes model.ChangeSet) error

	// PurgeNotifications deletes the given notifications if they were already
	// consumed. Unconsumed notifications are left untouched.
	// Returns the number of deleted notifications.
	PurgeNotifications(ctx context.Context, ids []uuid.UUID) (int, error)
}

// BundleRepository persists bundles and enforces at most one outstanding
// (ready, not dequeued) bundle per recipient.
type BundleRepository interface {
	// GetNextUnacknowledged retrieves the recipient's outstanding bundle.
	// Returns ErrNoData if there is none.
	GetNextUnacknowledged(ctx context.Context, recipient model.GlobalLocationNumber) (*model.Bundle, error)

	// Save stores a newly created ready bundle.
	// Returns ErrDuplicateBundle if the recipient already has an outstanding bundle.
	Save(ctx context.Context, bundle *model.Bundle) error

	// Acknowledge marks the recipient's bundle as dequeued. It reports whether a
	// matching bundle that was not yet dequeued was found; acknowledging twice
	// returns false without error.
	Acknowledge(ctx context.Context, recipient model.GlobalLocationNumber, bundleID uuid.UUID) (bool, error)

	// Discard removes a bundle that was never dequeued. Used when the commit of
	// the notifications it contains lost a concurrency race.
	Discard(ctx context.Context, bundleID uuid.UUID) error

	// FindDequeuedBefore retrieves dequeued bundles acknowledged before t,
	// oldest first. Returns ErrNoData if none.
	FindDequeuedBefore(ctx context.Context, t time.Time, limit int) ([]model.Bundle, error)

	// Delete permanently removes a bundle. Used by cleanup only.
	Delete(ctx context.Context, bundleID uuid.UUID) error
}

