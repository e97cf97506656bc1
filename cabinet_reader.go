package messagehub

import (
	"context"
	"fmt"

	"github.com/coregx/messagehub/model"
)

// CabinetReader iterates the unread notifications of one cabinet in sequence
// order and records how far it got, without ever writing to storage.
//
// Consumption is staged: Take only advances the reader. GetChanges turns the
// advancement into a change set that the caller commits together with
// whatever else it produced (typically a saved bundle).
//
// A CabinetReader is not safe for concurrent use.
type CabinetReader struct {
	key     model.CabinetKey
	catalog *model.CatalogEntry
	slots   []readerSlot
	current int
	taken   int
}

type readerSlot struct {
	drawer model.Drawer
	items  *Deferred[[]model.DataAvailableNotification]
	loaded []model.DataAvailableNotification
	ready  bool
	offset int
}

// OpenCabinetReader loads the catalog entry and unread drawers of key.
// A cabinet with nothing unread yields a reader whose CanPeek is false.
func OpenCabinetReader(ctx context.Context, storage CabinetStorage, key model.CabinetKey) (*CabinetReader, error) {
	if storage == nil {
		return nil, NewError(ErrCodeConfiguration, "cabinet storage is required")
	}

	catalog, err := storage.LoadCatalogEntry(ctx, key)
	if err != nil && !IsNoData(err) {
		return nil, fmt.Errorf("failed to load catalog entry of %s: %w", key, err)
	}

	drawers, err := storage.LoadDrawersForKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load drawers of %s: %w", key, err)
	}

	reader := &CabinetReader{
		key:     key,
		catalog: catalog,
		slots:   make([]readerSlot, 0, len(drawers)),
	}
	for _, d := range drawers {
		if d.Drawer.IsExhausted() {
			continue
		}
		reader.slots = append(reader.slots, readerSlot{drawer: d.Drawer, items: d.Items})
	}
	reader.prefetch(ctx, 0)

	return reader, nil
}

// Key returns the cabinet the reader iterates.
func (r *CabinetReader) Key() model.CabinetKey {
	return r.key
}

// Taken returns the number of items consumed so far.
func (r *CabinetReader) Taken() int {
	return r.taken
}

// CanPeek reports whether an unread item remains.
func (r *CabinetReader) CanPeek(ctx context.Context) (bool, error) {
	for r.current < len(r.slots) {
		slot := &r.slots[r.current]
		if !slot.ready {
			items, err := slot.items.Await(ctx)
			if err != nil {
				return false, fmt.Errorf("failed to load items of drawer %s: %w", slot.drawer.ID, err)
			}
			slot.loaded = items
			slot.ready = true
		}
		if slot.offset < len(slot.loaded) {
			return true, nil
		}
		r.current++
		r.prefetch(ctx, r.current)
	}
	return false, nil
}

// Peek returns the next unread item without consuming it.
// Returns ErrNoMoreItems when the cabinet is exhausted.
func (r *CabinetReader) Peek(ctx context.Context) (model.DataAvailableNotification, error) {
	ok, err := r.CanPeek(ctx)
	if err != nil {
		return model.DataAvailableNotification{}, err
	}
	if !ok {
		return model.DataAvailableNotification{}, ErrNoMoreItems
	}
	slot := &r.slots[r.current]
	return slot.loaded[slot.offset], nil
}

// Take consumes and returns the next unread item.
// Returns ErrNoMoreItems when the cabinet is exhausted.
func (r *CabinetReader) Take(ctx context.Context) (model.DataAvailableNotification, error) {
	item, err := r.Peek(ctx)
	if err != nil {
		return item, err
	}
	r.slots[r.current].offset++
	r.taken++
	return item, nil
}

// GetChanges describes the consumption so far: the new cursor of every drawer
// items were taken from and the catalog entry update of the cabinet.
// Returns an empty change set if nothing was taken.
func (r *CabinetReader) GetChanges(ctx context.Context) (model.ChangeSet, error) {
	var changes model.ChangeSet
	if r.taken == 0 {
		return changes, nil
	}

	for i := range r.slots {
		slot := &r.slots[i]
		if slot.offset == 0 {
			continue
		}
		changes.Drawers = append(changes.Drawers, model.DrawerChange{
			DrawerID:        slot.drawer.ID,
			ExpectedVersion: slot.drawer.Version,
			Position:        slot.drawer.Position + int64(slot.offset),
		})
	}

	catalogChange := model.CatalogChange{Key: r.key}
	if r.catalog != nil {
		catalogChange.ExpectedVersion = r.catalog.Version
	}

	more, err := r.CanPeek(ctx)
	if err != nil {
		return model.ChangeSet{}, err
	}
	if more {
		next, err := r.Peek(ctx)
		if err != nil {
			return model.ChangeSet{}, err
		}
		catalogChange.NextSequenceNumber = next.SequenceNumber
	} else {
		catalogChange.Remove = true
	}
	changes.Catalog = append(changes.Catalog, catalogChange)

	return changes, nil
}

// prefetch starts fetching the items of drawer i and the one after it.
func (r *CabinetReader) prefetch(ctx context.Context, i int) {
	for j := i; j < len(r.slots) && j <= i+1; j++ {
		r.slots[j].items.Start(ctx)
	}
}
