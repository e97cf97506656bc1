package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
)

// CabinetStorage is an in-memory messagehub.CabinetStorage.
type CabinetStorage struct {
	mu        sync.Mutex
	allocator messagehub.SequenceAllocator
	maxItems  int64

	drawers map[uuid.UUID]*model.Drawer
	byKey   map[model.CabinetKey][]uuid.UUID
	items   map[uuid.UUID][]model.DataAvailableNotification
	stored  map[uuid.UUID]model.DataAvailableNotification
	purged  map[uuid.UUID]struct{}
	catalog map[model.CabinetKey]model.CatalogEntry
}

// StorageOption configures a CabinetStorage.
type StorageOption func(*CabinetStorage)

// WithAllocator sets the sequence allocator. It is called while the storage
// holds its lock and must not call back into the storage.
func WithAllocator(allocator messagehub.SequenceAllocator) StorageOption {
	return func(s *CabinetStorage) {
		s.allocator = allocator
	}
}

// WithMaxItemsPerDrawer sets how many items a drawer holds before a new one is opened.
func WithMaxItemsPerDrawer(maxItems int64) StorageOption {
	return func(s *CabinetStorage) {
		s.maxItems = maxItems
	}
}

// NewCabinetStorage creates an empty storage.
func NewCabinetStorage(opts ...StorageOption) *CabinetStorage {
	s := &CabinetStorage{
		allocator: NewAllocator(),
		maxItems:  messagehub.DefaultMaxItemsPerDrawer,
		drawers:   make(map[uuid.UUID]*model.Drawer),
		byKey:     make(map[model.CabinetKey][]uuid.UUID),
		items:     make(map[uuid.UUID][]model.DataAvailableNotification),
		stored:    make(map[uuid.UUID]model.DataAvailableNotification),
		purged:    make(map[uuid.UUID]struct{}),
		catalog:   make(map[model.CabinetKey]model.CatalogEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendNotification implements messagehub.CabinetStorage. A notification
// whose id is already stored is returned as stored.
//
// Appends only grow the newest drawer. Drawer and catalog versions are left
// alone so that a cursor move read before the append still commits.
func (s *CabinetStorage) AppendNotification(ctx context.Context, n model.DataAvailableNotification) (model.DataAvailableNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.stored[n.ID]; ok {
		return existing, nil
	}

	key := n.Key()
	seq, err := s.allocator.NextSequenceNumber(ctx, key.SequencePartition())
	if err != nil {
		return model.DataAvailableNotification{}, err
	}
	n.SequenceNumber = seq

	var drawer *model.Drawer
	if ids := s.byKey[key]; len(ids) > 0 {
		drawer = s.drawers[ids[len(ids)-1]]
		if drawer.IsFull(s.maxItems) {
			drawer = nil
		}
	}
	if drawer == nil {
		opened := model.NewDrawer(key, seq)
		drawer = &opened
		s.drawers[drawer.ID] = drawer
		s.byKey[key] = append(s.byKey[key], drawer.ID)
	}

	s.items[drawer.ID] = append(s.items[drawer.ID], n)
	s.stored[n.ID] = n
	drawer.ItemCount++

	if _, ok := s.catalog[key]; !ok {
		s.catalog[key] = model.CatalogEntry{
			Recipient:          key.Recipient,
			Origin:             key.Origin,
			ContentType:        key.ContentType,
			NextSequenceNumber: seq,
			Version:            1,
		}
	}

	return n, nil
}

// LoadDrawersForKey implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadDrawersForKey(_ context.Context, key model.CabinetKey) ([]messagehub.DrawerSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]messagehub.DrawerSlot, 0, len(s.byKey[key]))
	for _, id := range s.byKey[key] {
		drawer := *s.drawers[id]
		if drawer.IsExhausted() {
			continue
		}
		slots = append(slots, messagehub.DrawerSlot{
			Drawer: drawer,
			Items:  messagehub.NewDeferred(s.itemsFetch(drawer)),
		})
	}
	return slots, nil
}

// itemsFetch reads the unread items of the drawer snapshot.
func (s *CabinetStorage) itemsFetch(drawer model.Drawer) func(context.Context) ([]model.DataAvailableNotification, error) {
	return func(ctx context.Context) ([]model.DataAvailableNotification, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		stored := s.items[drawer.ID]
		if int64(len(stored)) < drawer.ItemCount {
			return nil, fmt.Errorf("drawer %s holds %d items, expected %d", drawer.ID, len(stored), drawer.ItemCount)
		}
		return slices.Clone(stored[drawer.Position:drawer.ItemCount]), nil
	}
}

// LoadCatalogEntry implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadCatalogEntry(_ context.Context, key model.CabinetKey) (*model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.catalog[key]
	if !ok {
		return nil, messagehub.ErrNoData
	}
	return &entry, nil
}

// LoadActiveCatalogEntry implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadActiveCatalogEntry(
	_ context.Context,
	recipient model.GlobalLocationNumber,
	origin model.Origin,
	contentTypes []string,
) (*model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active *model.CatalogEntry
	for _, entry := range s.catalog {
		if entry.Recipient != recipient || entry.Origin != origin {
			continue
		}
		if len(contentTypes) > 0 && !slices.Contains(contentTypes, entry.ContentType) {
			continue
		}
		if active == nil || entry.NextSequenceNumber < active.NextSequenceNumber {
			candidate := entry
			active = &candidate
		}
	}
	if active == nil {
		return nil, messagehub.ErrNoData
	}
	return active, nil
}

// CommitChanges implements messagehub.CabinetStorage.
func (s *CabinetStorage) CommitChanges(_ context.Context, changes model.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, change := range changes.Drawers {
		drawer, ok := s.drawers[change.DrawerID]
		if !ok || drawer.Version != change.ExpectedVersion {
			return messagehub.NewError(messagehub.ErrCodeConflict, fmt.Sprintf("drawer %s was modified", change.DrawerID))
		}
		if change.Position < drawer.Position || change.Position > drawer.ItemCount {
			return messagehub.NewError(messagehub.ErrCodeValidation,
				fmt.Sprintf("drawer %s cannot move from %d to %d", change.DrawerID, drawer.Position, change.Position))
		}
	}
	for _, change := range changes.Catalog {
		entry, ok := s.catalog[change.Key]
		if change.ExpectedVersion == 0 && ok || change.ExpectedVersion != 0 && (!ok || entry.Version != change.ExpectedVersion) {
			return messagehub.NewError(messagehub.ErrCodeConflict, fmt.Sprintf("catalog entry %s was modified", change.Key))
		}
	}

	for _, change := range changes.Drawers {
		drawer := s.drawers[change.DrawerID]
		drawer.Position = change.Position
		drawer.Version++
	}
	for _, change := range changes.Catalog {
		next, unread := s.firstUnread(change.Key)
		if change.Remove && !unread {
			delete(s.catalog, change.Key)
			continue
		}
		if change.Remove {
			change.NextSequenceNumber = next
		}
		s.catalog[change.Key] = model.CatalogEntry{
			Recipient:          change.Key.Recipient,
			Origin:             change.Key.Origin,
			ContentType:        change.Key.ContentType,
			NextSequenceNumber: change.NextSequenceNumber,
			Version:            change.ExpectedVersion + 1,
		}
	}

	return nil
}

// firstUnread returns the sequence number of the first unread item of key.
// Items appended after a reader's snapshot keep the catalog entry alive.
func (s *CabinetStorage) firstUnread(key model.CabinetKey) (int64, bool) {
	for _, id := range s.byKey[key] {
		drawer := s.drawers[id]
		if !drawer.IsExhausted() {
			return s.items[id][drawer.Position].SequenceNumber, true
		}
	}
	return 0, false
}

// PurgeNotifications implements messagehub.CabinetStorage. Drawers whose
// items are all consumed and purged are dropped.
func (s *CabinetStorage) PurgeNotifications(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	purged := 0
	for key, drawerIDs := range s.byKey {
		kept := make([]uuid.UUID, 0, len(drawerIDs))
		for _, drawerID := range drawerIDs {
			drawer := s.drawers[drawerID]
			items := s.items[drawerID]
			remaining := 0
			for i, item := range items {
				if _, done := s.purged[item.ID]; done {
					continue
				}
				if _, ok := wanted[item.ID]; ok && int64(i) < drawer.Position {
					s.purged[item.ID] = struct{}{}
					purged++
					continue
				}
				remaining++
			}

			if remaining == 0 && drawer.IsExhausted() {
				for _, item := range items {
					delete(s.purged, item.ID)
					delete(s.stored, item.ID)
				}
				delete(s.drawers, drawerID)
				delete(s.items, drawerID)
				continue
			}
			kept = append(kept, drawerID)
		}
		if len(kept) == 0 {
			delete(s.byKey, key)
			continue
		}
		s.byKey[key] = kept
	}

	return purged, nil
}

// Drawers returns a snapshot of every drawer of key, including exhausted ones,
// ascending by OrderBy.
func (s *CabinetStorage) Drawers(key model.CabinetKey) []model.Drawer {
	s.mu.Lock()
	defer s.mu.Unlock()

	drawers := make([]model.Drawer, 0, len(s.byKey[key]))
	for _, id := range s.byKey[key] {
		drawers = append(drawers, *s.drawers[id])
	}
	return drawers
}
