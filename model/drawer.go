package model

import (
	"time"

	"github.com/google/uuid"
)

// Drawer is one physical page of a cabinet's queue.
//
// Items are appended to the newest drawer until it holds the configured maximum,
// after which a new drawer is opened. Position is the index of the next unread
// item and only ever increases; the drawer is exhausted when Position equals
// ItemCount. Drawers of one cabinet are consumed in ascending OrderBy, which is
// the sequence number of the first item written to the drawer.
//
// Version is the optimistic concurrency token of the read cursor: every cursor
// move increments it and compares against the value the reader saw. Appends
// only grow ItemCount and leave Version alone.
type Drawer struct {
	ID           uuid.UUID            `json:"id" db:"id"`
	PartitionKey string               `json:"partitionKey" db:"partition_key"`
	Recipient    GlobalLocationNumber `json:"recipient" db:"recipient"`
	Origin       Origin               `json:"origin" db:"origin"`
	ContentType  string               `json:"contentType" db:"content_type"`
	Position     int64                `json:"position" db:"position"`
	ItemCount    int64                `json:"itemCount" db:"item_count"`
	OrderBy      int64                `json:"orderBy" db:"order_by"`
	Version      int64                `json:"version" db:"version"`
	CreatedAt    time.Time            `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Drawer.
func (d Drawer) TableName() string {
	return tablePrefix + "drawer"
}

// NewDrawer opens an empty drawer for key whose first item carries firstSequence.
func NewDrawer(key CabinetKey, firstSequence int64) Drawer {
	return Drawer{
		ID:           uuid.New(),
		PartitionKey: key.String(),
		Recipient:    key.Recipient,
		Origin:       key.Origin,
		ContentType:  key.ContentType,
		Position:     0,
		ItemCount:    0,
		OrderBy:      firstSequence,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}
}

// Key returns the cabinet the drawer belongs to.
func (d Drawer) Key() CabinetKey {
	return CabinetKey{Recipient: d.Recipient, Origin: d.Origin, ContentType: d.ContentType}
}

// IsExhausted reports whether every item in the drawer has been read.
func (d Drawer) IsExhausted() bool {
	return d.Position >= d.ItemCount
}

// IsFull reports whether the drawer reached maxItems and a new one must be opened.
func (d Drawer) IsFull(maxItems int64) bool {
	return maxItems > 0 && d.ItemCount >= maxItems
}

// Unread returns the number of items not yet consumed.
func (d Drawer) Unread() int64 {
	if d.IsExhausted() {
		return 0
	}
	return d.ItemCount - d.Position
}

// CatalogEntry points at the first unread notification of one cabinet.
// Peeks use the catalog to find the content type with pending data for a
// recipient and origin without scanning every cabinet.
//
// When present, NextSequenceNumber equals the sequence number of the first
// unread item of the cabinet. The entry is removed once nothing unread remains.
// Version changes only when a reader commits; appends create a missing entry
// and otherwise leave it alone.
type CatalogEntry struct {
	Recipient          GlobalLocationNumber `json:"recipient" db:"recipient"`
	Origin             Origin               `json:"origin" db:"origin"`
	ContentType        string               `json:"contentType" db:"content_type"`
	NextSequenceNumber int64                `json:"nextSequenceNumber" db:"next_sequence_number"`
	Version            int64                `json:"version" db:"version"`
}

// TableName returns the database table name for CatalogEntry.
func (c CatalogEntry) TableName() string {
	return tablePrefix + "catalog"
}

// Key returns the cabinet the entry points into.
func (c CatalogEntry) Key() CabinetKey {
	return CabinetKey{Recipient: c.Recipient, Origin: c.Origin, ContentType: c.ContentType}
}

// DrawerChange is the pending cursor advancement of one drawer.
// It applies only if the stored drawer still carries ExpectedVersion.
type DrawerChange struct {
	DrawerID        uuid.UUID
	ExpectedVersion int64
	Position        int64
}

// CatalogChange is the pending update of one cabinet's catalog entry.
// ExpectedVersion 0 means the writer saw no entry. When Remove is set the entry
// is deleted unless items appended since the read are still unread, in which
// case it moves to the first of them. Otherwise it is written with
// NextSequenceNumber.
type CatalogChange struct {
	Key                CabinetKey
	ExpectedVersion    int64
	NextSequenceNumber int64
	Remove             bool
}

// ChangeSet is the storage mutation produced by consuming cabinet items.
// It must be committed atomically or not at all.
type ChangeSet struct {
	Drawers []DrawerChange
	Catalog []CatalogChange
}

// IsEmpty reports whether the change set touches nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Drawers) == 0 && len(c.Catalog) == 0
}

// Merge returns the union of c and other.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := ChangeSet{
		Drawers: make([]DrawerChange, 0, len(c.Drawers)+len(other.Drawers)),
		Catalog: make([]CatalogChange, 0, len(c.Catalog)+len(other.Catalog)),
	}
	merged.Drawers = append(append(merged.Drawers, c.Drawers...), other.Drawers...)
	merged.Catalog = append(append(merged.Catalog, c.Catalog...), other.Catalog...)
	return merged
}
