package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/coregx/relica"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// notificationRow is a stored notification with its place in a drawer.
type notificationRow struct {
	ID               uuid.UUID                  `db:"id"`
	DrawerID         uuid.UUID                  `db:"drawer_id"`
	DrawerIndex      int64                      `db:"drawer_index"`
	Recipient        model.GlobalLocationNumber `db:"recipient"`
	Origin           model.Origin               `db:"origin"`
	ContentType      string                     `db:"content_type"`
	SupportsBundling bool                       `db:"supports_bundling"`
	Weight           int64                      `db:"weight"`
	SequenceNumber   int64                      `db:"sequence_number"`
	DocumentType     string                     `db:"document_type"`
	CreatedAt        sql.NullTime               `db:"created_at"`
}

func (r notificationRow) toModel() model.DataAvailableNotification {
	return model.DataAvailableNotification{
		ID:               r.ID,
		Recipient:        r.Recipient,
		Origin:           r.Origin,
		ContentType:      r.ContentType,
		SupportsBundling: r.SupportsBundling,
		Weight:           r.Weight,
		SequenceNumber:   r.SequenceNumber,
		DocumentType:     r.DocumentType,
		CreatedAt:        r.CreatedAt.Time,
	}
}

// CabinetStorage implements messagehub.CabinetStorage.
//
// Reads go through Relica. Writes run in sqlx transactions whose updates are
// conditional on the version read, so concurrent writers never overwrite each
// other.
type CabinetStorage struct {
	db          *relica.DB
	tx          *sqlx.DB
	tablePrefix string
	maxItems    int64
}

// NewCabinetStorage creates a new CabinetStorage with default table prefix.
func NewCabinetStorage(sqlDB *sql.DB, driverName string) *CabinetStorage {
	return NewCabinetStorageWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewCabinetStorageWithPrefix creates a new CabinetStorage with custom table prefix.
func NewCabinetStorageWithPrefix(sqlDB *sql.DB, driverName, prefix string) *CabinetStorage {
	return &CabinetStorage{
		db:          relica.WrapDB(sqlDB, driverName),
		tx:          sqlx.NewDb(sqlDB, driverName),
		tablePrefix: prefix,
		maxItems:    messagehub.DefaultMaxItemsPerDrawer,
	}
}

// SetMaxItemsPerDrawer sets how many items a drawer holds before a new one is opened.
func (s *CabinetStorage) SetMaxItemsPerDrawer(maxItems int64) {
	if maxItems > 0 {
		s.maxItems = maxItems
	}
}

func (s *CabinetStorage) drawerTable() string       { return s.tablePrefix + "drawer" }
func (s *CabinetStorage) notificationTable() string { return s.tablePrefix + "notification" }
func (s *CabinetStorage) catalogTable() string      { return s.tablePrefix + "catalog" }
func (s *CabinetStorage) sequenceTable() string     { return s.tablePrefix + "sequence" }

// AppendNotification implements messagehub.CabinetStorage. Sequence allocation,
// drawer append and catalog update share one transaction. A notification whose
// id is already stored is returned as stored.
//
// Appends only grow item_count. Drawer and catalog versions are bumped by
// cursor moves alone, so a peek that read the cabinet before the append still
// commits.
func (s *CabinetStorage) AppendNotification(ctx context.Context, n model.DataAvailableNotification) (model.DataAvailableNotification, error) {
	key := n.Key()

	err := withTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		existing, err := s.findNotification(ctx, tx, n.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			n = existing.toModel()
			return nil
		}

		seq, err := nextSequence(ctx, tx, s.sequenceTable(), key.SequencePartition())
		if err != nil {
			return err
		}
		n.SequenceNumber = seq

		drawer, err := s.newestDrawer(ctx, tx, key)
		if err != nil {
			return err
		}
		if drawer == nil || drawer.IsFull(s.maxItems) {
			opened := model.NewDrawer(key, seq)
			if err := s.insertDrawer(ctx, tx, opened); err != nil {
				return err
			}
			drawer = &opened
		}

		if _, err := exec(ctx, tx, "INSERT INTO "+s.notificationTable()+
			" (id, drawer_id, drawer_index, recipient, origin, content_type, supports_bundling, weight, sequence_number, document_type, created_at)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			n.ID.String(), drawer.ID.String(), drawer.ItemCount, string(n.Recipient), string(n.Origin), n.ContentType,
			n.SupportsBundling, n.Weight, n.SequenceNumber, n.DocumentType, n.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return conflict("notification %s or drawer %s slot %d was written concurrently", n.ID, drawer.ID, drawer.ItemCount)
			}
			return dbError("failed to insert notification", err)
		}

		affected, err := exec(ctx, tx, "UPDATE "+s.drawerTable()+
			" SET item_count = item_count + 1 WHERE id = ? AND item_count = ?",
			drawer.ID.String(), drawer.ItemCount)
		if err != nil {
			return dbError("failed to update drawer", err)
		}
		if affected == 0 {
			return conflict("drawer %s was modified", drawer.ID)
		}

		return s.ensureCatalog(ctx, tx, key, seq)
	})
	if err != nil {
		return model.DataAvailableNotification{}, err
	}

	return n, nil
}

func (s *CabinetStorage) findNotification(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*notificationRow, error) {
	var row notificationRow
	err := tx.GetContext(ctx, &row, tx.Rebind("SELECT * FROM "+s.notificationTable()+" WHERE id = ?"), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("failed to look up notification", err)
	}
	return &row, nil
}

func (s *CabinetStorage) newestDrawer(ctx context.Context, tx *sqlx.Tx, key model.CabinetKey) (*model.Drawer, error) {
	var drawer model.Drawer
	err := tx.GetContext(ctx, &drawer, tx.Rebind("SELECT * FROM "+s.drawerTable()+
		" WHERE partition_key = ? ORDER BY order_by DESC LIMIT 1"), key.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("failed to load newest drawer", err)
	}
	return &drawer, nil
}

func (s *CabinetStorage) insertDrawer(ctx context.Context, tx *sqlx.Tx, d model.Drawer) error {
	_, err := exec(ctx, tx, "INSERT INTO "+s.drawerTable()+
		" (id, partition_key, recipient, origin, content_type, position, item_count, order_by, version, created_at)"+
		" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ID.String(), d.PartitionKey, string(d.Recipient), string(d.Origin), d.ContentType,
		d.Position, d.ItemCount, d.OrderBy, d.Version, d.CreatedAt)
	if err != nil {
		return dbError("failed to insert drawer", err)
	}
	return nil
}

// ensureCatalog creates key's catalog entry at seq when the cabinet had
// nothing unread. An existing entry already points at an older item.
func (s *CabinetStorage) ensureCatalog(ctx context.Context, tx *sqlx.Tx, key model.CabinetKey, seq int64) error {
	var count int64
	if err := tx.GetContext(ctx, &count, tx.Rebind("SELECT COUNT(*) FROM "+s.catalogTable()+
		" WHERE recipient = ? AND origin = ? AND content_type = ?"),
		string(key.Recipient), string(key.Origin), key.ContentType); err != nil {
		return dbError("failed to check catalog entry", err)
	}
	if count > 0 {
		return nil
	}

	_, err := exec(ctx, tx, "INSERT INTO "+s.catalogTable()+
		" (recipient, origin, content_type, next_sequence_number, version) VALUES (?, ?, ?, ?, ?)",
		string(key.Recipient), string(key.Origin), key.ContentType, seq, 1)
	if isUniqueViolation(err) {
		return conflict("catalog entry %s was created concurrently", key)
	}
	if err != nil {
		return dbError("failed to insert catalog entry", err)
	}
	return nil
}

// LoadDrawersForKey implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadDrawersForKey(ctx context.Context, key model.CabinetKey) ([]messagehub.DrawerSlot, error) {
	var drawers []model.Drawer

	err := s.db.WithContext(ctx).Select("*").
		From(s.drawerTable()).
		Where("partition_key = ? AND position < item_count", key.String()).
		OrderBy("order_by ASC").
		WithContext(ctx).
		All(&drawers)
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load drawers", err)
	}

	slots := make([]messagehub.DrawerSlot, 0, len(drawers))
	for _, drawer := range drawers {
		slots = append(slots, messagehub.DrawerSlot{
			Drawer: drawer,
			Items:  messagehub.NewDeferred(s.itemsFetch(drawer)),
		})
	}
	return slots, nil
}

// itemsFetch reads the unread items of the drawer as seen when it was loaded.
func (s *CabinetStorage) itemsFetch(drawer model.Drawer) func(context.Context) ([]model.DataAvailableNotification, error) {
	return func(ctx context.Context) ([]model.DataAvailableNotification, error) {
		var rows []notificationRow

		err := s.db.WithContext(ctx).Select("*").
			From(s.notificationTable()).
			Where("drawer_id = ? AND drawer_index >= ? AND drawer_index < ?", drawer.ID.String(), drawer.Position, drawer.ItemCount).
			OrderBy("drawer_index ASC").
			WithContext(ctx).
			All(&rows)
		if err != nil {
			return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load drawer items", err)
		}
		if int64(len(rows)) != drawer.ItemCount-drawer.Position {
			return nil, messagehub.NewError(messagehub.ErrCodeDatabase,
				fmt.Sprintf("drawer %s returned %d items, expected %d", drawer.ID, len(rows), drawer.ItemCount-drawer.Position))
		}

		items := make([]model.DataAvailableNotification, len(rows))
		for i, row := range rows {
			items[i] = row.toModel()
		}
		return items, nil
	}
}

// LoadCatalogEntry implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadCatalogEntry(ctx context.Context, key model.CabinetKey) (*model.CatalogEntry, error) {
	var entry model.CatalogEntry

	err := s.db.WithContext(ctx).Select("*").
		From(s.catalogTable()).
		Where("recipient = ? AND origin = ? AND content_type = ?", string(key.Recipient), string(key.Origin), key.ContentType).
		WithContext(ctx).
		One(&entry)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, messagehub.ErrNoData
	}
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load catalog entry", err)
	}
	return &entry, nil
}

// LoadActiveCatalogEntry implements messagehub.CabinetStorage.
func (s *CabinetStorage) LoadActiveCatalogEntry(
	ctx context.Context,
	recipient model.GlobalLocationNumber,
	origin model.Origin,
	contentTypes []string,
) (*model.CatalogEntry, error) {
	var entry model.CatalogEntry

	condition := "recipient = ? AND origin = ?"
	args := []interface{}{string(recipient), string(origin)}
	if len(contentTypes) > 0 {
		condition += " AND content_type IN (" + placeholders(len(contentTypes)) + ")"
		for _, contentType := range contentTypes {
			args = append(args, contentType)
		}
	}

	err := s.db.WithContext(ctx).Select("*").
		From(s.catalogTable()).
		Where(condition, args...).
		OrderBy("next_sequence_number ASC").
		Limit(1).
		WithContext(ctx).
		One(&entry)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, messagehub.ErrNoData
	}
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load active catalog entry", err)
	}
	return &entry, nil
}

// CommitChanges implements messagehub.CabinetStorage.
func (s *CabinetStorage) CommitChanges(ctx context.Context, changes model.ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}

	return withTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		for _, change := range changes.Drawers {
			affected, err := exec(ctx, tx, "UPDATE "+s.drawerTable()+
				" SET position = ?, version = version + 1 WHERE id = ? AND version = ? AND position <= ? AND item_count >= ?",
				change.Position, change.DrawerID.String(), change.ExpectedVersion, change.Position, change.Position)
			if err != nil {
				return dbError("failed to update drawer position", err)
			}
			if affected == 0 {
				return conflict("drawer %s was modified", change.DrawerID)
			}
		}

		for _, change := range changes.Catalog {
			if err := s.commitCatalogChange(ctx, tx, change); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *CabinetStorage) commitCatalogChange(ctx context.Context, tx *sqlx.Tx, change model.CatalogChange) error {
	key := change.Key
	where := " WHERE recipient = ? AND origin = ? AND content_type = ?"
	keyArgs := []interface{}{string(key.Recipient), string(key.Origin), key.ContentType}

	if change.Remove {
		next, err := s.firstUnread(ctx, tx, key)
		if err != nil {
			return err
		}
		if next.Valid {
			change.Remove = false
			change.NextSequenceNumber = next.Int64
		}
	}

	if change.ExpectedVersion == 0 {
		var count int64
		if err := tx.GetContext(ctx, &count, tx.Rebind("SELECT COUNT(*) FROM "+s.catalogTable()+where), keyArgs...); err != nil {
			return dbError("failed to check catalog entry", err)
		}
		if count > 0 {
			return conflict("catalog entry %s was created concurrently", key)
		}
		if change.Remove {
			return nil
		}
		_, err := exec(ctx, tx, "INSERT INTO "+s.catalogTable()+
			" (recipient, origin, content_type, next_sequence_number, version) VALUES (?, ?, ?, ?, ?)",
			append(keyArgs, change.NextSequenceNumber, 1)...)
		if isUniqueViolation(err) {
			return conflict("catalog entry %s was created concurrently", key)
		}
		if err != nil {
			return dbError("failed to insert catalog entry", err)
		}
		return nil
	}

	var (
		affected int64
		err      error
	)
	if change.Remove {
		affected, err = exec(ctx, tx, "DELETE FROM "+s.catalogTable()+where+" AND version = ?",
			append(keyArgs, change.ExpectedVersion)...)
	} else {
		affected, err = exec(ctx, tx, "UPDATE "+s.catalogTable()+
			" SET next_sequence_number = ?, version = version + 1"+where+" AND version = ?",
			append([]interface{}{change.NextSequenceNumber}, append(keyArgs, change.ExpectedVersion)...)...)
	}
	if err != nil {
		return dbError("failed to update catalog entry", err)
	}
	if affected == 0 {
		return conflict("catalog entry %s was modified", key)
	}
	return nil
}

// firstUnread returns the sequence number of the first unread item of key, as
// seen inside tx after its cursor moves. Items appended after a reader's
// snapshot keep the catalog entry alive.
func (s *CabinetStorage) firstUnread(ctx context.Context, tx *sqlx.Tx, key model.CabinetKey) (sql.NullInt64, error) {
	var next sql.NullInt64
	err := tx.GetContext(ctx, &next, tx.Rebind("SELECT MIN(n.sequence_number) FROM "+s.notificationTable()+" n"+
		" JOIN "+s.drawerTable()+" d ON d.id = n.drawer_id"+
		" WHERE d.partition_key = ? AND n.drawer_index >= d.position"), key.String())
	if err != nil {
		return next, dbError("failed to find first unread notification", err)
	}
	return next, nil
}

// PurgeNotifications implements messagehub.CabinetStorage. Exhausted drawers
// left without notifications are removed as well.
func (s *CabinetStorage) PurgeNotifications(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var purged int64
	err := withTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			affected, err := exec(ctx, tx, "DELETE FROM "+s.notificationTable()+
				" WHERE id = ? AND drawer_index < (SELECT d.position FROM "+s.drawerTable()+" d WHERE d.id = drawer_id)",
				id.String())
			if err != nil {
				return dbError("failed to purge notification", err)
			}
			purged += affected
		}

		if _, err := exec(ctx, tx, "DELETE FROM "+s.drawerTable()+
			" WHERE position = item_count AND NOT EXISTS (SELECT 1 FROM "+s.notificationTable()+" n WHERE n.drawer_id = "+s.drawerTable()+".id)"); err != nil {
			return dbError("failed to remove exhausted drawers", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int(purged), nil
}
