package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/coregx/relica"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// bundleRow is a stored bundle. OutstandingRecipient is set while the bundle
// is not dequeued; its unique constraint allows one outstanding bundle per
// recipient.
type bundleRow struct {
	ID                   uuid.UUID                  `db:"id"`
	ProcessID            uuid.UUID                  `db:"process_id"`
	Recipient            model.GlobalLocationNumber `db:"recipient"`
	Origin               model.Origin               `db:"origin"`
	ContentType          string                     `db:"content_type"`
	Weight               int64                      `db:"weight"`
	Content              sql.NullString             `db:"content"`
	State                model.BundleState          `db:"state"`
	Dequeued             bool                       `db:"dequeued"`
	CreatedAt            time.Time                  `db:"created_at"`
	DequeuedAt           sql.NullTime               `db:"dequeued_at"`
	OutstandingRecipient sql.NullString             `db:"outstanding_recipient"`
}

func (r bundleRow) toModel(ids []uuid.UUID) model.Bundle {
	b := model.Bundle{
		ID:              r.ID,
		ProcessID:       r.ProcessID,
		Recipient:       r.Recipient,
		Origin:          r.Origin,
		ContentType:     r.ContentType,
		NotificationIDs: ids,
		Weight:          r.Weight,
		State:           r.State,
		Dequeued:        r.Dequeued,
		CreatedAt:       r.CreatedAt,
	}
	if r.Content.Valid {
		content := r.Content.String
		b.Content = &content
	}
	if r.DequeuedAt.Valid {
		at := r.DequeuedAt.Time
		b.DequeuedAt = &at
	}
	return b
}

type bundleNotificationRow struct {
	BundleID       uuid.UUID `db:"bundle_id"`
	Position       int       `db:"position"`
	NotificationID uuid.UUID `db:"notification_id"`
}

// BundleRepository implements messagehub.BundleRepository.
type BundleRepository struct {
	db          *relica.DB
	tx          *sqlx.DB
	tablePrefix string
}

// NewBundleRepository creates a new BundleRepository with default table prefix.
func NewBundleRepository(sqlDB *sql.DB, driverName string) *BundleRepository {
	return NewBundleRepositoryWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewBundleRepositoryWithPrefix creates a new BundleRepository with custom table prefix.
func NewBundleRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *BundleRepository {
	return &BundleRepository{
		db:          relica.WrapDB(sqlDB, driverName),
		tx:          sqlx.NewDb(sqlDB, driverName),
		tablePrefix: prefix,
	}
}

func (r *BundleRepository) tableName() string {
	return r.tablePrefix + "bundle"
}

func (r *BundleRepository) notificationTable() string {
	return r.tablePrefix + "bundle_notification"
}

// GetNextUnacknowledged retrieves the recipient's outstanding bundle.
func (r *BundleRepository) GetNextUnacknowledged(ctx context.Context, recipient model.GlobalLocationNumber) (*model.Bundle, error) {
	var row bundleRow

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("outstanding_recipient = ?", string(recipient)).
		WithContext(ctx).
		One(&row)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, messagehub.ErrNoData
	}
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load outstanding bundle", err)
	}

	ids, err := r.notificationIDs(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	bundle := row.toModel(ids)
	return &bundle, nil
}

func (r *BundleRepository) notificationIDs(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	var rows []bundleNotificationRow

	err := r.db.WithContext(ctx).Select("*").
		From(r.notificationTable()).
		Where("bundle_id = ?", bundleID.String()).
		OrderBy("position ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to load bundle notifications", err)
	}

	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.NotificationID
	}
	return ids, nil
}

// Save stores a new bundle with its notification ids.
func (r *BundleRepository) Save(ctx context.Context, bundle *model.Bundle) error {
	var outstanding interface{}
	if !bundle.Dequeued {
		outstanding = string(bundle.Recipient)
	}

	return withTx(ctx, r.tx, func(tx *sqlx.Tx) error {
		_, err := exec(ctx, tx, "INSERT INTO "+r.tableName()+
			" (id, process_id, recipient, origin, content_type, weight, content, state, dequeued, created_at, dequeued_at, outstanding_recipient)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			bundle.ID.String(), bundle.ProcessID.String(), string(bundle.Recipient), string(bundle.Origin), bundle.ContentType,
			bundle.Weight, bundle.Content, string(bundle.State), bundle.Dequeued, bundle.CreatedAt, bundle.DequeuedAt, outstanding)
		if isUniqueViolation(err) {
			return messagehub.ErrDuplicateBundle
		}
		if err != nil {
			return dbError("failed to insert bundle", err)
		}

		for i, id := range bundle.NotificationIDs {
			if _, err := exec(ctx, tx, "INSERT INTO "+r.notificationTable()+
				" (bundle_id, position, notification_id) VALUES (?, ?, ?)",
				bundle.ID.String(), i, id.String()); err != nil {
				return dbError("failed to insert bundle notification", err)
			}
		}
		return nil
	})
}

// Acknowledge marks the bundle dequeued. Acknowledging twice returns false.
func (r *BundleRepository) Acknowledge(ctx context.Context, recipient model.GlobalLocationNumber, bundleID uuid.UUID) (bool, error) {
	var affected int64
	err := withTx(ctx, r.tx, func(tx *sqlx.Tx) error {
		var err error
		affected, err = exec(ctx, tx, "UPDATE "+r.tableName()+
			" SET dequeued = ?, dequeued_at = ?, state = ?, outstanding_recipient = NULL"+
			" WHERE id = ? AND recipient = ? AND dequeued = ? AND state = ?",
			true, time.Now().UTC(), string(model.BundleStateDequeued),
			bundleID.String(), string(recipient), false, string(model.BundleStateReady))
		if err != nil {
			return dbError("failed to acknowledge bundle", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Discard removes a bundle that was never dequeued.
func (r *BundleRepository) Discard(ctx context.Context, bundleID uuid.UUID) error {
	return withTx(ctx, r.tx, func(tx *sqlx.Tx) error {
		affected, err := exec(ctx, tx, "DELETE FROM "+r.tableName()+" WHERE id = ? AND dequeued = ?", bundleID.String(), false)
		if err != nil {
			return dbError("failed to discard bundle", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := exec(ctx, tx, "DELETE FROM "+r.notificationTable()+" WHERE bundle_id = ?", bundleID.String()); err != nil {
			return dbError("failed to discard bundle notifications", err)
		}
		return nil
	})
}

// FindDequeuedBefore retrieves bundles dequeued before t, oldest first.
func (r *BundleRepository) FindDequeuedBefore(ctx context.Context, t time.Time, limit int) ([]model.Bundle, error) {
	var rows []bundleRow

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("dequeued = ? AND dequeued_at < ?", true, t).
		OrderBy("dequeued_at ASC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to find dequeued bundles", err)
	}
	if len(rows) == 0 {
		return nil, messagehub.ErrNoData
	}

	bundles := make([]model.Bundle, 0, len(rows))
	for _, row := range rows {
		ids, err := r.notificationIDs(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, row.toModel(ids))
	}
	return bundles, nil
}

// Delete permanently removes a bundle and its notification ids.
func (r *BundleRepository) Delete(ctx context.Context, bundleID uuid.UUID) error {
	return withTx(ctx, r.tx, func(tx *sqlx.Tx) error {
		if _, err := exec(ctx, tx, "DELETE FROM "+r.notificationTable()+" WHERE bundle_id = ?", bundleID.String()); err != nil {
			return dbError("failed to delete bundle notifications", err)
		}
		affected, err := exec(ctx, tx, "DELETE FROM "+r.tableName()+" WHERE id = ?", bundleID.String())
		if err != nil {
			return dbError("failed to delete bundle", err)
		}
		if affected == 0 {
			return messagehub.ErrNoData
		}
		return nil
	})
}
