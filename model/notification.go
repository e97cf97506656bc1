package model

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// DataAvailableNotification states that a domain holds data ready for a recipient.
// Notifications are immutable once appended; the cabinet assigns SequenceNumber
// at write time and it defines the read order within the notification's cabinet.
//
// Notifications are bundled together only when Recipient, Origin and ContentType
// all match. A notification with SupportsBundling=false is always delivered alone.
type DataAvailableNotification struct {
	ID               uuid.UUID            `json:"id" db:"id"`
	Recipient        GlobalLocationNumber `json:"recipient" db:"recipient"`
	Origin           Origin               `json:"origin" db:"origin"`
	ContentType      string               `json:"contentType" db:"content_type"`
	SupportsBundling bool                 `json:"supportsBundling" db:"supports_bundling"`
	Weight           int64                `json:"weight" db:"weight"`
	SequenceNumber   int64                `json:"sequenceNumber" db:"sequence_number"`
	DocumentType     string               `json:"documentType" db:"document_type"`
	CreatedAt        time.Time            `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for DataAvailableNotification.
func (n DataAvailableNotification) TableName() string {
	return tablePrefix + "notification"
}

// NewDataAvailableNotification creates a notification with a fresh ID.
// SequenceNumber stays 0 until the notification is appended to a cabinet.
func NewDataAvailableNotification(
	recipient GlobalLocationNumber,
	origin Origin,
	contentType string,
	supportsBundling bool,
	weight int64,
	documentType string,
) DataAvailableNotification {
	return DataAvailableNotification{
		ID:               uuid.New(),
		Recipient:        recipient,
		Origin:           origin,
		ContentType:      contentType,
		SupportsBundling: supportsBundling,
		Weight:           weight,
		DocumentType:     documentType,
		CreatedAt:        time.Now().UTC(),
	}
}

// Validate checks the notification before it is accepted into a cabinet.
func (n DataAvailableNotification) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.By(notNilUUID)),
		validation.Field(&n.Recipient, validation.Required),
		validation.Field(&n.Origin, validation.Required),
		validation.Field(&n.ContentType, validation.Required, validation.Length(1, 255)),
		validation.Field(&n.Weight, validation.Min(int64(0))),
		validation.Field(&n.DocumentType, validation.Length(0, 255)),
	)
}

// Key returns the cabinet this notification belongs to.
func (n DataAvailableNotification) Key() CabinetKey {
	return CabinetKey{Recipient: n.Recipient, Origin: n.Origin, ContentType: n.ContentType}
}

// CabinetKey identifies one logical ordered queue: all notifications for a
// recipient from one origin with one content type.
type CabinetKey struct {
	Recipient   GlobalLocationNumber `json:"recipient"`
	Origin      Origin               `json:"origin"`
	ContentType string               `json:"contentType"`
}

// String returns the stable partition key of the cabinet.
func (k CabinetKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Recipient, k.Origin, strings.ToLower(k.ContentType))
}

// SequencePartition returns the sequence allocator partition of the cabinet.
// All content types of one recipient and origin share a partition so that their
// sequence numbers are comparable.
func (k CabinetKey) SequencePartition() string {
	return SequencePartition(k.Recipient, k.Origin)
}

// SequencePartition returns the allocator partition key for a recipient and origin.
func SequencePartition(recipient GlobalLocationNumber, origin Origin) string {
	return fmt.Sprintf("%s_%s", recipient, origin)
}

func notNilUUID(value interface{}) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return validation.NewError("validation_uuid_nil", "must be a non-nil UUID")
	}
	return nil
}
