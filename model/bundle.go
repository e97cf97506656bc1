package model

import (
	"time"

	"github.com/google/uuid"
)

// BundleState represents the lifecycle state of a bundle.
type BundleState string

const (
	// BundleStatePending indicates the bundle was created and content was not requested yet.
	BundleStatePending BundleState = "pending"

	// BundleStateAwaitingContent indicates the owning domain was asked for the content.
	BundleStateAwaitingContent BundleState = "awaiting_content"

	// BundleStateReady indicates content was assigned and the bundle can be peeked.
	BundleStateReady BundleState = "ready"

	// BundleStateDequeued indicates the recipient acknowledged the bundle. Terminal.
	BundleStateDequeued BundleState = "dequeued"
)

// Bundle is the unit delivered to a market operator: one or more notifications
// of the same recipient, origin and content type whose summed weight fits the
// bundle budget.
//
// Bundles follow this lifecycle:
//  1. Created Pending with a fixed notification set
//  2. AwaitingContent while the owning domain prepares the payload
//  3. Ready once the content URI is assigned; repeated peeks return it unchanged
//  4. Dequeued when the recipient acknowledges it
//
// Content is immutable once assigned.
type Bundle struct {
	ID              uuid.UUID            `json:"id" db:"id"`
	ProcessID       uuid.UUID            `json:"processId" db:"process_id"`
	Recipient       GlobalLocationNumber `json:"recipient" db:"recipient"`
	Origin          Origin               `json:"origin" db:"origin"`
	ContentType     string               `json:"contentType" db:"content_type"`
	NotificationIDs []uuid.UUID          `json:"notificationIds" db:"-"`
	Weight          int64                `json:"weight" db:"weight"`
	Content         *string              `json:"content,omitempty" db:"content"`
	State           BundleState          `json:"state" db:"state"`
	Dequeued        bool                 `json:"dequeued" db:"dequeued"`
	CreatedAt       time.Time            `json:"createdAt" db:"created_at"`
	DequeuedAt      *time.Time           `json:"dequeuedAt,omitempty" db:"dequeued_at"`
}

// TableName returns the database table name for Bundle.
func (b Bundle) TableName() string {
	return tablePrefix + "bundle"
}

// NewBundle creates a pending bundle for the given notifications.
// A zero id gets replaced by a fresh one; callers pass the id supplied by the
// recipient when the peek carried one.
func NewBundle(id uuid.UUID, key CabinetKey, notificationIDs []uuid.UUID, weight int64) Bundle {
	if id == uuid.Nil {
		id = uuid.New()
	}
	ids := make([]uuid.UUID, len(notificationIDs))
	copy(ids, notificationIDs)

	return Bundle{
		ID:              id,
		ProcessID:       uuid.New(),
		Recipient:       key.Recipient,
		Origin:          key.Origin,
		ContentType:     key.ContentType,
		NotificationIDs: ids,
		Weight:          weight,
		State:           BundleStatePending,
		CreatedAt:       time.Now().UTC(),
	}
}

// Key returns the cabinet the bundle's notifications were taken from.
func (b *Bundle) Key() CabinetKey {
	return CabinetKey{Recipient: b.Recipient, Origin: b.Origin, ContentType: b.ContentType}
}

// MarkAwaitingContent records that content was requested from the owning domain.
func (b *Bundle) MarkAwaitingContent() error {
	if b.State != BundleStatePending {
		return ErrInvalidBundleTransition
	}
	b.State = BundleStateAwaitingContent
	return nil
}

// AssignContent stores the content URI and makes the bundle ready.
// Content can be assigned once; a second assignment is ErrContentAlreadyAssigned.
func (b *Bundle) AssignContent(uri string) error {
	if b.Content != nil {
		return ErrContentAlreadyAssigned
	}
	if uri == "" {
		return ErrEmptyContent
	}
	if b.State != BundleStatePending && b.State != BundleStateAwaitingContent {
		return ErrInvalidBundleTransition
	}
	b.Content = &uri
	b.State = BundleStateReady
	return nil
}

// HasContent reports whether content was assigned.
func (b *Bundle) HasContent() bool {
	return b.Content != nil
}

// IsReady reports whether the bundle can be returned by a peek.
func (b *Bundle) IsReady() bool {
	return b.State == BundleStateReady && !b.Dequeued
}

// MarkDequeued acknowledges the bundle. It returns false if the bundle was
// already dequeued or never became ready.
func (b *Bundle) MarkDequeued() bool {
	if b.Dequeued || b.State != BundleStateReady {
		return false
	}
	now := time.Now().UTC()
	b.Dequeued = true
	b.DequeuedAt = &now
	b.State = BundleStateDequeued
	return true
}

// Domain errors returned by model business logic methods.
var (
	// ErrContentAlreadyAssigned indicates a second attempt to set bundle content.
	ErrContentAlreadyAssigned = DomainError{Code: "CONTENT_ALREADY_ASSIGNED", Message: "Bundle content is already assigned"}

	// ErrEmptyContent indicates an empty content URI.
	ErrEmptyContent = DomainError{Code: "EMPTY_CONTENT", Message: "Bundle content must not be empty"}

	// ErrInvalidBundleTransition indicates a state change the lifecycle does not allow.
	ErrInvalidBundleTransition = DomainError{Code: "INVALID_TRANSITION", Message: "Invalid bundle state transition"}

	// ErrUnknownOrigin indicates an origin outside the known set.
	ErrUnknownOrigin = DomainError{Code: "UNKNOWN_ORIGIN", Message: "must be a known origin"}
)

// DomainError represents a domain-level business rule violation.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}
