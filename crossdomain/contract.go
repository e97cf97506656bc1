package crossdomain

import (
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
)

// DataAvailableQueue is the queue domains announce new data on.
const DataAvailableQueue = "dataavailable"

// RequestQueue returns the queue content requests for origin are sent to.
func RequestQueue(origin model.Origin) string {
	return origin.QueueName()
}

// ReplyQueue returns the queue the domain of origin replies on.
func ReplyQueue(origin model.Origin) string {
	return origin.QueueName() + "-reply"
}

// DequeueQueue returns the queue dequeue notifications for origin are sent to.
func DequeueQueue(origin model.Origin) string {
	return origin.QueueName() + "-dequeue"
}

// Request asks a domain for the content of a set of notifications.
type Request struct {
	// IdempotencyID identifies the request. Repeated requests for the same
	// bundle carry the same id.
	IdempotencyID   string
	NotificationIDs []uuid.UUID
	// MessageType is the content type of the notifications.
	MessageType string
}

// Response is the domain's answer. Exactly one of Success and Failure is set.
type Response struct {
	Success *Success
	Failure *Failure
}

// Success carries the location of the prepared content.
type Success struct {
	ContentURI string
	// NotificationIDs echoes the ids of the request.
	NotificationIDs []uuid.UUID
}

// Failure explains why no content was prepared.
type Failure struct {
	Reason      model.FailureReason
	Description string
}

// DequeueNotification tells a domain that a recipient acknowledged a bundle.
type DequeueNotification struct {
	Recipient       model.GlobalLocationNumber
	BundleID        uuid.UUID
	NotificationIDs []uuid.UUID
}

// DataAvailable is a domain's announcement of new data for a recipient.
type DataAvailable struct {
	ID               uuid.UUID
	Recipient        model.GlobalLocationNumber
	Origin           model.Origin
	ContentType      string
	SupportsBundling bool
	Weight           int64
	DocumentType     string
}

// Notification converts the announcement to the stored model.
func (d DataAvailable) Notification() model.DataAvailableNotification {
	n := model.NewDataAvailableNotification(d.Recipient, d.Origin, d.ContentType, d.SupportsBundling, d.Weight, d.DocumentType)
	if d.ID != uuid.Nil {
		n.ID = d.ID
	}
	return n
}

// sameIDs reports whether a and b hold the same ids, ignoring order.
func sameIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[uuid.UUID]int, len(a))
	for _, id := range a {
		counts[id]++
	}
	for _, id := range b {
		if counts[id] == 0 {
			return false
		}
		counts[id]--
	}
	return true
}
