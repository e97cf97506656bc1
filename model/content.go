package model

import "fmt"

// FailureReason explains why a domain could not prepare bundle content.
type FailureReason int32

const (
	// FailureDatasetNotFound indicates the domain does not know the requested notifications.
	FailureDatasetNotFound FailureReason = 0

	// FailureDatasetNotAvailable indicates the data exists but cannot be served right now.
	FailureDatasetNotAvailable FailureReason = 1

	// FailureInternalError indicates the domain failed while preparing the content.
	FailureInternalError FailureReason = 2
)

// String returns the reason name.
func (r FailureReason) String() string {
	switch r {
	case FailureDatasetNotFound:
		return "DatasetNotFound"
	case FailureDatasetNotAvailable:
		return "DatasetNotAvailable"
	case FailureInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("FailureReason(%d)", int32(r))
	}
}

// IsValid reports whether r is a known reason.
func (r FailureReason) IsValid() bool {
	return r >= FailureDatasetNotFound && r <= FailureInternalError
}
