package broadcast

import (
	"errors"
	"fmt"

	"github.com/vidfriends/groupcast/internal/uploads"
)

var (
	// ErrInvalidRequest indicates a malformed send or retry request. No network
	// calls are made for invalid requests.
	ErrInvalidRequest = errors.New("invalid broadcast request")
	// ErrCanceled marks work stopped because the caller aborted the send.
	ErrCanceled = errors.New("broadcast canceled")
	// ErrTimeout marks an upload or delivery that exceeded its deadline.
	ErrTimeout = uploads.ErrTimeout
)

// UploadError reports that the shared upload failed, which is fatal to the
// whole broadcast.
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Cause)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// DeliveryError reports a failed delivery to a single target group.
type DeliveryError struct {
	GroupID string
	Cause   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to group %s: %v", e.GroupID, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
