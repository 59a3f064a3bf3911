package uploads

import "errors"

var (
	// ErrTimeout indicates the upload did not reach a terminal state within its deadline.
	ErrTimeout = errors.New("timed out")
	// ErrAbandoned indicates every attachment released the task before it finished.
	ErrAbandoned = errors.New("upload abandoned")
	// ErrInvalidMedia indicates the media descriptor lacks a source or kind.
	ErrInvalidMedia = errors.New("invalid media descriptor")
	// ErrClosed is returned once the coordinator has been shut down.
	ErrClosed = errors.New("upload coordinator closed")
)
