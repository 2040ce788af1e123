package chat

import "errors"

// Sentinel errors for chat operations.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidScope     = errors.New("invalid scope")
	ErrTransientFeed    = errors.New("feed unavailable")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrMessageNotFound  = errors.New("message not found")
	ErrEmptyText        = errors.New("message text is empty")
)
