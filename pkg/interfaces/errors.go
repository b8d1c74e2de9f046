package interfaces

import "errors"

// Common errors shared across components.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrInvalidToken   = errors.New("invalid or expired refresh token")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("already exists")
	ErrDeliveryFailed = errors.New("delivery failed")
)
