package types

import "errors"

var (
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID   = errors.New("room ID must be 1-128 printable characters")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrWeakPassword    = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
	ErrInvalidFullName = errors.New("full name must be 1-100 characters")
	ErrInvalidRole     = errors.New("role must be student or teacher")
	ErrEmptyEvent      = errors.New("envelope event cannot be empty")
	ErrPayloadTooLarge = errors.New("envelope payload exceeds 64KB limit")
)
