package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrEmailNotVerified    = errors.New("email address not verified")
	ErrInvalidVerification = errors.New("invalid or expired verification token")
	ErrMissingSecret       = errors.New("jwt secret must be at least 32 bytes")
	ErrWrongPurpose        = errors.New("token used for the wrong purpose")
)
