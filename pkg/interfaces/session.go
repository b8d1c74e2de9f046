package interfaces

import (
	"context"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// SessionManager owns the refresh-token lifecycle.
type SessionManager interface {
	// Issue creates a new refresh token for user and returns the stored
	// record with the raw token. The raw token is never persisted.
	Issue(ctx context.Context, user *types.User, ip string) (*types.RefreshTokenRecord, string, error)

	// Rotate exchanges a raw refresh token for a successor. Every rejection
	// returns ErrInvalidToken.
	Rotate(ctx context.Context, raw, ip string) (*types.RefreshTokenRecord, string, *types.User, error)

	// Revoke is idempotent.
	Revoke(ctx context.Context, raw, ip string) error
}

// Authenticator resolves a bearer access token to an active user. Every
// failure matches ErrAuthentication.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*types.User, error)
}
