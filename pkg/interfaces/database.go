package interfaces

import (
	"context"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// UserStore resolves and maintains account records.
type UserStore interface {
	// CreateUser fails with ErrConflict when the email is taken.
	CreateUser(ctx context.Context, user *types.User) error
	GetUserByID(ctx context.Context, userID string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	MarkEmailVerified(ctx context.Context, userID string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// TokenStore persists refresh-token records keyed by token hash.
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, record *types.RefreshTokenRecord) error

	// GetRefreshToken returns ErrNotFound for an unknown hash.
	GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshTokenRecord, error)

	// RotateRefreshToken revokes oldHash in favour of next in one
	// transaction. It succeeds only if oldHash is active at now; otherwise it
	// returns ErrInvalidToken and nothing changes.
	RotateRefreshToken(ctx context.Context, oldHash string, next *types.RefreshTokenRecord, ip string, now time.Time) error

	// RevokeRefreshToken marks an active record revoked. Unknown or already
	// revoked records are left untouched and no error is returned.
	RevokeRefreshToken(ctx context.Context, tokenHash, ip string, now time.Time) error

	// PurgeExpiredRefreshTokens deletes records that expired before cutoff and
	// returns the number removed.
	PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// DatabaseManager is the full persistence surface of the service.
type DatabaseManager interface {
	UserStore
	TokenStore

	HealthCheck(ctx context.Context) error
	Close() error
}
