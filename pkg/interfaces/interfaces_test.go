package interfaces_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) ID() string              { return "c1" }
func (m *mockConnection) User() types.UserSummary { return types.UserSummary{ID: "u1"} }
func (m *mockConnection) Send(frame []byte) error { return nil }
func (m *mockConnection) Close() error            { return nil }

type mockDispatcher struct{}

func (m *mockDispatcher) Register(conn interfaces.Connection) error         { return nil }
func (m *mockDispatcher) Unregister(connID string) error                    { return nil }
func (m *mockDispatcher) Dispatch(connID string, env *types.Envelope) error { return nil }

type mockDB struct{}

func (m *mockDB) CreateUser(ctx context.Context, user *types.User) error { return nil }
func (m *mockDB) GetUserByID(ctx context.Context, userID string) (*types.User, error) {
	return nil, interfaces.ErrNotFound
}
func (m *mockDB) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return nil, interfaces.ErrNotFound
}
func (m *mockDB) MarkEmailVerified(ctx context.Context, userID string) error { return nil }
func (m *mockDB) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return nil
}
func (m *mockDB) CreateRefreshToken(ctx context.Context, record *types.RefreshTokenRecord) error {
	return nil
}
func (m *mockDB) GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshTokenRecord, error) {
	return nil, interfaces.ErrNotFound
}
func (m *mockDB) RotateRefreshToken(ctx context.Context, oldHash string, next *types.RefreshTokenRecord, ip string, now time.Time) error {
	return interfaces.ErrInvalidToken
}
func (m *mockDB) RevokeRefreshToken(ctx context.Context, tokenHash, ip string, now time.Time) error {
	return nil
}
func (m *mockDB) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

type mockSessionManager struct{}

func (m *mockSessionManager) Issue(ctx context.Context, user *types.User, ip string) (*types.RefreshTokenRecord, string, error) {
	return &types.RefreshTokenRecord{OwnerID: user.ID}, "raw", nil
}
func (m *mockSessionManager) Rotate(ctx context.Context, raw, ip string) (*types.RefreshTokenRecord, string, *types.User, error) {
	return nil, "", nil, interfaces.ErrInvalidToken
}
func (m *mockSessionManager) Revoke(ctx context.Context, raw, ip string) error { return nil }

type mockAuthorizer struct{}

func (m *mockAuthorizer) CanJoin(ctx context.Context, user types.UserSummary, roomID string) error {
	return nil
}

type mockAuthenticator struct{}

func (m *mockAuthenticator) Authenticate(ctx context.Context, bearer string) (*types.User, error) {
	return nil, interfaces.ErrAuthentication
}

func TestInterfaces_Compliance(t *testing.T) {
	var _ interfaces.Connection = (*mockConnection)(nil)
	var _ interfaces.Dispatcher = (*mockDispatcher)(nil)
	var _ interfaces.DatabaseManager = (*mockDB)(nil)
	var _ interfaces.UserStore = (*mockDB)(nil)
	var _ interfaces.TokenStore = (*mockDB)(nil)
	var _ interfaces.SessionManager = (*mockSessionManager)(nil)
	var _ interfaces.RoomAuthorizer = (*mockAuthorizer)(nil)
	var _ interfaces.Authenticator = (*mockAuthenticator)(nil)
}

func TestErrors_Distinct(t *testing.T) {
	all := []error{
		interfaces.ErrAuthentication,
		interfaces.ErrAuthorization,
		interfaces.ErrInvalidToken,
		interfaces.ErrNotFound,
		interfaces.ErrConflict,
		interfaces.ErrDeliveryFailed,
	}

	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}

func TestErrors_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("auth.Authenticate: %w", interfaces.ErrAuthentication)
	if !errors.Is(wrapped, interfaces.ErrAuthentication) {
		t.Error("wrapped authentication error should match sentinel")
	}

	rotated := fmt.Errorf("session.Rotate: %w", interfaces.ErrInvalidToken)
	if errors.Is(rotated, interfaces.ErrAuthentication) {
		t.Error("invalid token must stay distinct from authentication failure")
	}
}
