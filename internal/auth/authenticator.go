package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// Authenticator resolves access tokens to active users. It implements
// interfaces.Authenticator.
type Authenticator struct {
	tokens *TokenIssuer
	users  interfaces.UserStore
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(tokens *TokenIssuer, users interfaces.UserStore) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate verifies bearer and loads its subject. The user must exist and
// be active. Every failure matches interfaces.ErrAuthentication.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (*types.User, error) {
	const op = "auth.Authenticate"

	token := stripBearer(bearer)
	if token == "" {
		return nil, fmt.Errorf("%s: missing token: %w", op, interfaces.ErrAuthentication)
	}

	claims, err := a.tokens.Parse(token, PurposeAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, interfaces.ErrAuthentication, err)
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%s: unknown user: %w", op, interfaces.ErrAuthentication)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, interfaces.ErrAuthentication, err)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("%s: %w: %w", op, interfaces.ErrAuthentication, ErrAccountDisabled)
	}

	return user, nil
}

func stripBearer(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	return value
}

// ExtractBearer reads the access token from the Authorization header, or
// from the "token" / "access_token" query parameters used by browser
// WebSocket clients that cannot set headers.
func ExtractBearer(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return stripBearer(header)
	}
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		return token
	}
	return q.Get("access_token")
}
