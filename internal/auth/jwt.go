package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// Token purposes carried in the "purpose" claim.
const (
	PurposeAccess      = "access"
	PurposeVerifyEmail = "verify_email"
)

const minSecretBytes = 32

// Claims are the JWT claims of access and verification tokens.
type Claims struct {
	Purpose string `json:"purpose"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	verifyTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer validates the secret and returns an issuer.
func NewTokenIssuer(secret, issuer string, accessTTL, verifyTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrMissingSecret
	}
	return &TokenIssuer{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		verifyTTL: verifyTTL,
		now:       time.Now,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

func (i *TokenIssuer) sign(user *types.User, purpose string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Purpose: purpose,
		Role:    user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueAccess returns a short-lived access token for user.
func (i *TokenIssuer) IssueAccess(user *types.User) (string, time.Time, error) {
	return i.sign(user, PurposeAccess, i.accessTTL)
}

// IssueVerification returns an email verification token for user.
func (i *TokenIssuer) IssueVerification(user *types.User) (string, error) {
	token, _, err := i.sign(user, PurposeVerifyEmail, i.verifyTTL)
	return token, err
}

// Parse verifies signature, algorithm, issuer, expiry and purpose.
func (i *TokenIssuer) Parse(tokenString, purpose string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}
