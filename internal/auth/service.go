package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string      `json:"accessToken"`
	ExpiresIn        int64       `json:"expiresIn"`
	RefreshToken     string      `json:"refreshToken"`
	RefreshExpiresAt time.Time   `json:"-"`
	User             *types.User `json:"user"`
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// Service implements the account flows behind the /api/auth routes.
type Service struct {
	users    interfaces.UserStore
	sessions interfaces.SessionManager
	tokens   *TokenIssuer
	log      *slog.Logger
	cost     int
	now      func() time.Time
}

// NewService wires the account flows.
func NewService(users interfaces.UserStore, sessions interfaces.SessionManager, tokens *TokenIssuer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		log:      log.With(slog.String("component", "auth")),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an unverified, inactive account and returns it with an
// email verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*types.User, string, error) {
	const op = "auth.Register"

	email := normalizeEmail(in.Email)
	role := in.Role
	if role == "" {
		role = types.RoleStudent
	}
	if err := types.ValidateRegistration(email, in.Password, in.FullName, role); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	user := &types.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return nil, "", fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.tokens.IssueVerification(user)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user registered", slog.String("user_id", user.ID), slog.String("role", role))
	return user, token, nil
}

// VerifyEmail activates the account named by a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*types.User, error) {
	const op = "auth.VerifyEmail"

	claims, err := s.tokens.Parse(token, PurposeVerifyEmail)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidVerification, err)
	}

	if err := s.users.MarkEmailVerified(ctx, claims.Subject); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidVerification)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// Login checks credentials and opens a session for an active, verified
// account.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*TokenPair, error) {
	const op = "auth.Login"

	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if !user.IsEmailVerified {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountDisabled)
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}

	record, raw, err := s.sessions.Issue(ctx, user, ip)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.pair(user, raw, record)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user logged in", slog.String("user_id", user.ID), slog.String("ip", ip))
	return pair, nil
}

// Refresh rotates a refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, raw, ip string) (*TokenPair, error) {
	const op = "auth.Refresh"

	record, nextRaw, user, err := s.sessions.Rotate(ctx, raw, ip)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.pair(user, nextRaw, record)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pair, nil
}

// Logout revokes raw. It never fails from the caller's point of view.
func (s *Service) Logout(ctx context.Context, raw, ip string) {
	if err := s.sessions.Revoke(ctx, raw, ip); err != nil {
		s.log.Error("failed to revoke refresh token on logout", slog.String("ip", ip), slog.Any("error", err))
	}
}

func (s *Service) pair(user *types.User, raw string, record *types.RefreshTokenRecord) (*TokenPair, error) {
	access, _, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		ExpiresIn:        int64(s.tokens.AccessTTL().Seconds()),
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
		User:             user,
	}, nil
}
