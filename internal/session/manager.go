package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

const (
	// DefaultRefreshTTL is the refresh token horizon.
	DefaultRefreshTTL = 30 * 24 * time.Hour

	rawTokenBytes = 32

	// maxChainWalk bounds the descendant walk on reuse.
	maxChainWalk = 1000
)

// Manager issues, rotates and revokes refresh tokens. It implements
// interfaces.SessionManager.
type Manager struct {
	tokens interfaces.TokenStore
	users  interfaces.UserStore
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewManager creates a rotation engine. A non-positive ttl falls back to
// DefaultRefreshTTL.
func NewManager(tokens interfaces.TokenStore, users interfaces.UserStore, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		tokens: tokens,
		users:  users,
		ttl:    ttl,
		log:    log.With(slog.String("component", "session")),
		now:    time.Now,
	}
}

// HashToken returns the storage key of a raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawToken() (string, error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (m *Manager) newRecord(ownerID, ip string, now time.Time) (*types.RefreshTokenRecord, string, error) {
	raw, err := generateRawToken()
	if err != nil {
		return nil, "", err
	}
	return &types.RefreshTokenRecord{
		TokenHash:   HashToken(raw),
		OwnerID:     ownerID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
		CreatedByIP: ip,
	}, raw, nil
}

// Issue creates and stores a refresh token for user.
func (m *Manager) Issue(ctx context.Context, user *types.User, ip string) (*types.RefreshTokenRecord, string, error) {
	const op = "session.Issue"

	record, raw, err := m.newRecord(user.ID, ip, m.now().UTC())
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := m.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return record, raw, nil
}

// Rotate exchanges raw for a successor token. Presenting a token that was
// already rotated away is treated as theft: the request is refused and every
// still-active token descending from it is revoked.
func (m *Manager) Rotate(ctx context.Context, raw, ip string) (*types.RefreshTokenRecord, string, *types.User, error) {
	const op = "session.Rotate"

	if raw == "" {
		return nil, "", nil, fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
	}

	hash := HashToken(raw)
	record, err := m.tokens.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, "", nil, fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
		}
		return nil, "", nil, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now().UTC()

	switch status := record.Status(now); status {
	case types.TokenStatusActive:
	case types.TokenStatusRevoked:
		if record.ReplacedByHash != nil {
			m.log.Warn("refresh token reuse detected",
				slog.String("user_id", record.OwnerID),
				slog.String("ip", ip),
			)
			m.revokeDescendants(ctx, record, ip, now)
		}
		return nil, "", nil, fmt.Errorf("%s: token %s: %w", op, status, interfaces.ErrInvalidToken)
	default:
		return nil, "", nil, fmt.Errorf("%s: token %s: %w", op, status, interfaces.ErrInvalidToken)
	}

	user, err := m.users.GetUserByID(ctx, record.OwnerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, "", nil, fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
		}
		return nil, "", nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive || !user.IsEmailVerified {
		if err := m.tokens.RevokeRefreshToken(ctx, hash, ip, now); err != nil {
			m.log.Error("failed to revoke token of inactive user", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil, "", nil, fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
	}

	next, nextRaw, err := m.newRecord(user.ID, ip, now)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.tokens.RotateRefreshToken(ctx, hash, next, ip, now); err != nil {
		return nil, "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return next, nextRaw, user, nil
}

// revokeDescendants walks the ReplacedByHash chain from record and revokes
// every descendant that is still active.
func (m *Manager) revokeDescendants(ctx context.Context, record *types.RefreshTokenRecord, ip string, now time.Time) {
	revoked := 0
	next := record.ReplacedByHash
	for i := 0; next != nil && i < maxChainWalk; i++ {
		child, err := m.tokens.GetRefreshToken(ctx, *next)
		if err != nil {
			if !errors.Is(err, interfaces.ErrNotFound) {
				m.log.Error("failed to load descendant token", slog.Any("error", err))
			}
			break
		}
		if child.IsActive(now) {
			if err := m.tokens.RevokeRefreshToken(ctx, child.TokenHash, ip, now); err != nil {
				m.log.Error("failed to revoke descendant token", slog.Any("error", err))
			} else {
				revoked++
			}
		}
		next = child.ReplacedByHash
	}

	m.log.Warn("revoked token family after reuse",
		slog.String("user_id", record.OwnerID),
		slog.Int("revoked", revoked),
	)
}

// Revoke marks raw as revoked. Unknown, empty or already revoked tokens are
// accepted silently.
func (m *Manager) Revoke(ctx context.Context, raw, ip string) error {
	if raw == "" {
		return nil
	}
	if err := m.tokens.RevokeRefreshToken(ctx, HashToken(raw), ip, m.now().UTC()); err != nil {
		return fmt.Errorf("session.Revoke: %w", err)
	}
	return nil
}

// PurgeExpired deletes tokens that expired more than retention ago.
func (m *Manager) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.now().UTC().Add(-retention)
	removed, err := m.tokens.PurgeExpiredRefreshTokens(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session.PurgeExpired: %w", err)
	}
	return removed, nil
}

// StartPurge runs PurgeExpired every interval until ctx is cancelled.
func (m *Manager) StartPurge(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := m.PurgeExpired(ctx, retention)
				if err != nil {
					m.log.Error("refresh token purge failed", slog.Any("error", err))
				} else if removed > 0 {
					m.log.Info("refresh token purge completed", slog.Int64("deleted", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
