package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbconfig "github.com/haphu2512-java/ZaloForEdu/pkg/database"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

type userModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	Email           string `gorm:"uniqueIndex;size:254;not null"`
	PasswordHash    string `gorm:"not null"`
	FullName        string `gorm:"size:100;not null"`
	Avatar          string `gorm:"not null;default:''"`
	Role            string `gorm:"size:16;not null;default:'student'"`
	IsActive        bool   `gorm:"not null;default:false"`
	IsEmailVerified bool   `gorm:"not null;default:false"`
	LastLogin       *time.Time
	CreatedAt       time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type refreshTokenModel struct {
	TokenHash      string    `gorm:"primaryKey;size:64"`
	OwnerID        string    `gorm:"index:idx_refresh_tokens_owner;size:64;not null"`
	Owner          userModel `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	ExpiresAt      time.Time `gorm:"index:idx_refresh_tokens_expires;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	CreatedByIP    string    `gorm:"size:64;not null;default:''"`
	RevokedAt      *time.Time
	RevokedByIP    string  `gorm:"size:64;not null;default:''"`
	ReplacedByHash *string `gorm:"index:idx_refresh_tokens_replaced_by;size:64"`
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

// GormStore is the PostgreSQL implementation of interfaces.DatabaseManager.
type GormStore struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewGormStore connects to PostgreSQL and migrates the schema.
func NewGormStore(config *dbconfig.Config, log *slog.Logger) (*GormStore, error) {
	const op = "database.NewGormStore"

	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sqlDB.SetMaxOpenConns(config.MaxConnections)
	sqlDB.SetMaxIdleConns(config.MaxConnections / 2)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &GormStore{db: db, log: log.With(slog.String("component", "postgres"))}
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store.log.Info("database connected")
	return store, nil
}

// Migrate runs AutoMigrate for the user and token tables.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&userModel{}, &refreshTokenModel{}); err != nil {
		return fmt.Errorf("database.Migrate: %w", err)
	}
	return nil
}

func toUserModel(u *types.User) *userModel {
	return &userModel{
		ID:              u.ID,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		FullName:        u.FullName,
		Avatar:          u.Avatar,
		Role:            u.Role,
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt.UTC(),
	}
}

func (m *userModel) toUser() *types.User {
	return &types.User{
		ID:              m.ID,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		FullName:        m.FullName,
		Avatar:          m.Avatar,
		Role:            m.Role,
		IsActive:        m.IsActive,
		IsEmailVerified: m.IsEmailVerified,
		LastLogin:       m.LastLogin,
		CreatedAt:       m.CreatedAt,
	}
}

func toTokenModel(r *types.RefreshTokenRecord) *refreshTokenModel {
	return &refreshTokenModel{
		TokenHash:      r.TokenHash,
		OwnerID:        r.OwnerID,
		ExpiresAt:      r.ExpiresAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		CreatedByIP:    r.CreatedByIP,
		RevokedAt:      r.RevokedAt,
		RevokedByIP:    r.RevokedByIP,
		ReplacedByHash: r.ReplacedByHash,
	}
}

func (m *refreshTokenModel) toRecord() *types.RefreshTokenRecord {
	return &types.RefreshTokenRecord{
		TokenHash:      m.TokenHash,
		OwnerID:        m.OwnerID,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
		CreatedByIP:    m.CreatedByIP,
		RevokedAt:      m.RevokedAt,
		RevokedByIP:    m.RevokedByIP,
		ReplacedByHash: m.ReplacedByHash,
	}
}

func (s *GormStore) CreateUser(ctx context.Context, user *types.User) error {
	const op = "database.CreateUser"

	if err := s.db.WithContext(ctx).Create(toUserModel(user)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%s: %w", op, interfaces.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *GormStore) getUser(ctx context.Context, op, query string, arg any) (*types.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m.toUser(), nil
}

func (s *GormStore) GetUserByID(ctx context.Context, userID string) (*types.User, error) {
	return s.getUser(ctx, "database.GetUserByID", "id = ?", userID)
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return s.getUser(ctx, "database.GetUserByEmail", "email = ?", email)
}

func (s *GormStore) updateUser(ctx context.Context, op, userID string, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
	}
	return nil
}

func (s *GormStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.updateUser(ctx, "database.MarkEmailVerified", userID, map[string]any{
		"is_email_verified": true,
		"is_active":         true,
	})
}

func (s *GormStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "database.TouchLastLogin", userID, map[string]any{
		"last_login": at.UTC(),
	})
}

func (s *GormStore) CreateRefreshToken(ctx context.Context, record *types.RefreshTokenRecord) error {
	if err := s.db.WithContext(ctx).Omit("Owner").Create(toTokenModel(record)).Error; err != nil {
		return fmt.Errorf("database.CreateRefreshToken: %w", err)
	}
	return nil
}

func (s *GormStore) GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshTokenRecord, error) {
	const op = "database.GetRefreshToken"

	var m refreshTokenModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m.toRecord(), nil
}

// RotateRefreshToken uses the same guarded UPDATE as the SQLite store; under
// READ COMMITTED the row lock taken by the UPDATE serialises racing rotations.
func (s *GormStore) RotateRefreshToken(ctx context.Context, oldHash string, next *types.RefreshTokenRecord, ip string, now time.Time) error {
	const op = "database.RotateRefreshToken"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&refreshTokenModel{}).
			Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, now.UTC()).
			Updates(map[string]any{
				"revoked_at":       now.UTC(),
				"revoked_by_ip":    ip,
				"replaced_by_hash": next.TokenHash,
			})
		if res.Error != nil {
			return fmt.Errorf("%s: revoke: %w", op, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
		}

		if err := tx.Omit("Owner").Create(toTokenModel(next)).Error; err != nil {
			return fmt.Errorf("%s: insert successor: %w", op, err)
		}
		return nil
	})
}

func (s *GormStore) RevokeRefreshToken(ctx context.Context, tokenHash, ip string, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&refreshTokenModel{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Updates(map[string]any{
			"revoked_at":    now.UTC(),
			"revoked_by_ip": ip,
		}).Error
	if err != nil {
		return fmt.Errorf("database.RevokeRefreshToken: %w", err)
	}
	return nil
}

func (s *GormStore) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&refreshTokenModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("database.PurgeExpiredRefreshTokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
