package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "github.com/haphu2512-java/ZaloForEdu/pkg/database"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

const (
	writeQueueSize = 100
	writeTimeout   = 30 * time.Second
	busyRetryDelay = 500 * time.Millisecond
)

// Manager is the SQLite implementation of interfaces.DatabaseManager. Reads
// go straight to the pool; every write is funnelled through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	const op = "database.NewManager"

	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: pragmas: %w", op, err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		log:          log.With(slog.String("component", "sqlite")),
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies pending schema migrations.
func (m *Manager) Migrate() error {
	mm := dbconfig.NewMigrationManager(m.db)
	if err := mm.ApplyMigrations(); err != nil {
		return fmt.Errorf("database.Migrate: %w", err)
	}
	return mm.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.log.Warn("database busy, retrying write", slog.Any("error", err))
				time.Sleep(busyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Info("database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreateUser inserts a new account. A duplicate email maps to ErrConflict.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	const op = "database.CreateUser"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, full_name, avatar, role, is_active, is_email_verified, last_login, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			user.ID,
			user.Email,
			user.PasswordHash,
			user.FullName,
			user.Avatar,
			user.Role,
			user.IsActive,
			user.IsEmailVerified,
			nullTime(user.LastLogin),
			user.CreatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%s: %w", op, interfaces.ErrConflict)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

const userColumns = `id, email, password_hash, full_name, avatar, role, is_active, is_email_verified, last_login, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var (
		user      types.User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Avatar,
		&user.Role,
		&user.IsActive,
		&user.IsEmailVerified,
		&lastLogin,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return &user, nil
}

// GetUserByID returns ErrNotFound for an unknown id.
func (m *Manager) GetUserByID(ctx context.Context, userID string) (*types.User, error) {
	const op = "database.GetUserByID"

	row := m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// GetUserByEmail returns ErrNotFound for an unknown email.
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	const op = "database.GetUserByEmail"

	row := m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// MarkEmailVerified verifies and activates the account.
func (m *Manager) MarkEmailVerified(ctx context.Context, userID string) error {
	const op = "database.MarkEmailVerified"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE users SET is_email_verified = 1, is_active = 1 WHERE id = ?`, userID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return expectOneRow(op, res)
	})
}

// TouchLastLogin records a successful login.
func (m *Manager) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	const op = "database.TouchLastLogin"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at.UTC(), userID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return expectOneRow(op, res)
	})
}

func expectOneRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
	}
	return nil
}

// CreateRefreshToken stores a freshly issued record.
func (m *Manager) CreateRefreshToken(ctx context.Context, record *types.RefreshTokenRecord) error {
	const op = "database.CreateRefreshToken"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		if err := insertToken(ctx, db, record); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, record *types.RefreshTokenRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, owner_id, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.TokenHash,
		record.OwnerID,
		record.ExpiresAt.UTC(),
		record.CreatedAt.UTC(),
		record.CreatedByIP,
		nullTime(record.RevokedAt),
		record.RevokedByIP,
		nullString(record.ReplacedByHash),
	)
	return err
}

// GetRefreshToken returns ErrNotFound for an unknown hash.
func (m *Manager) GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshTokenRecord, error) {
	const op = "database.GetRefreshToken"

	row := m.db.QueryRowContext(ctx, `
		SELECT token_hash, owner_id, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_hash
		FROM refresh_tokens
		WHERE token_hash = ?
	`, tokenHash)

	var (
		record     types.RefreshTokenRecord
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(
		&record.TokenHash,
		&record.OwnerID,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.CreatedByIP,
		&revokedAt,
		&record.RevokedByIP,
		&replacedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		record.RevokedAt = &t
	}
	if replacedBy.Valid {
		s := replacedBy.String
		record.ReplacedByHash = &s
	}
	return &record, nil
}

// RotateRefreshToken flips oldHash to revoked and inserts next in a single
// transaction. The guarded UPDATE is the arbiter between concurrent rotations
// of the same token: exactly one of them sees an affected row.
func (m *Manager) RotateRefreshToken(ctx context.Context, oldHash string, next *types.RefreshTokenRecord, ip string, now time.Time) error {
	const op = "database.RotateRefreshToken"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin: %w", op, err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = ?, revoked_by_ip = ?, replaced_by_hash = ?
			WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
		`, now.UTC(), ip, next.TokenHash, oldHash, now.UTC())
		if err != nil {
			return fmt.Errorf("%s: revoke: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if n != 1 {
			return fmt.Errorf("%s: %w", op, interfaces.ErrInvalidToken)
		}

		if err := insertToken(ctx, tx, next); err != nil {
			return fmt.Errorf("%s: insert successor: %w", op, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}

// RevokeRefreshToken revokes a record that is not yet revoked.
func (m *Manager) RevokeRefreshToken(ctx context.Context, tokenHash, ip string, now time.Time) error {
	const op = "database.RevokeRefreshToken"

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = ?, revoked_by_ip = ?
			WHERE token_hash = ? AND revoked_at IS NULL
		`, now.UTC(), ip, tokenHash)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// PurgeExpiredRefreshTokens removes records that expired before cutoff.
func (m *Manager) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "database.PurgeExpiredRefreshTokens"

	var removed int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer goroutine and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
