package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a SQLite database against the structure the stores
// expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":             "account records",
		"refresh_tokens":    "refresh token records",
		"schema_migrations": "migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	userColumns := map[string]string{
		"id":                "TEXT",
		"email":             "TEXT",
		"password_hash":     "TEXT",
		"full_name":         "TEXT",
		"avatar":            "TEXT",
		"role":              "TEXT",
		"is_active":         "INTEGER",
		"is_email_verified": "INTEGER",
		"last_login":        "DATETIME",
		"created_at":        "DATETIME",
	}
	if err := v.validateColumns("users", userColumns); err != nil {
		return fmt.Errorf("users table structure invalid: %w", err)
	}

	tokenColumns := map[string]string{
		"token_hash":       "TEXT",
		"owner_id":         "TEXT",
		"expires_at":       "DATETIME",
		"created_at":       "DATETIME",
		"created_by_ip":    "TEXT",
		"revoked_at":       "DATETIME",
		"revoked_by_ip":    "TEXT",
		"replaced_by_hash": "TEXT",
	}
	if err := v.validateColumns("refresh_tokens", tokenColumns); err != nil {
		return fmt.Errorf("refresh_tokens table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_refresh_tokens_owner":       "per-user token lookups",
		"idx_refresh_tokens_expires":     "expiry purge",
		"idx_refresh_tokens_replaced_by": "rotation chain walk",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints probes the foreign key and role check constraints.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO refresh_tokens (token_hash, owner_id, expires_at, created_at)
		VALUES ('constraint-probe', 'missing-user', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM refresh_tokens WHERE token_hash = 'constraint-probe'")
		return fmt.Errorf("foreign key constraint not enforced: refresh_tokens.owner_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO users (id, email, password_hash, full_name, role)
		VALUES ('constraint-probe', 'probe@invalid', 'x', 'probe', 'parent')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM users WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: users.role")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expectedColumns {
		foundType, ok := foundColumns[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, foundType, expectedType)
		}
	}

	return nil
}
