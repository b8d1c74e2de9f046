package database

import (
	"fmt"
	"log/slog"

	dbconfig "github.com/haphu2512-java/ZaloForEdu/pkg/database"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
)

// Open returns the store for the configured driver with its schema migrated.
func Open(config *dbconfig.Config, log *slog.Logger) (interfaces.DatabaseManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("database.Open: %w", err)
	}

	switch config.Driver {
	case dbconfig.DriverPostgres:
		return NewGormStore(config, log)
	default:
		m, err := NewManager(config, log)
		if err != nil {
			return nil, err
		}
		if err := m.Migrate(); err != nil {
			_ = m.Close()
			return nil, err
		}
		return m, nil
	}
}
