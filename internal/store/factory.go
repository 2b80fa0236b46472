package store

import (
	"fmt"

	"fieldsync/internal/config"
)

// New selects a backend from state_storage.type.
func New(cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return NewSQLiteStore(cfg)
	case "mysql":
		return NewMySQLStore(cfg)
	case "postgres":
		return NewPostgresStore(cfg)
	default:
		return nil, fmt.Errorf("unknown state storage type %q", cfg.Type)
	}
}
