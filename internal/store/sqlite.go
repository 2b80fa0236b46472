package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
)

// NewSQLiteStore opens the default on-device backend. WAL keeps enqueue
// latency low while the orchestrator reads concurrently.
func NewSQLiteStore(cfg config.StateStorage) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", cfg.FilePath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemaSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Log.Info("Opened sqlite state store", zap.String("path", cfg.FilePath))

	return newSQLStore(db, "sqlite"), nil
}

func createSchemaSQLite(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT,
			base_version TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity_id, seq)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			mutation_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			local_payload TEXT,
			server_payload TEXT,
			server_version TEXT NOT NULL DEFAULT '',
			detected_at TIMESTAMP NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolution_strategy TEXT,
			resolved_at TIMESTAMP,
			resolved_payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved, detected_at)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			outcome TEXT NOT NULL,
			items_synced INTEGER NOT NULL DEFAULT 0,
			message TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
