package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
)

func NewPostgresStore(cfg config.StateStorage) (Store, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := createSchemaPostgres(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Log.Info("Connected to postgres state store",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return newSQLStore(db, "postgres"), nil
}

func createSchemaPostgres(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT,
			base_version TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
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
			detected_at TIMESTAMPTZ NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolution_strategy TEXT,
			resolved_at TIMESTAMPTZ,
			resolved_payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved, detected_at)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			items_synced INT NOT NULL DEFAULT 0,
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
