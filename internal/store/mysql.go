package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
)

// NewMySQLStore opens a MySQL state backend for deployments where several
// field devices share one edge server.
func NewMySQLStore(cfg config.StateStorage) (Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := createSchemaMySQL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return newSQLStore(db, "mysql"), nil
}

func createSchemaMySQL(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			entity_type VARCHAR(64) NOT NULL,
			entity_id VARCHAR(191) NOT NULL,
			operation VARCHAR(16) NOT NULL,
			payload LONGTEXT,
			base_version VARCHAR(191) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			INDEX idx_mutations_entity (entity_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id VARCHAR(36) PRIMARY KEY,
			mutation_id VARCHAR(36) NOT NULL,
			entity_type VARCHAR(64) NOT NULL,
			entity_id VARCHAR(191) NOT NULL,
			local_payload LONGTEXT,
			server_payload LONGTEXT,
			server_version VARCHAR(191) NOT NULL DEFAULT '',
			detected_at DATETIME(6) NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolution_strategy VARCHAR(32),
			resolved_at DATETIME(6),
			resolved_payload LONGTEXT,
			INDEX idx_conflicts_resolved (resolved, detected_at)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id VARCHAR(36) PRIMARY KEY,
			ts DATETIME(6) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
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
