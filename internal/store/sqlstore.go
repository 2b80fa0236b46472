package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqlStore implements Store on top of database/sql. The three backends
// (sqlite, mysql, postgres) share it and differ only in DSN, schema DDL and
// placeholder style.
type sqlStore struct {
	db       *sql.DB
	dialect  string
	inflight *inflightGuard
}

func newSQLStore(db *sql.DB, dialect string) *sqlStore {
	return &sqlStore{
		db:       db,
		dialect:  dialect,
		inflight: newInflightGuard(),
	}
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) Enqueue(ctx context.Context, m *QueuedMutation) (string, error) {
	if strings.TrimSpace(m.EntityType) == "" {
		return "", fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return "", fmt.Errorf("%w: entity id is required", ErrValidation)
	}
	if !m.Operation.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q", ErrValidation, m.Operation)
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO mutations (id, entity_type, entity_id, operation, payload, base_version, created_at, attempts, last_error)
			  VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)`

	if s.dialect == "postgres" {
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING seq"),
			m.ID, m.EntityType, m.EntityID, string(m.Operation), string(m.Payload), m.BaseVersion, m.CreatedAt,
		).Scan(&m.Seq)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue mutation: %w", err)
		}
		return m.ID, nil
	}

	res, err := s.db.ExecContext(ctx, query,
		m.ID, m.EntityType, m.EntityID, string(m.Operation), string(m.Payload), m.BaseVersion, m.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return m.ID, nil
}

const mutationColumns = `seq, id, entity_type, entity_id, operation, payload, base_version, created_at, attempts, last_error`

func scanMutation(row interface{ Scan(...interface{}) error }) (*QueuedMutation, error) {
	var m QueuedMutation
	var op string
	var payload []byte
	err := row.Scan(
		&m.Seq,
		&m.ID,
		&m.EntityType,
		&m.EntityID,
		&op,
		&payload,
		&m.BaseVersion,
		&m.CreatedAt,
		&m.Attempts,
		&m.LastError,
	)
	if err != nil {
		return nil, err
	}
	m.Operation = Operation(op)
	m.Payload = json.RawMessage(payload)
	return &m, nil
}

func (s *sqlStore) PeekBatch(ctx context.Context, max int) ([]*QueuedMutation, error) {
	if max <= 0 {
		max = 500
	}
	query := s.rebind(`SELECT ` + mutationColumns + ` FROM mutations ORDER BY seq ASC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []*QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		if s.inflight.has(m.ID) {
			continue
		}
		batch = append(batch, m)
	}
	return batch, rows.Err()
}

func (s *sqlStore) GetMutation(ctx context.Context, id string) (*QueuedMutation, error) {
	query := s.rebind(`SELECT ` + mutationColumns + ` FROM mutations WHERE id = ?`)
	m, err := scanMutation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *sqlStore) MarkInFlight(ctx context.Context, id string) error {
	var entityID string
	query := s.rebind(`SELECT entity_id FROM mutations WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&entityID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.inflight.claim(entityID, id)
}

func (s *sqlStore) Release(id string) {
	s.inflight.release(id)
}

func (s *sqlStore) Remove(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM mutations WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	s.inflight.release(id)
	return nil
}

func (s *sqlStore) Replace(ctx context.Context, id string, payload json.RawMessage, baseVersion string) error {
	query := s.rebind(`UPDATE mutations SET payload = ?, base_version = ?, attempts = 0, last_error = NULL WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(payload), baseVersion, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) RecordAttempt(ctx context.Context, id string, attempts int, lastErr string) error {
	query := s.rebind(`UPDATE mutations SET attempts = ?, last_error = ? WHERE id = ?`)
	var msg sql.NullString
	if lastErr != "" {
		msg = sql.NullString{String: lastErr, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, attempts, msg, id)
	return err
}

// ResetExhausted requeues mutations parked after running out of automatic
// retries. Called when the user explicitly asks for a retry.
func (s *sqlStore) ResetExhausted(ctx context.Context, maxAttempts int) error {
	query := s.rebind(`UPDATE mutations SET attempts = 0, last_error = NULL WHERE attempts >= ?`)
	_, err := s.db.ExecContext(ctx, query, maxAttempts)
	return err
}

func (s *sqlStore) CountExhausted(ctx context.Context, maxAttempts int) (int, error) {
	var n int
	query := s.rebind(`SELECT COUNT(*) FROM mutations WHERE attempts >= ?`)
	err := s.db.QueryRowContext(ctx, query, maxAttempts).Scan(&n)
	return n, err
}

func (s *sqlStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n)
	return n, err
}

func (s *sqlStore) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_type, COUNT(*) FROM mutations GROUP BY entity_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

func (s *sqlStore) ListPending(ctx context.Context) ([]*QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mutationColumns+` FROM mutations ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

func (s *sqlStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	query := s.rebind(`INSERT INTO conflicts (id, mutation_id, entity_type, entity_id, local_payload, server_payload, server_version, detected_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)`)
	_, err := s.db.ExecContext(ctx, query,
		conflict.ID,
		conflict.MutationID,
		conflict.EntityType,
		conflict.EntityID,
		string(conflict.LocalPayload),
		string(conflict.ServerPayload),
		conflict.ServerVersion,
		conflict.DetectedAt,
	)
	return err
}

const conflictColumns = `id, mutation_id, entity_type, entity_id, local_payload, server_payload, server_version, detected_at, resolved, resolution_strategy, resolved_at, resolved_payload`

func scanConflict(row interface{ Scan(...interface{}) error }) (*Conflict, error) {
	var c Conflict
	var local, server, resolved []byte
	err := row.Scan(
		&c.ID,
		&c.MutationID,
		&c.EntityType,
		&c.EntityID,
		&local,
		&server,
		&c.ServerVersion,
		&c.DetectedAt,
		&c.Resolved,
		&c.ResolutionStrategy,
		&c.ResolvedAt,
		&resolved,
	)
	if err != nil {
		return nil, err
	}
	c.LocalPayload = json.RawMessage(local)
	c.ServerPayload = json.RawMessage(server)
	c.ResolvedPayload = json.RawMessage(resolved)
	return &c, nil
}

func (s *sqlStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	query := s.rebind(`SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`)
	c, err := scanConflict(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqlStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + conflictColumns + ` FROM conflicts WHERE resolved = ? ORDER BY detected_at ASC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *sqlStore) ResolveConflict(ctx context.Context, conflictID, strategy string, resolvedPayload json.RawMessage, newBaseVersion string, removeMutation bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var mutationID string
	var resolved bool
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT mutation_id, resolved FROM conflicts WHERE id = ?`), conflictID).
		Scan(&mutationID, &resolved)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if resolved {
		return fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	if removeMutation {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM mutations WHERE id = ?`), mutationID); err != nil {
			return err
		}
	} else {
		query := s.rebind(`UPDATE mutations SET payload = ?, base_version = ?, attempts = 0, last_error = NULL WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, string(resolvedPayload), newBaseVersion, mutationID); err != nil {
			return err
		}
	}

	query := s.rebind(`UPDATE conflicts SET resolved = TRUE, resolution_strategy = ?, resolved_payload = ?, resolved_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, strategy, string(resolvedPayload), time.Now().UTC(), conflictID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if removeMutation {
		s.inflight.release(mutationID)
	}
	return nil
}

func (s *sqlStore) CountUnresolvedConflicts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE resolved = FALSE`).Scan(&n)
	return n, err
}

func (s *sqlStore) AppendHistory(ctx context.Context, entry *SyncHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO sync_history (id, ts, outcome, items_synced, message) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Outcome,
		entry.ItemsSynced,
		entry.Message,
	)
	return err
}

func (s *sqlStore) ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT id, ts, outcome, items_synced, message FROM sync_history ORDER BY ts DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistoryEntry
	for rows.Next() {
		var h SyncHistoryEntry
		if err := rows.Scan(&h.ID, &h.Timestamp, &h.Outcome, &h.ItemsSynced, &h.Message); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *sqlStore) PruneHistory(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	// Derived table keeps MySQL happy with LIMIT inside IN.
	query := s.rebind(`DELETE FROM sync_history WHERE id NOT IN (
		SELECT id FROM (SELECT id FROM sync_history ORDER BY ts DESC LIMIT ?) kept
	)`)
	_, err := s.db.ExecContext(ctx, query, keep)
	return err
}
