package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreated, OpUpdated, OpDeleted:
		return true
	}
	return false
}

// QueuedMutation is a local change awaiting confirmation by the server.
// Seq is assigned at insert and fixes the FIFO order within an entity.
type QueuedMutation struct {
	Seq         int64           `db:"seq" json:"seq"`
	ID          string          `db:"id" json:"id"`
	EntityType  string          `db:"entity_type" json:"entityType"`
	EntityID    string          `db:"entity_id" json:"entityId"`
	Operation   Operation       `db:"operation" json:"operation"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	BaseVersion string          `db:"base_version" json:"baseVersion"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   sql.NullString  `db:"last_error" json:"lastError"`
}

type Conflict struct {
	ID                 string          `db:"id" json:"id"`
	MutationID         string          `db:"mutation_id" json:"mutationId"`
	EntityType         string          `db:"entity_type" json:"entityType"`
	EntityID           string          `db:"entity_id" json:"entityId"`
	LocalPayload       json.RawMessage `db:"local_payload" json:"localPayload"`
	ServerPayload      json.RawMessage `db:"server_payload" json:"serverPayload"`
	ServerVersion      string          `db:"server_version" json:"serverVersion"`
	DetectedAt         time.Time       `db:"detected_at" json:"detectedAt"`
	Resolved           bool            `db:"resolved" json:"resolved"`
	ResolutionStrategy sql.NullString  `db:"resolution_strategy" json:"resolutionStrategy"`
	ResolvedAt         sql.NullTime    `db:"resolved_at" json:"resolvedAt"`
	ResolvedPayload    json.RawMessage `db:"resolved_payload" json:"resolvedPayload"`
}

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// SyncHistoryEntry is append-only; entries are never mutated after creation.
type SyncHistoryEntry struct {
	ID          string         `db:"id" json:"id"`
	Timestamp   time.Time      `db:"timestamp" json:"timestamp"`
	Outcome     string         `db:"outcome" json:"outcome"`
	ItemsSynced int            `db:"items_synced" json:"itemsSynced"`
	Message     sql.NullString `db:"message" json:"message"`
}
