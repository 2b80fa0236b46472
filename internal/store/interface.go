package store

import (
	"context"
	"encoding/json"
)

type Store interface {
	// Mutations
	Enqueue(ctx context.Context, m *QueuedMutation) (string, error)
	PeekBatch(ctx context.Context, max int) ([]*QueuedMutation, error)
	GetMutation(ctx context.Context, id string) (*QueuedMutation, error)
	MarkInFlight(ctx context.Context, id string) error
	Release(id string)
	Remove(ctx context.Context, id string) error
	Replace(ctx context.Context, id string, payload json.RawMessage, baseVersion string) error
	RecordAttempt(ctx context.Context, id string, attempts int, lastErr string) error
	ResetExhausted(ctx context.Context, maxAttempts int) error
	Count(ctx context.Context) (int, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int, error)
	CountByType(ctx context.Context) (map[string]int, error)
	ListPending(ctx context.Context) ([]*QueuedMutation, error)

	// Conflicts
	CreateConflict(ctx context.Context, conflict *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*Conflict, error)
	// ResolveConflict marks the conflict resolved and, in the same
	// transaction, either removes the referenced mutation or replaces its
	// payload and base version (resetting attempts).
	ResolveConflict(ctx context.Context, conflictID, strategy string, resolvedPayload json.RawMessage, newBaseVersion string, removeMutation bool) error
	CountUnresolvedConflicts(ctx context.Context) (int, error)

	// History
	AppendHistory(ctx context.Context, entry *SyncHistoryEntry) error
	ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistoryEntry, error)
	PruneHistory(ctx context.Context, keep int) error

	// General
	Close() error
}
