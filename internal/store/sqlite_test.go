package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/config"
)

func newTestStore(t *testing.T) (Store, config.StateStorage) {
	t.Helper()
	cfg := config.StateStorage{
		Type:     "sqlite",
		FilePath: filepath.Join(t.TempDir(), "state.db"),
	}
	st, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, cfg
}

func mutation(entityType, entityID string, op Operation, payload string) *QueuedMutation {
	return &QueuedMutation{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		Payload:     json.RawMessage(payload),
		BaseVersion: "1",
	}
}

func TestEnqueueValidation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		m    *QueuedMutation
	}{
		{"missing entity type", mutation("", "C001", OpUpdated, `{}`)},
		{"missing entity id", mutation("customer", "", OpUpdated, `{}`)},
		{"missing operation", mutation("customer", "C001", "", `{}`)},
		{"unknown operation", mutation("customer", "C001", "upserted", `{}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := st.Enqueue(ctx, tc.m)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	st, cfg := newTestStore(t)
	ctx := context.Background()

	id1, err := st.Enqueue(ctx, mutation("customer", "C001", OpUpdated, `{"phone":"+49-89-1234567"}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, mutation("order", "O042", OpCreated, `{"total":99}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, mutation("customer", "C002", OpDeleted, `null`))
	require.NoError(t, err)

	require.NoError(t, st.Remove(ctx, id1))
	require.NoError(t, st.Close())

	// Simulated process restart.
	reopened, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "O042", pending[0].EntityID)
	assert.JSONEq(t, `{"total":99}`, string(pending[0].Payload))
	assert.Equal(t, "C002", pending[1].EntityID)
	assert.Equal(t, OpDeleted, pending[1].Operation)
}

func TestPeekBatchOrderAndInFlightExclusion(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	idA1, err := st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":1}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, mutation("product", "P2", OpUpdated, `{"v":2}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":3}`))
	require.NoError(t, err)

	batch, err := st.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, idA1, batch[0].ID, "oldest first")

	require.NoError(t, st.MarkInFlight(ctx, idA1))
	batch, err = st.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, m := range batch {
		assert.NotEqual(t, idA1, m.ID)
	}
}

func TestMarkInFlightGuard(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":1}`))
	require.NoError(t, err)
	id2, err := st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":2}`))
	require.NoError(t, err)

	require.NoError(t, st.MarkInFlight(ctx, id1))
	assert.ErrorIs(t, st.MarkInFlight(ctx, id1), ErrAlreadyInFlight)
	assert.ErrorIs(t, st.MarkInFlight(ctx, id2), ErrAlreadyInFlight)

	st.Release(id1)
	assert.NoError(t, st.MarkInFlight(ctx, id2))

	assert.ErrorIs(t, st.MarkInFlight(ctx, "no-such-id"), ErrNotFound)
}

func TestRemoveReleasesInFlight(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":1}`))
	require.NoError(t, err)
	id2, err := st.Enqueue(ctx, mutation("product", "P1", OpUpdated, `{"v":2}`))
	require.NoError(t, err)

	require.NoError(t, st.MarkInFlight(ctx, id1))
	require.NoError(t, st.Remove(ctx, id1))
	assert.NoError(t, st.MarkInFlight(ctx, id2))
}

func TestRecordAttemptAndReplace(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	id, err := st.Enqueue(ctx, mutation("customer", "C001", OpUpdated, `{"phone":"old"}`))
	require.NoError(t, err)

	require.NoError(t, st.RecordAttempt(ctx, id, 3, "http 503"))
	m, err := st.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Attempts)
	require.True(t, m.LastError.Valid)
	assert.Equal(t, "http 503", m.LastError.String)

	require.NoError(t, st.Replace(ctx, id, json.RawMessage(`{"phone":"new"}`), "5"))
	m, err = st.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Attempts, "replace resets attempts")
	assert.False(t, m.LastError.Valid, "replace clears last error")
	assert.JSONEq(t, `{"phone":"new"}`, string(m.Payload))
	assert.Equal(t, "5", m.BaseVersion)

	assert.ErrorIs(t, st.Replace(ctx, "no-such-id", json.RawMessage(`{}`), "1"), ErrNotFound)
}

func TestExhaustedCounting(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := st.Enqueue(ctx, mutation("customer", "C001", OpUpdated, `{}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, mutation("customer", "C002", OpUpdated, `{}`))
	require.NoError(t, err)

	require.NoError(t, st.RecordAttempt(ctx, id1, 8, "http 500"))

	n, err := st.CountExhausted(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.ResetExhausted(ctx, 8))
	n, err = st.CountExhausted(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	m, err := st.GetMutation(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Attempts)
	assert.False(t, m.LastError.Valid)
}

func TestCountByType(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*QueuedMutation{
		mutation("customer", "C001", OpUpdated, `{}`),
		mutation("customer", "C002", OpCreated, `{}`),
		mutation("order", "O001", OpCreated, `{}`),
	} {
		_, err := st.Enqueue(ctx, m)
		require.NoError(t, err)
	}

	counts, err := st.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"customer": 2, "order": 1}, counts)
}

func newConflictFor(m *QueuedMutation, serverVersion string) *Conflict {
	return &Conflict{
		ID:            "conflict-" + m.ID,
		MutationID:    m.ID,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		LocalPayload:  m.Payload,
		ServerPayload: json.RawMessage(`{"phone":"+49-89-7654321"}`),
		ServerVersion: serverVersion,
		DetectedAt:    time.Now().UTC(),
	}
}

func TestResolveConflictAcceptServer(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	m := mutation("customer", "C001", OpUpdated, `{"phone":"local"}`)
	_, err := st.Enqueue(ctx, m)
	require.NoError(t, err)

	c := newConflictFor(m, "5")
	require.NoError(t, st.CreateConflict(ctx, c))

	n, err := st.CountUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.ResolveConflict(ctx, c.ID, "accept_server", c.ServerPayload, "", true))

	// Mutation removed and conflict settled, atomically.
	_, err = st.GetMutation(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	n, err = st.CountUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := st.GetConflict(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "accept_server", got.ResolutionStrategy.String)

	// Resolving twice fails.
	assert.Error(t, st.ResolveConflict(ctx, c.ID, "accept_server", nil, "", true))
}

func TestResolveConflictAcceptLocal(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	m := mutation("customer", "C001", OpUpdated, `{"phone":"local"}`)
	_, err := st.Enqueue(ctx, m)
	require.NoError(t, err)
	require.NoError(t, st.RecordAttempt(ctx, m.ID, 2, "http 503"))

	c := newConflictFor(m, "5")
	require.NoError(t, st.CreateConflict(ctx, c))
	require.NoError(t, st.ResolveConflict(ctx, c.ID, "accept_local", m.Payload, "5", false))

	got, err := st.GetMutation(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", got.BaseVersion, "rebased on server version")
	assert.Equal(t, 0, got.Attempts)
	assert.JSONEq(t, `{"phone":"local"}`, string(got.Payload))
}

func TestHistoryAppendAndPrune(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := st.AppendHistory(ctx, &SyncHistoryEntry{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Outcome:     OutcomeSuccess,
			ItemsSynced: i,
		})
		require.NoError(t, err)
	}

	require.NoError(t, st.PruneHistory(ctx, 3))

	history, err := st.ListHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Newest first, and only the newest three survive.
	assert.Equal(t, 4, history[0].ItemsSynced)
	assert.Equal(t, 2, history[2].ItemsSynced)
}
