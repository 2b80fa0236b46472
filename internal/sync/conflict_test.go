package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/store"
)

func TestEvaluateMatchingVersions(t *testing.T) {
	m := &store.QueuedMutation{
		ID:          "m1",
		EntityType:  "customer",
		EntityID:    "C001",
		BaseVersion: "4",
		Payload:     json.RawMessage(`{"phone":"local"}`),
	}
	assert.Nil(t, Evaluate(m, "4", nil))
}

func TestEvaluateDivergedVersions(t *testing.T) {
	m := &store.QueuedMutation{
		ID:          "m1",
		EntityType:  "customer",
		EntityID:    "C001",
		BaseVersion: "4",
		Payload:     json.RawMessage(`{"phone":"local"}`),
	}
	serverPayload := json.RawMessage(`{"phone":"server"}`)

	c := Evaluate(m, "5", serverPayload)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "m1", c.MutationID)
	assert.Equal(t, "customer", c.EntityType)
	assert.Equal(t, "C001", c.EntityID)
	assert.Equal(t, "5", c.ServerVersion)
	assert.JSONEq(t, `{"phone":"local"}`, string(c.LocalPayload))
	assert.JSONEq(t, `{"phone":"server"}`, string(c.ServerPayload))
	assert.False(t, c.DetectedAt.IsZero())
	assert.False(t, c.Resolved)
}

func TestEvaluateVersionsAreOpaque(t *testing.T) {
	m := &store.QueuedMutation{ID: "m1", BaseVersion: "004"}
	// "004" and "4" are different tokens even if numerically equal.
	assert.NotNil(t, Evaluate(m, "4", nil))
}

func TestEvaluateEmptyServerVersion(t *testing.T) {
	// An absent server version is never treated as a match, not even
	// against an empty base version.
	m := &store.QueuedMutation{ID: "m1", BaseVersion: ""}
	assert.NotNil(t, Evaluate(m, "", nil))
	assert.NotNil(t, Evaluate(m, "  ", nil))

	m.BaseVersion = "7"
	assert.NotNil(t, Evaluate(m, "", nil))
}

func TestStrategyValid(t *testing.T) {
	assert.True(t, StrategyAcceptLocal.Valid())
	assert.True(t, StrategyAcceptServer.Valid())
	assert.True(t, StrategyManualMerge.Valid())
	assert.False(t, Strategy("pick_mine").Valid())
	assert.False(t, Strategy("").Valid())
}
