package sync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/store"
)

type Strategy string

const (
	StrategyAcceptLocal  Strategy = "accept_local"
	StrategyAcceptServer Strategy = "accept_server"
	StrategyManualMerge  Strategy = "manual_merge"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyAcceptLocal, StrategyAcceptServer, StrategyManualMerge:
		return true
	}
	return false
}

// Evaluate compares a mutation's base version against the server's current
// version. Returns nil when they match and applying may proceed, otherwise a
// Conflict record. Versions are opaque tokens compared by equality only; an
// empty server version is never assumed compatible.
func Evaluate(local *store.QueuedMutation, serverVersion string, serverPayload json.RawMessage) *store.Conflict {
	if strings.TrimSpace(serverVersion) != "" && local.BaseVersion == serverVersion {
		return nil
	}
	return newConflict(local, serverVersion, serverPayload)
}

func newConflict(local *store.QueuedMutation, serverVersion string, serverPayload json.RawMessage) *store.Conflict {
	return &store.Conflict{
		ID:            uuid.New().String(),
		MutationID:    local.ID,
		EntityType:    local.EntityType,
		EntityID:      local.EntityID,
		LocalPayload:  local.Payload,
		ServerPayload: serverPayload,
		ServerVersion: serverVersion,
		DetectedAt:    time.Now().UTC(),
	}
}
