package remote

import (
	"context"
	"encoding/json"
	"time"

	"fieldsync/internal/store"
)

type Status int

const (
	StatusAccepted Status = iota
	StatusVersionConflict
	StatusTransient
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusVersionConflict:
		return "version_conflict"
	case StatusTransient:
		return "transient_error"
	case StatusFatal:
		return "fatal_error"
	}
	return "unknown"
}

// SendResult is the logical response taxonomy every transport binding must
// map onto. The wire format behind it is not this package's concern.
type SendResult struct {
	Status        Status
	NewVersion    string          // Accepted
	ServerVersion string          // VersionConflict
	ServerPayload json.RawMessage // VersionConflict
	Message       string
}

type Client interface {
	Send(ctx context.Context, m *store.QueuedMutation) (SendResult, error)
	Probe(ctx context.Context) (time.Duration, error)
}
