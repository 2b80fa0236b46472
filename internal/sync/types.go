package sync

import (
	"errors"
)

var (
	// ErrNotOnline rejects a drain while the connection monitor is not Online.
	ErrNotOnline = errors.New("connection is not online")

	ErrUnknownStrategy  = errors.New("unknown resolution strategy")
	ErrMergeRequired    = errors.New("manual merge requires a merged payload")
	ErrConflictResolved = errors.New("conflict is already resolved")
)

// Progress counts settled mutations over the batch captured at drain start.
// Mutations enqueued mid-drain join the next cycle.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
