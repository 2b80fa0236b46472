package status

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/netmon"
	"fieldsync/internal/store"
)

type Banner string

const (
	BannerNone    Banner = "none"
	BannerOffline Banner = "offline"
	BannerSyncing Banner = "syncing"
	BannerSynced  Banner = "synced"
	BannerError   Banner = "error"
)

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Snapshot is everything the UI needs to render sync state. It is a pure
// read projection; nothing in it is owned by this package.
type Snapshot struct {
	Connection     netmon.State               `json:"connection"`
	Banner         Banner                     `json:"banner"`
	Progress       *Progress                  `json:"progress,omitempty"`
	PendingCount   int                        `json:"pendingCount"`
	PendingByType  map[string]int             `json:"pendingByType"`
	ConflictCount  int                        `json:"conflictCount"`
	ExhaustedCount int                        `json:"exhaustedCount"`
	Conflicts      []*store.Conflict          `json:"conflicts"`
	History        []*store.SyncHistoryEntry  `json:"history"`
}

// Projector derives UI-facing status from the store and the connection
// monitor. It never mutates either; the engine feeds it progress updates and
// drain completions.
type Projector struct {
	st           store.Store
	monitor      *netmon.Monitor
	maxAttempts  int
	syncedWindow time.Duration

	mu          sync.Mutex
	progress    *Progress
	syncedUntil time.Time
	onChange    func()
}

func NewProjector(st store.Store, monitor *netmon.Monitor, maxAttempts int, syncedWindow time.Duration) *Projector {
	if syncedWindow <= 0 {
		syncedWindow = 3 * time.Second
	}
	return &Projector{
		st:           st,
		monitor:      monitor,
		maxAttempts:  maxAttempts,
		syncedWindow: syncedWindow,
	}
}

// SetChangeFunc registers the callback fired when the transient Synced
// banner expires on its own.
func (p *Projector) SetChangeFunc(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Projector) SetProgress(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = &pr
}

// MarkSynced opens the transient Synced display window and clears progress.
func (p *Projector) MarkSynced() {
	p.mu.Lock()
	p.progress = nil
	p.syncedUntil = time.Now().Add(p.syncedWindow)
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		time.AfterFunc(p.syncedWindow, fn)
	}
}

// ClearProgress drops progress without opening a Synced window (used when a
// drain settles with problems).
func (p *Projector) ClearProgress() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = nil
}

func (p *Projector) Snapshot(ctx context.Context) (*Snapshot, error) {
	conn := p.monitor.CurrentState()

	pending, err := p.st.Count(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := p.st.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	conflictCount, err := p.st.CountUnresolvedConflicts(ctx)
	if err != nil {
		return nil, err
	}
	exhausted, err := p.st.CountExhausted(ctx, p.maxAttempts)
	if err != nil {
		return nil, err
	}
	conflicts, err := p.st.ListConflicts(ctx, false, 100, 0)
	if err != nil {
		return nil, err
	}
	history, err := p.st.ListHistory(ctx, 20, 0)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	progress := p.progress
	syncedUntil := p.syncedUntil
	p.mu.Unlock()

	snap := &Snapshot{
		Connection:     conn,
		PendingCount:   pending,
		PendingByType:  byType,
		ConflictCount:  conflictCount,
		ExhaustedCount: exhausted,
		Conflicts:      conflicts,
		History:        history,
	}

	switch {
	case conn.Status == netmon.StatusSyncing:
		snap.Banner = BannerSyncing
		snap.Progress = progress
	case conflictCount > 0 || exhausted > 0 || conn.Status == netmon.StatusError:
		snap.Banner = BannerError
	case conn.Status == netmon.StatusOffline && pending > 0:
		snap.Banner = BannerOffline
	case time.Now().Before(syncedUntil):
		snap.Banner = BannerSynced
	default:
		snap.Banner = BannerNone
	}

	return snap, nil
}
