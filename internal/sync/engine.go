package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
	"fieldsync/internal/netmon"
	"fieldsync/internal/remote"
	"fieldsync/internal/status"
	"fieldsync/internal/store"
)

// Engine is the single entry point the UI layer talks to. It owns the
// monitor, orchestrator, scheduler and projector and exposes the inbound
// operations plus a push stream of snapshots.
type Engine struct {
	cfg       *config.Config
	st        store.Store
	monitor   *netmon.Monitor
	orch      *Orchestrator
	projector *status.Projector
	validator *PayloadValidator
	scheduler *Scheduler

	mu         sync.Mutex
	subs       map[int]func(*status.Snapshot)
	nextSubID  int
	lastStatus netmon.Status
	unsubMon   func()

	notifyCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(cfg *config.Config, st store.Store, client remote.Client) (*Engine, error) {
	validator, err := LoadPayloadValidator(cfg.Schemas.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load payload schemas: %w", err)
	}

	monitor := netmon.NewMonitor(client, cfg.Monitor.GetProbeInterval(), cfg.Monitor.GetDebounce())
	orch := NewOrchestrator(st, client, monitor, cfg.Sync, cfg.Remote.GetSendTimeout())
	projector := status.NewProjector(st, monitor, orch.cfg.MaxAttempts, 3*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		st:         st,
		monitor:    monitor,
		orch:       orch,
		projector:  projector,
		validator:  validator,
		subs:       make(map[int]func(*status.Snapshot)),
		lastStatus: netmon.StatusOffline,
		notifyCh:   make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	orch.SetProgressFunc(func(p Progress) {
		projector.SetProgress(status.Progress{Current: p.Current, Total: p.Total})
		e.requestNotify()
	})
	orch.SetChangeFunc(e.requestNotify)
	projector.SetChangeFunc(e.requestNotify)

	e.scheduler = NewScheduler(cfg.Scheduler, orch, st.Count)

	return e, nil
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.notifyLoop()

	e.unsubMon = e.monitor.Subscribe(e.onConnectionChange)
	e.monitor.Start()
	e.scheduler.Start()

	logger.Log.Info("Sync engine started")
}

func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.orch.Stop()
	if e.unsubMon != nil {
		e.unsubMon()
	}
	e.monitor.Stop()
	e.cancel()
	e.wg.Wait()
	logger.Log.Info("Sync engine stopped")
}

func (e *Engine) onConnectionChange(st netmon.State) {
	e.mu.Lock()
	prev := e.lastStatus
	e.lastStatus = st.Status
	e.mu.Unlock()

	switch st.Status {
	case netmon.StatusOnline:
		if prev == netmon.StatusSyncing {
			// Drain settled cleanly; the Error banner still wins inside the
			// projector if conflicts or parked mutations remain.
			e.projector.MarkSynced()
		} else {
			// Reconnect: drain whatever queued up while offline.
			if err := e.orch.StartDrain(); err != nil {
				logger.Log.Debug("Drain on reconnect skipped", zap.Error(err))
			}
		}
	case netmon.StatusOffline, netmon.StatusError:
		e.projector.ClearProgress()
	}

	e.requestNotify()
}

// EnqueueMutation records a local edit durably and, when online, nudges a
// drain. The returned id identifies the queued mutation.
func (e *Engine) EnqueueMutation(ctx context.Context, entityType, entityID string, op store.Operation, payload json.RawMessage, baseVersion string) (string, error) {
	if err := e.validator.Validate(entityType, payload); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	m := &store.QueuedMutation{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		Payload:     payload,
		BaseVersion: baseVersion,
	}
	id, err := e.st.Enqueue(ctx, m)
	if err != nil {
		return "", err
	}

	logger.Log.Debug("Mutation enqueued",
		zap.String("mutationId", id),
		zap.String("entityType", entityType),
		zap.String("entityId", entityID),
		zap.String("operation", string(op)),
	)

	e.requestNotify()
	if e.monitor.CurrentState().Status == netmon.StatusOnline {
		if err := e.orch.StartDrain(); err != nil {
			logger.Log.Debug("Optimistic drain skipped", zap.Error(err))
		}
	}
	return id, nil
}

// ResolveConflict applies a user-chosen strategy. AcceptLocal resends the
// local payload rebased on the server's version; if the server has moved on
// again the resend comes back as a fresh conflict.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy Strategy, mergedPayload json.RawMessage) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	c, err := e.st.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if c.Resolved {
		return ErrConflictResolved
	}

	switch strategy {
	case StrategyAcceptServer:
		err = e.st.ResolveConflict(ctx, conflictID, string(strategy), c.ServerPayload, "", true)
	case StrategyAcceptLocal:
		err = e.st.ResolveConflict(ctx, conflictID, string(strategy), c.LocalPayload, c.ServerVersion, false)
	case StrategyManualMerge:
		if len(mergedPayload) == 0 {
			return ErrMergeRequired
		}
		err = e.st.ResolveConflict(ctx, conflictID, string(strategy), mergedPayload, c.ServerVersion, false)
	}
	if err != nil {
		return err
	}

	logger.Log.Info("Conflict resolved",
		zap.String("conflictId", conflictID),
		zap.String("entityId", c.EntityID),
		zap.String("strategy", string(strategy)),
	)

	e.requestNotify()
	if strategy != StrategyAcceptServer && e.monitor.CurrentState().Status == netmon.StatusOnline {
		if err := e.orch.StartDrain(); err != nil {
			logger.Log.Debug("Post-resolution drain skipped", zap.Error(err))
		}
	}
	return nil
}

// RetryNow forces a drain. Mutations parked after exhausting automatic
// retries are requeued first; that is what the user's retry button means.
func (e *Engine) RetryNow(ctx context.Context) error {
	if err := e.st.ResetExhausted(ctx, e.orch.cfg.MaxAttempts); err != nil {
		return err
	}
	e.requestNotify()
	return e.orch.StartDrain()
}

func (e *Engine) GetSnapshot(ctx context.Context) (*status.Snapshot, error) {
	return e.projector.Snapshot(ctx)
}

func (e *Engine) ListPending(ctx context.Context) ([]*store.QueuedMutation, error) {
	return e.st.ListPending(ctx)
}

func (e *Engine) ListHistory(ctx context.Context, limit, offset int) ([]*store.SyncHistoryEntry, error) {
	return e.st.ListHistory(ctx, limit, offset)
}

func (e *Engine) ConnectionState() netmon.State {
	return e.monitor.CurrentState()
}

func (e *Engine) Draining() bool {
	return e.orch.Draining()
}

// Subscribe registers a push consumer for snapshot updates. Updates are
// coalesced; polling GetSnapshot stays the fallback contract.
func (e *Engine) Subscribe(cb func(*status.Snapshot)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) requestNotify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}

func (e *Engine) notifyLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.notifyCh:
		}

		e.mu.Lock()
		n := len(e.subs)
		e.mu.Unlock()
		if n == 0 {
			continue
		}

		snap, err := e.projector.Snapshot(e.ctx)
		if err != nil {
			logger.Log.Error("Failed to build snapshot", zap.Error(err))
			continue
		}

		e.mu.Lock()
		cbs := make([]func(*status.Snapshot), 0, len(e.subs))
		for _, cb := range e.subs {
			cbs = append(cbs, cb)
		}
		e.mu.Unlock()
		for _, cb := range cbs {
			cb(snap)
		}
	}
}
