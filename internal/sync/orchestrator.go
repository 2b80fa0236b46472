package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
	"fieldsync/internal/netmon"
	"fieldsync/internal/remote"
	"fieldsync/internal/store"
)

// Orchestrator drains the mutation store against the remote endpoint. One
// drain cycle runs at a time; within it, entities are processed on parallel
// lanes (bounded by Concurrency) while each lane stays strictly FIFO.
type Orchestrator struct {
	st          store.Store
	client      remote.Client
	monitor     *netmon.Monitor
	cfg         config.SyncConfig
	sendTimeout time.Duration

	// onProgress and onChange are set by the engine before Start.
	onProgress func(Progress)
	onChange   func()

	mu       sync.Mutex
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(st store.Store, client remote.Client, monitor *netmon.Monitor, cfg config.SyncConfig, sendTimeout time.Duration) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	return &Orchestrator{
		st:          st,
		client:      client,
		monitor:     monitor,
		cfg:         cfg,
		sendTimeout: sendTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (o *Orchestrator) SetProgressFunc(fn func(Progress)) { o.onProgress = fn }
func (o *Orchestrator) SetChangeFunc(fn func())           { o.onChange = fn }

func (o *Orchestrator) Draining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining
}

// StartDrain kicks off a drain cycle. Safe to call on every reconnect event:
// a running drain makes it a no-op. Fails with ErrNotOnline unless the
// monitor is Online.
func (o *Orchestrator) StartDrain() error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil
	}
	if !o.monitor.BeginSync() {
		o.mu.Unlock()
		return ErrNotOnline
	}
	o.draining = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.drain()
	return nil
}

// Stop cancels any running drain and waits for in-flight work to settle.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

type lane struct {
	entityID  string
	mutations []*store.QueuedMutation
}

func (o *Orchestrator) drain() {
	defer o.wg.Done()
	ctx := o.ctx

	defer func() {
		o.mu.Lock()
		o.draining = false
		o.mu.Unlock()
		o.notifyChange()
	}()

	batch, err := o.st.PeekBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		logger.Log.Error("Failed to read pending batch", zap.Error(err))
		o.monitor.EndSync(false, time.Now().UTC())
		return
	}

	blocked, err := o.blockedEntities(ctx)
	if err != nil {
		logger.Log.Error("Failed to load unresolved conflicts", zap.Error(err))
		o.monitor.EndSync(false, time.Now().UTC())
		return
	}

	lanes := buildLanes(batch, blocked, o.cfg.MaxAttempts)
	total := 0
	for _, ln := range lanes {
		total += len(ln.mutations)
	}
	if total == 0 {
		o.monitor.EndSync(false, time.Now().UTC())
		return
	}

	logger.Log.Info("Drain started",
		zap.Int("mutations", total),
		zap.Int("entities", len(lanes)),
	)

	var current, synced, conflicts, parked atomic.Int64
	var fatal atomic.Bool
	report := func() {
		if o.onProgress != nil {
			o.onProgress(Progress{Current: int(current.Load()), Total: total})
		}
	}
	report()

	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, ln := range lanes {
		wg.Add(1)
		go func(ln *lane) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			o.drainLane(ctx, ln, &current, &synced, &conflicts, &parked, &fatal, report)
		}(ln)
	}
	wg.Wait()

	o.recordHistory(ctx, int(synced.Load()), int(conflicts.Load()), int(parked.Load()), fatal.Load())
	o.monitor.EndSync(fatal.Load(), time.Now().UTC())

	logger.Log.Info("Drain finished",
		zap.Int64("synced", synced.Load()),
		zap.Int64("conflicts", conflicts.Load()),
		zap.Int64("parked", parked.Load()),
		zap.Bool("fatal", fatal.Load()),
	)
}

// blockedEntities returns entities suspended by an unresolved conflict.
// Their lanes are skipped until the user resolves (manual merge included).
func (o *Orchestrator) blockedEntities(ctx context.Context) (map[string]bool, error) {
	conflicts, err := o.st.ListConflicts(ctx, false, 1000, 0)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		blocked[c.EntityID] = true
	}
	return blocked, nil
}

// buildLanes groups the batch per entity preserving FIFO order within each
// lane. Blocked and retry-exhausted entities are left out of the cycle.
func buildLanes(batch []*store.QueuedMutation, blocked map[string]bool, maxAttempts int) []*lane {
	index := make(map[string]*lane)
	var lanes []*lane
	closed := make(map[string]bool)
	for _, m := range batch {
		if blocked[m.EntityID] || closed[m.EntityID] {
			continue
		}
		if m.Attempts >= maxAttempts {
			// Parked mutation: nothing queued behind it may overtake it,
			// so the lane closes here. Anything already ahead still runs.
			closed[m.EntityID] = true
			continue
		}
		ln, ok := index[m.EntityID]
		if !ok {
			ln = &lane{entityID: m.EntityID}
			index[m.EntityID] = ln
			lanes = append(lanes, ln)
		}
		ln.mutations = append(ln.mutations, m)
	}
	out := lanes[:0]
	for _, ln := range lanes {
		if len(ln.mutations) > 0 {
			out = append(out, ln)
		}
	}
	return out
}

func (o *Orchestrator) drainLane(ctx context.Context, ln *lane, current, synced, conflicts, parked *atomic.Int64, fatal *atomic.Bool, report func()) {
	for _, m := range ln.mutations {
		if fatal.Load() {
			return
		}
		// Going Offline mid-drain stops new sends; in-flight ones already
		// settled by the time we get here.
		if o.monitor.CurrentState().Status != netmon.StatusSyncing {
			return
		}

		counted, cont := o.processMutation(ctx, m, synced, conflicts, parked, fatal)
		if counted {
			current.Add(1)
			report()
			o.notifyChange()
		}
		if !cont {
			return
		}
	}
}

// processMutation sends one mutation, retrying transient failures with
// backoff. Returns counted=true once the mutation settled for this cycle and
// cont=false when the rest of the lane must not proceed.
func (o *Orchestrator) processMutation(ctx context.Context, m *store.QueuedMutation, synced, conflicts, parked *atomic.Int64, fatal *atomic.Bool) (counted, cont bool) {
	attempts := m.Attempts
	for {
		if err := o.st.MarkInFlight(ctx, m.ID); err != nil {
			if errors.Is(err, store.ErrAlreadyInFlight) {
				logger.Log.Warn("Entity already in flight, skipping lane",
					zap.String("entityId", m.EntityID),
					zap.String("mutationId", m.ID),
				)
			}
			return false, false
		}

		sendCtx, cancel := context.WithTimeout(ctx, o.sendTimeout)
		res, err := o.client.Send(sendCtx, m)
		cancel()
		if err != nil {
			res = remote.SendResult{Status: remote.StatusTransient, Message: err.Error()}
		}

		switch res.Status {
		case remote.StatusAccepted:
			if err := o.st.Remove(ctx, m.ID); err != nil {
				logger.Log.Error("Failed to remove synced mutation", zap.String("mutationId", m.ID), zap.Error(err))
				o.st.Release(m.ID)
				return true, false
			}
			synced.Add(1)
			logger.Log.Debug("Mutation accepted",
				zap.String("mutationId", m.ID),
				zap.String("entityId", m.EntityID),
				zap.String("newVersion", res.NewVersion),
			)
			return true, true

		case remote.StatusVersionConflict:
			conflict := Evaluate(m, res.ServerVersion, res.ServerPayload)
			if conflict == nil {
				// Server reported a collision we cannot verify; fail safe.
				conflict = newConflict(m, res.ServerVersion, res.ServerPayload)
			}
			if err := o.st.CreateConflict(ctx, conflict); err != nil {
				logger.Log.Error("Failed to record conflict", zap.String("mutationId", m.ID), zap.Error(err))
			}
			o.st.Release(m.ID)
			conflicts.Add(1)
			logger.Log.Info("Version conflict detected",
				zap.String("mutationId", m.ID),
				zap.String("entityId", m.EntityID),
				zap.String("baseVersion", m.BaseVersion),
				zap.String("serverVersion", res.ServerVersion),
			)
			return true, false

		case remote.StatusFatal:
			if err := o.st.RecordAttempt(ctx, m.ID, attempts, res.Message); err != nil {
				logger.Log.Error("Failed to record fatal error", zap.String("mutationId", m.ID), zap.Error(err))
			}
			o.st.Release(m.ID)
			fatal.Store(true)
			logger.Log.Error("Fatal send failure, aborting drain",
				zap.String("mutationId", m.ID),
				zap.String("reason", res.Message),
			)
			return true, false

		default: // transient
			attempts++
			if err := o.st.RecordAttempt(ctx, m.ID, attempts, res.Message); err != nil {
				logger.Log.Error("Failed to record attempt", zap.String("mutationId", m.ID), zap.Error(err))
			}
			o.st.Release(m.ID)

			if attempts >= o.cfg.MaxAttempts {
				parked.Add(1)
				logger.Log.Warn("Mutation exhausted retries, needs manual attention",
					zap.String("mutationId", m.ID),
					zap.String("entityId", m.EntityID),
					zap.Int("attempts", attempts),
					zap.String("lastError", res.Message),
				)
				return true, false
			}

			delay := retryDelay(o.cfg.GetBackoffBase(), o.cfg.GetBackoffCap(), attempts)
			logger.Log.Debug("Transient failure, retrying",
				zap.String("mutationId", m.ID),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, false
			case <-timer.C:
			}
			if o.monitor.CurrentState().Status != netmon.StatusSyncing {
				return false, false
			}
		}
	}
}

func (o *Orchestrator) recordHistory(ctx context.Context, synced, conflicts, parked int, fatal bool) {
	entry := &store.SyncHistoryEntry{
		Timestamp:   time.Now().UTC(),
		Outcome:     store.OutcomeSuccess,
		ItemsSynced: synced,
	}
	if fatal || conflicts > 0 || parked > 0 {
		entry.Outcome = store.OutcomeError
		msg := fmt.Sprintf("%d conflicts, %d mutations need attention", conflicts, parked)
		if fatal {
			msg += ", drain aborted"
		}
		entry.Message.String = msg
		entry.Message.Valid = true
	}
	if err := o.st.AppendHistory(ctx, entry); err != nil {
		logger.Log.Error("Failed to append sync history", zap.Error(err))
		return
	}
	if o.cfg.HistoryLimit > 0 {
		if err := o.st.PruneHistory(ctx, o.cfg.HistoryLimit); err != nil {
			logger.Log.Error("Failed to prune sync history", zap.Error(err))
		}
	}
}

func (o *Orchestrator) notifyChange() {
	if o.onChange != nil {
		o.onChange()
	}
}
