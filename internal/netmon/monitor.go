package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldsync/internal/logger"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
	QualityNone Quality = "none"
)

type State struct {
	Status       Status     `json:"status"`
	Quality      Quality    `json:"quality"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Prober reports reachability of the remote endpoint and the round-trip
// latency of the check.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Monitor owns ConnectionState. Reachability transitions come from the probe
// loop; Syncing/Error bracketing comes from the orchestrator via BeginSync and
// EndSync. Subscribers see every transition in order, none coalesced.
type Monitor struct {
	prober        Prober
	probeInterval time.Duration
	debounce      time.Duration

	mu             sync.Mutex
	state          State
	reachableSince time.Time
	subs           map[int]func(State)
	nextSubID      int

	events chan State
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(prober Prober, probeInterval, debounce time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		prober:        prober,
		probeInterval: probeInterval,
		debounce:      debounce,
		state:         State{Status: StatusOffline, Quality: QualityNone},
		subs:          make(map[int]func(State)),
		events:        make(chan State, 256),
		ctx:           ctx,
		cancel:        cancel,
	}
	return m
}

func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.dispatchLoop()
	go m.probeLoop()
}

func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers cb for every state transition. The returned function
// unsubscribes. Callbacks run on the dispatch goroutine and must not block.
func (m *Monitor) Subscribe(cb func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// BeginSync moves Online to Syncing. Reports false when the monitor is not
// Online, in which case no drain may start.
func (m *Monitor) BeginSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusOnline {
		return false
	}
	m.setStateLocked(State{Status: StatusSyncing, Quality: m.state.Quality, LastSyncedAt: m.state.LastSyncedAt})
	return true
}

// EndSync settles a drain. A fatal drain lands in Error; otherwise back to
// Online with lastSyncedAt refreshed. If reachability was lost mid-drain the
// Offline transition already happened and is left alone.
func (m *Monitor) EndSync(fatal bool, syncedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusSyncing {
		return
	}
	if fatal {
		m.setStateLocked(State{Status: StatusError, Quality: m.state.Quality, LastSyncedAt: m.state.LastSyncedAt})
		return
	}
	ts := syncedAt
	m.setStateLocked(State{Status: StatusOnline, Quality: m.state.Quality, LastSyncedAt: &ts})
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	// First check immediately so startup state settles fast.
	delay := time.Duration(0)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		probeCtx, cancel := context.WithTimeout(m.ctx, m.probeInterval)
		latency, err := m.prober.Probe(probeCtx)
		cancel()

		if err != nil {
			m.onUnreachable(err)
			delay = m.probeInterval
			continue
		}

		pending := m.onReachable(latency)
		if pending {
			// Reachable but inside the debounce window: check again once
			// the window has elapsed instead of waiting a full interval.
			delay = m.debounce
		} else {
			delay = m.probeInterval
		}
	}
}

func (m *Monitor) onUnreachable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reachableSince = time.Time{}
	if m.state.Status == StatusOffline && m.state.Quality == QualityNone {
		return
	}
	logger.Log.Info("Connection lost", zap.Error(err))
	m.setStateLocked(State{Status: StatusOffline, Quality: QualityNone, LastSyncedAt: m.state.LastSyncedAt})
}

// onReachable returns true while an Offline to Online transition is still
// being debounced.
func (m *Monitor) onReachable(latency time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	quality := gradeQuality(latency)
	now := time.Now()

	switch m.state.Status {
	case StatusOffline:
		if m.reachableSince.IsZero() {
			m.reachableSince = now
			return true
		}
		if now.Sub(m.reachableSince) < m.debounce {
			return true
		}
		logger.Log.Info("Connection restored", zap.Duration("latency", latency))
		m.setStateLocked(State{Status: StatusOnline, Quality: quality, LastSyncedAt: m.state.LastSyncedAt})
		return false

	case StatusError:
		// Reachability re-check recovers from a fatal drain.
		m.setStateLocked(State{Status: StatusOnline, Quality: quality, LastSyncedAt: m.state.LastSyncedAt})
		return false

	default:
		if m.state.Quality != quality {
			m.setStateLocked(State{Status: m.state.Status, Quality: quality, LastSyncedAt: m.state.LastSyncedAt})
		}
		return false
	}
}

func gradeQuality(latency time.Duration) Quality {
	switch {
	case latency < 150*time.Millisecond:
		return QualityGood
	case latency < 500*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

// setStateLocked records the transition and queues it for dispatch. The
// channel preserves transition order for subscribers.
func (m *Monitor) setStateLocked(next State) {
	m.state = next
	select {
	case m.events <- next:
	default:
		// Dispatch queue full; drop rather than block a transition. The
		// snapshot endpoint remains the polling fallback.
	}
}

func (m *Monitor) dispatchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case st := <-m.events:
			m.mu.Lock()
			cbs := make([]func(State), 0, len(m.subs))
			for _, cb := range m.subs {
				cbs = append(cbs, cb)
			}
			m.mu.Unlock()
			for _, cb := range cbs {
				cb(st)
			}
		}
	}
}
