package netmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu      sync.Mutex
	latency time.Duration
	err     error
}

func (p *fakeProber) Probe(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.latency, nil
}

func (p *fakeProber) set(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = latency
	p.err = err
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.states))
	for i, st := range r.states {
		out[i] = st.Status
	}
	return out
}

func newTestMonitor(t *testing.T, prober Prober, debounce time.Duration) *Monitor {
	t.Helper()
	m := NewMonitor(prober, 5*time.Millisecond, debounce)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func waitStatus(t *testing.T, m *Monitor, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.CurrentState().Status == want
	}, 2*time.Second, 2*time.Millisecond)
}

func TestStartsOffline(t *testing.T) {
	m := NewMonitor(&fakeProber{err: errors.New("down")}, time.Hour, time.Hour)
	st := m.CurrentState()
	assert.Equal(t, StatusOffline, st.Status)
	assert.Equal(t, QualityNone, st.Quality)
	assert.Nil(t, st.LastSyncedAt)
}

func TestOnlineTransitionIsDebounced(t *testing.T) {
	prober := &fakeProber{latency: 20 * time.Millisecond}
	m := newTestMonitor(t, prober, 80*time.Millisecond)

	// Reachable, but the debounce window has not elapsed yet.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StatusOffline, m.CurrentState().Status)

	waitStatus(t, m, StatusOnline)
}

func TestFlappingConnectionStaysOffline(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, 60*time.Millisecond)

	// Drop reachability inside the debounce window; the clock restarts.
	time.Sleep(20 * time.Millisecond)
	prober.set(0, errors.New("down"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StatusOffline, m.CurrentState().Status)

	prober.set(10*time.Millisecond, nil)
	waitStatus(t, m, StatusOnline)
}

func TestUnreachableFlipsOffline(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)
	waitStatus(t, m, StatusOnline)

	prober.set(0, errors.New("down"))
	waitStatus(t, m, StatusOffline)
	assert.Equal(t, QualityNone, m.CurrentState().Quality)
}

func TestSyncBracketing(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)
	defer unsubscribe()

	assert.False(t, m.BeginSync(), "cannot sync while offline")

	waitStatus(t, m, StatusOnline)
	require.True(t, m.BeginSync())
	assert.Equal(t, StatusSyncing, m.CurrentState().Status)
	assert.False(t, m.BeginSync(), "already syncing")

	syncedAt := time.Now().UTC()
	m.EndSync(false, syncedAt)

	st := m.CurrentState()
	assert.Equal(t, StatusOnline, st.Status)
	require.NotNil(t, st.LastSyncedAt)
	assert.WithinDuration(t, syncedAt, *st.LastSyncedAt, time.Second)

	// Subscribers saw each transition, in order and uncoalesced.
	require.Eventually(t, func() bool {
		return len(rec.statuses()) >= 3
	}, 2*time.Second, 2*time.Millisecond)
	statuses := rec.statuses()
	assert.Equal(t, []Status{StatusOnline, StatusSyncing, StatusOnline}, statuses[:3])
}

func TestEndSyncFatalLandsInErrorThenRecovers(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)
	waitStatus(t, m, StatusOnline)

	require.True(t, m.BeginSync())
	m.EndSync(true, time.Now().UTC())
	// Probe loop keeps running; a reachable endpoint recovers the state.
	waitStatus(t, m, StatusOnline)
}

func TestEndSyncIgnoredWhenNotSyncing(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)
	waitStatus(t, m, StatusOnline)

	m.EndSync(false, time.Now().UTC())
	st := m.CurrentState()
	assert.Equal(t, StatusOnline, st.Status)
	assert.Nil(t, st.LastSyncedAt, "lastSyncedAt only moves on a real drain")
}

func TestOfflineDuringSyncWins(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)
	waitStatus(t, m, StatusOnline)

	require.True(t, m.BeginSync())
	prober.set(0, errors.New("down"))
	waitStatus(t, m, StatusOffline)

	// The drain settling afterwards must not resurrect Online.
	m.EndSync(false, time.Now().UTC())
	assert.Equal(t, StatusOffline, m.CurrentState().Status)
}

func TestGradeQuality(t *testing.T) {
	assert.Equal(t, QualityGood, gradeQuality(40*time.Millisecond))
	assert.Equal(t, QualityFair, gradeQuality(300*time.Millisecond))
	assert.Equal(t, QualityPoor, gradeQuality(900*time.Millisecond))
}

func TestQualityTracksLatencyWhileOnline(t *testing.T) {
	prober := &fakeProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(t, prober, time.Millisecond)
	waitStatus(t, m, StatusOnline)
	require.Eventually(t, func() bool {
		return m.CurrentState().Quality == QualityGood
	}, 2*time.Second, 2*time.Millisecond)

	prober.set(700*time.Millisecond, nil)
	require.Eventually(t, func() bool {
		return m.CurrentState().Quality == QualityPoor
	}, 2*time.Second, 2*time.Millisecond)
}
