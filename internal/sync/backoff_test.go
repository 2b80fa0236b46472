package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffScheduleDoublesUpToCap(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second

	expected := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, backoffSchedule(base, cap, i+1), "attempt %d", i+1)
	}
}

func TestBackoffScheduleClampsLowAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second
	assert.Equal(t, base, backoffSchedule(base, cap, 0))
	assert.Equal(t, base, backoffSchedule(base, cap, -3))
}

func TestBackoffScheduleSurvivesOverflow(t *testing.T) {
	// Enough doublings to overflow int64 without the cap short-circuit.
	got := backoffSchedule(time.Second, 30*time.Second, 80)
	assert.Equal(t, 30*time.Second, got)
}

func TestRetryDelayJitterBounds(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second

	for attempt := 1; attempt <= 8; attempt++ {
		want := backoffSchedule(base, cap, attempt)
		lo := time.Duration(float64(want) * 0.8)
		for i := 0; i < 50; i++ {
			d := retryDelay(base, cap, attempt)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, cap, "attempt %d", attempt)
		}
	}
}

func TestRetryDelayNeverExceedsCap(t *testing.T) {
	// At the cap the +20% side of the jitter must be clamped.
	cap := 4 * time.Second
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, retryDelay(time.Second, cap, 10), cap)
	}
}
