package meeting_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cory-johannsen/sus/internal/game/meeting"
)

func TestDeadlineTimer_Fires(t *testing.T) {
	var called atomic.Int32
	dt := meeting.NewDeadlineTimer(20*time.Millisecond, func() {
		called.Add(1)
	})
	assert.Eventually(t, func() bool { return called.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, dt.Fired())
}

func TestDeadlineTimer_Stop_PreventsCallback(t *testing.T) {
	var called atomic.Int32
	dt := meeting.NewDeadlineTimer(50*time.Millisecond, func() {
		called.Add(1)
	})
	dt.Stop()
	time.Sleep(80 * time.Millisecond)
	if called.Load() != 0 {
		t.Fatalf("expected callback not called, got %d", called.Load())
	}
	assert.False(t, dt.Fired())
}

func TestDeadlineTimer_StopAfterFireIsSafe(t *testing.T) {
	var called atomic.Int32
	dt := meeting.NewDeadlineTimer(5*time.Millisecond, func() {
		called.Add(1)
	})
	assert.Eventually(t, dt.Fired, time.Second, 5*time.Millisecond)
	dt.Stop()
	dt.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), called.Load())
}
