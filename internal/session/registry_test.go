package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(idleTimeout time.Duration) *Registry {
	logger := zap.NewNop()
	return NewRegistry(idleTimeout, NewRelay(logger), logger)
}

func TestCreateAllocatesSixCharacterCodes(t *testing.T) {
	reg := newTestRegistry(time.Hour)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s := reg.Create()
		assert.Len(t, s.ID(), 6)
		assert.False(t, seen[s.ID()], "code %q reused", s.ID())
		seen[s.ID()] = true
	}
	assert.Equal(t, 50, reg.Len())
}

func TestGetReturnsNotFoundForUnknownCode(t *testing.T) {
	reg := newTestRegistry(time.Hour)
	_, ok := reg.Get("NOPE42")
	assert.False(t, ok)
}

func TestGetReturnsLiveSession(t *testing.T) {
	reg := newTestRegistry(time.Hour)
	s := reg.Create()

	got, ok := reg.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestSweepBoundary(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(8 * time.Hour)
	reg.now = func() time.Time { return base }

	s := reg.Create()

	reg.Sweep(base.Add(8*time.Hour - time.Second))
	_, ok := reg.Get(s.ID())
	assert.True(t, ok, "session should survive one second before the timeout")

	reg.Sweep(base.Add(8*time.Hour + time.Second))
	_, ok = reg.Get(s.ID())
	assert.False(t, ok, "session should be removed one second past the timeout")
}

func TestSweepTerminatesMemberConnections(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(time.Hour)
	reg.now = func() time.Time { return base }

	s := reg.Create()
	a, b := newFakeConn("a"), newFakeConn("b")
	s.AddClient(a, "ash")
	s.AddClient(b, "brock")

	reg.Sweep(base.Add(2 * time.Hour))

	assert.True(t, a.terminated)
	assert.True(t, b.terminated)
	assert.Equal(t, 0, reg.Len())
}

func TestActivityDefersSweep(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(time.Hour)
	reg.now = func() time.Time { return base }

	s := reg.Create()

	// An event arrives 50 minutes in; the session is then swept 70
	// minutes after creation but only 20 minutes after last activity.
	s.now = func() time.Time { return base.Add(50 * time.Minute) }
	s.Touch()

	reg.Sweep(base.Add(70 * time.Minute))
	_, ok := reg.Get(s.ID())
	assert.True(t, ok)
}

func TestSweeperStartStop(t *testing.T) {
	reg := newTestRegistry(time.Hour)
	sweeper := NewSweeper(reg, 10*time.Millisecond, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- sweeper.Start() }()

	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
