package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(timeout time.Duration) (*SurfaceRegistry, *time.Time) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := NewSurfaceRegistry(timeout)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestSurfaceRegistry_OpenUntilTimeout(t *testing.T) {
	r, now := newTestRegistry(15 * time.Second)

	h, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)
	assert.NotEmpty(t, h)
	assert.Equal(t, "https://ads.example.com/a", r.URL(h))

	*now = now.Add(15 * time.Second)
	assert.True(t, r.IsOpen(h), "exactly at the timeout is still open")

	*now = now.Add(time.Second)
	assert.False(t, r.IsOpen(h))
}

func TestSurfaceRegistry_HeartbeatExtends(t *testing.T) {
	r, now := newTestRegistry(10 * time.Second)
	h, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		*now = now.Add(8 * time.Second)
		require.NoError(t, r.Heartbeat(h))
	}

	assert.True(t, r.IsOpen(h))
}

func TestSurfaceRegistry_CloseAndUnknownHandles(t *testing.T) {
	r, _ := newTestRegistry(10 * time.Second)
	h, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)

	r.Close(h)
	r.Close(h)

	assert.False(t, r.IsOpen(h))
	assert.ErrorIs(t, r.Heartbeat(h), ErrUnknownSurface)
	assert.Empty(t, r.URL(h))
	assert.Equal(t, 0, r.Len())

	// A handle persisted before a restart reads as closed
	assert.False(t, r.IsOpen("handle-from-yesterday"))
}

func TestSurfaceRegistry_HandlesAreUnique(t *testing.T) {
	r, _ := newTestRegistry(10 * time.Second)

	a, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)
	b, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestSurfaceRegistry_ExpiredStaysExpired(t *testing.T) {
	r, now := newTestRegistry(15 * time.Second)
	h, err := r.Open(context.Background(), "https://ads.example.com/a")
	require.NoError(t, err)

	// GIVEN: The client went quiet for longer than the timeout
	*now = now.Add(20 * time.Second)
	require.False(t, r.IsOpen(h))

	// WHEN: A late heartbeat arrives
	err = r.Heartbeat(h)

	// THEN: It is refused and the surface does not come back
	assert.ErrorIs(t, err, ErrSurfaceExpired)
	assert.False(t, r.IsOpen(h))
	assert.ErrorIs(t, r.Heartbeat(h), ErrUnknownSurface)
	assert.Equal(t, 0, r.Len())
}

func TestSurfaceRegistry_OpenDropsExpiredSurfaces(t *testing.T) {
	r, now := newTestRegistry(10 * time.Second)
	_, err := r.Open(context.Background(), "https://ads.example.com/stale")
	require.NoError(t, err)

	*now = now.Add(11 * time.Second)
	fresh, err := r.Open(context.Background(), "https://ads.example.com/fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsOpen(fresh))
}
