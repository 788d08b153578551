/*
surface.go - Viewing surfaces tracked over HTTP

PURPOSE:
  Implements engine.Viewer for browser clients. Opening a surface hands
  the client a handle and the advertisement URL; the client keeps the
  surface alive by calling POST /api/me/session/heartbeat. A surface whose
  last heartbeat is older than the timeout counts as closed, and the next
  tick abandons the session.

RESTART:
  Surfaces live in memory only. After a restart every stored handle is
  unknown, reads as closed, and the session is abandoned on the first
  tick.

SEE ALSO:
  - engine/viewer.go: Viewer interface
  - scheduler.go: SessionTicker polls IsOpen through Tick
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/task-ledger/engine"
)

var (
	// ErrUnknownSurface is returned when heartbeating a handle that is not open.
	ErrUnknownSurface = errors.New("unknown viewing surface")

	// ErrSurfaceExpired is returned when a heartbeat arrives after the
	// timeout. The surface is forgotten; it cannot be revived.
	ErrSurfaceExpired = errors.New("viewing surface expired")
)

type surface struct {
	url      string
	lastSeen time.Time
}

// SurfaceRegistry tracks open viewing surfaces by heartbeat.
type SurfaceRegistry struct {
	mu       sync.Mutex
	timeout  time.Duration
	now      func() time.Time
	surfaces map[engine.Handle]*surface
}

// NewSurfaceRegistry creates a registry. A surface without a heartbeat
// for longer than timeout is considered closed.
func NewSurfaceRegistry(timeout time.Duration) *SurfaceRegistry {
	return &SurfaceRegistry{
		timeout:  timeout,
		now:      time.Now,
		surfaces: make(map[engine.Handle]*surface),
	}
}

// Open registers a new surface showing url.
func (r *SurfaceRegistry) Open(_ context.Context, url string) (engine.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for h, s := range r.surfaces {
		if r.expired(s, now) {
			delete(r.surfaces, h)
		}
	}

	h := engine.Handle(uuid.NewString())
	r.surfaces[h] = &surface{url: url, lastSeen: now}
	return h, nil
}

// IsOpen reports whether h was heartbeated within the timeout.
func (r *SurfaceRegistry) IsOpen(h engine.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.surfaces[h]
	if !ok {
		return false
	}
	return !r.expired(s, r.now())
}

func (r *SurfaceRegistry) expired(s *surface, now time.Time) bool {
	return now.Sub(s.lastSeen) > r.timeout
}

// Close forgets h. Closing an unknown handle is a no-op.
func (r *SurfaceRegistry) Close(h engine.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.surfaces, h)
}

// Heartbeat marks h as still visible. A heartbeat after the timeout is
// too late: the surface is dropped and ErrSurfaceExpired returned.
func (r *SurfaceRegistry) Heartbeat(h engine.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.surfaces[h]
	if !ok {
		return ErrUnknownSurface
	}
	now := r.now()
	if r.expired(s, now) {
		delete(r.surfaces, h)
		return ErrSurfaceExpired
	}
	s.lastSeen = now
	return nil
}

// URL returns the address shown on h, or "" when h is not open.
func (r *SurfaceRegistry) URL(h engine.Handle) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.surfaces[h]; ok {
		return s.url
	}
	return ""
}

// Len returns the number of tracked surfaces.
func (r *SurfaceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.surfaces)
}

var _ engine.Viewer = (*SurfaceRegistry)(nil)
