package engine

import "context"

// Viewer is the surface that displays a task's content.
// The session controller polls IsOpen on every tick; a closed surface
// cancels the session.
type Viewer interface {
	Open(ctx context.Context, url string) (Handle, error)
	IsOpen(h Handle) bool
	Close(h Handle)
}

// AlwaysOpenViewer never closes early. Useful for headless callers that
// only model elapsed time.
type AlwaysOpenViewer struct{}

func (AlwaysOpenViewer) Open(context.Context, string) (Handle, error) { return "", nil }
func (AlwaysOpenViewer) IsOpen(Handle) bool                            { return true }
func (AlwaysOpenViewer) Close(Handle)                                  {}
