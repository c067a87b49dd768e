package ingest

import "sync/atomic"

// runGuard admits at most one active run without blocking the enqueuer
type runGuard struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire returns true if the caller now owns the run
func (g *runGuard) TryAcquire() bool {
	return g.state.CompareAndSwap(0, 1)
}

// Release must only be called by the owner
func (g *runGuard) Release() {
	g.state.Store(0)
}

// Held reports whether a run is active
func (g *runGuard) Held() bool {
	return g.state.Load() == 1
}
