package scheduler

import (
	"sync"
	"sync/atomic"
)

// Gate is the state shared between the orchestrator and its workers: a
// one-shot start barrier, the stopping flag and the worker counters.
//
// The start mutex is held from NewGate until Release; each worker
// acquires and releases it once before entering its loop.
type Gate struct {
	stopping   atomic.Bool
	active     atomic.Int32
	registered atomic.Int32
	start      sync.Mutex
	release    sync.Once
}

func NewGate() *Gate {
	g := &Gate{}
	g.start.Lock()
	return g
}

// Release opens the start barrier. Later calls do nothing.
func (g *Gate) Release() {
	g.release.Do(g.start.Unlock)
}

func (g *Gate) Stop()          { g.stopping.Store(true) }
func (g *Gate) Stopping() bool { return g.stopping.Load() }

// Active is the number of workers that entered and have not exited.
func (g *Gate) Active() int { return int(g.active.Load()) }

// Registered is the number of workers that reached the barrier. It never
// decreases, so a worker exiting early cannot stall the orchestrator.
func (g *Gate) Registered() int { return int(g.registered.Load()) }

func (g *Gate) enter() {
	g.active.Add(1)
	g.registered.Add(1)
	g.start.Lock()
	g.start.Unlock()
}

func (g *Gate) exit() {
	g.active.Add(-1)
}
