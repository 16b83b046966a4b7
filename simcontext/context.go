// Package simcontext carries the per-step simulation state that the
// source kept in process-wide globals (current dt, iteration counter,
// the MPI communicator, the loaded config) as one explicit value instead
// (REDESIGN FLAGS §9). It is grounded on the teacher's game.Game struct,
// which held tick/dt/rng/world as fields on one driver value rather than
// package-level state, generalized here to the distributed-rank setting.
package simcontext

import (
	"github.com/flecsph-go/flecsph/config"
	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/particle"
	"github.com/flecsph-go/flecsph/spatialtree"
	"github.com/flecsph-go/flecsph/taskpool"
)

// Context is the explicit, passed-by-pointer state every step function
// operates on. Exactly one Context exists per rank process; nothing in
// the core reaches for a package-level global instead of a field here.
type Context struct {
	Comm   *mpi.Comm
	Config *config.Config
	Pool   *taskpool.Pool

	Arena *particle.Arena
	Tree  *spatialtree.Tree

	// Step is the current iteration counter, incremented once per
	// completed step (the source's global `physics::iteration`).
	Step int64

	// Time is the accumulated simulation clock, advanced by DT every
	// step (the source's global `physics::totaltime`).
	Time float64

	// DT is the current step's timestep, recomputed every step by the
	// adaptive-timestep controller (the source's global `physics::dt`).
	DT float64
}

// New builds a fresh Context bound to comm and cfg. The caller supplies
// arena/tree/pool (the pool survives the whole run; cmd/flecsph replaces
// Arena and Tree with fresh ones at every step's distributed-sort
// boundary) — New only wires them together with the per-step scalars at
// their initial values.
func New(comm *mpi.Comm, cfg *config.Config, pool *taskpool.Pool, arena *particle.Arena, tree *spatialtree.Tree) *Context {
	return &Context{
		Comm:   comm,
		Config: cfg,
		Pool:   pool,
		Arena:  arena,
		Tree:   tree,
		DT:     cfg.Timestep.Initial,
	}
}

// Advance commits one completed step: increments Step, advances Time by
// the step's dt, and stores dt as the current DT for callers that read it
// mid-step before the next adaptive-timestep recomputation.
func (c *Context) Advance(dt float64) {
	c.Time += dt
	c.DT = dt
	c.Step++
}

// Rebuild replaces the tree after a distributed-sort migration rebuilds
// the rank-local particle set (spec.md §3 Lifecycles: the tree is rebuilt
// fresh every step, never incrementally reused across a sort boundary).
func (c *Context) Rebuild(tree *spatialtree.Tree) {
	c.Tree = tree
}
