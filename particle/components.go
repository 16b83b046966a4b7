// Package particle defines the per-particle data model and the rank-local
// entity arena that owns it. Particles are stored as ECS components on an
// mlange-42/ark world; the arena's ecs.Entity handles are rank-local index
// handles (never carried across ranks), while the stable ID component
// survives distributed-sort migration and ghost/branch export.
package particle

import "github.com/mlange-42/ark/ecs"

// Locality classifies a particle's relationship to the owning rank.
type Locality uint8

const (
	// LOCAL is a particle owned and fully simulated by this rank.
	LOCAL Locality = iota
	// EXCL is a LOCAL particle exclusively in this rank's sub-domain
	// (no peer currently needs it as a ghost).
	EXCL
	// SHARED is a LOCAL particle that is also exported as a ghost to at
	// least one peer.
	SHARED
	// GHOST is a shadow copy of a remote particle, refreshed every substep.
	GHOST
	// NONLOCAL carries only position and mass, sufficient for multipole
	// acceleration but not for SPH kernel sums.
	NONLOCAL
)

func (l Locality) String() string {
	switch l {
	case LOCAL:
		return "LOCAL"
	case EXCL:
		return "EXCL"
	case SHARED:
		return "SHARED"
	case GHOST:
		return "GHOST"
	case NONLOCAL:
		return "NONLOCAL"
	default:
		return "UNKNOWN"
	}
}

// IsMine reports whether l is one of LOCAL/EXCL/SHARED (the locality tags
// the spec calls "mine" — owned, physics-updated particles).
func (l Locality) IsMine() bool {
	return l == LOCAL || l == EXCL || l == SHARED
}

// Vec is a fixed-width Cartesian vector; unused trailing components beyond
// the tree's configured dimension are held at zero.
type Vec struct {
	X, Y, Z float64
}

// Add returns the component-wise sum.
func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns the component-wise difference.
func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v scaled by s.
func (v Vec) Scale(s float64) Vec { return Vec{v.X * s, v.Y * s, v.Z * s} }

// Array returns v as a fixed 3-array, the representation morton.Key expects.
func (v Vec) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// VecFromArray constructs a Vec from a fixed 3-array.
func VecFromArray(a [3]float64) Vec { return Vec{a[0], a[1], a[2]} }

// ID is the stable 64-bit particle identity, unique for the lifetime of the
// run and preserved across distributed-sort migration and ghost import.
type ID struct {
	Value uint64
}

// Position is the particle's Cartesian position.
type Position struct {
	V Vec
}

// Velocity is the particle's current velocity.
type Velocity struct {
	V Vec
}

// HalfStepVelocity is the leap-frog half-step velocity scratch value.
type HalfStepVelocity struct {
	V Vec
}

// Acceleration is the particle's current acceleration (SPH + gravity).
type Acceleration struct {
	V Vec
}

// SPHState holds the physics-owned scalar fields updated by the host's
// equation of state and kernel-sum callables.
type SPHState struct {
	Density        float64
	Pressure       float64
	SoundSpeed     float64
	InternalEnergy float64
	Mass           float64
	SmoothingLen   float64
	MaxMu          float64 // adaptive-timestep scratch (max artificial-viscosity mu)
}

// Owner records locality tag and, for non-LOCAL particles, the rank that
// owns the authoritative copy.
type Owner struct {
	Tag  Locality
	Rank int
}

// GravState holds the gravitational force written by the FMM push-down
// (Step 4, §4.6). The Jacobian/Hessian accumulators live only in
// fmm.Accumulator and are not persisted past one FMM pass.
type GravState struct {
	Force Vec
}

// Arena is the rank-local particle store: an ark ECS world plus the typed
// component mappers/filters used throughout the core. It is the
// index-based replacement for the source's pointer webs (REDESIGN FLAGS
// §9): ecs.Entity is a stable, O(1)-dereferenceable handle for as long as
// this rank's arena lives (one simulation step), while ID.Value is the
// cross-rank-stable identity carried in wire payloads.
type Arena struct {
	World *ecs.World

	ids          *ecs.Map1[ID]
	positions    *ecs.Map1[Position]
	velocities   *ecs.Map1[Velocity]
	halfStep     *ecs.Map1[HalfStepVelocity]
	accelerations *ecs.Map1[Acceleration]
	sph          *ecs.Map1[SPHState]
	mapper       *ecs.Map6[ID, Position, Velocity, HalfStepVelocity, Acceleration, SPHState]
	owners       *ecs.Map1[Owner]
	grav         *ecs.Map1[GravState]

	byID map[uint64]ecs.Entity
}

// NewArena allocates an empty rank-local particle arena.
func NewArena() *Arena {
	world := ecs.NewWorld()
	a := &Arena{
		World:         world,
		ids:           ecs.NewMap1[ID](world),
		positions:     ecs.NewMap1[Position](world),
		velocities:    ecs.NewMap1[Velocity](world),
		halfStep:      ecs.NewMap1[HalfStepVelocity](world),
		accelerations: ecs.NewMap1[Acceleration](world),
		sph:           ecs.NewMap1[SPHState](world),
		mapper:        ecs.NewMap6[ID, Position, Velocity, HalfStepVelocity, Acceleration, SPHState](world),
		owners:        ecs.NewMap1[Owner](world),
		grav:          ecs.NewMap1[GravState](world),
		byID:          make(map[uint64]ecs.Entity),
	}
	return a
}

// Spawn allocates a new particle and appends it to the arena's index
// space, returning a stable rank-local handle. This is make_entity(...)
// from spec.md §4.2.
func (a *Arena) Spawn(id uint64, pos Position, vel Velocity, sph SPHState, owner Owner) ecs.Entity {
	e := a.mapper.NewEntity(&ID{Value: id}, &pos, &vel, &HalfStepVelocity{}, &Acceleration{}, &sph)
	a.owners.Add(e, &owner)
	a.grav.Add(e, &GravState{})
	a.byID[id] = e
	return e
}

// Lookup resolves a stable particle ID to its rank-local handle, or false
// if the particle is not (yet, or any longer) resident in this arena.
func (a *Arena) Lookup(id uint64) (ecs.Entity, bool) {
	e, ok := a.byID[id]
	return e, ok
}

// ID returns the stable identity of a rank-local handle.
func (a *Arena) ID(e ecs.Entity) uint64 { return a.ids.Get(e).Value }

// Position returns a mutable pointer to the entity's position component.
func (a *Arena) Position(e ecs.Entity) *Position { return a.positions.Get(e) }

// Velocity returns a mutable pointer to the entity's velocity component.
func (a *Arena) Velocity(e ecs.Entity) *Velocity { return a.velocities.Get(e) }

// HalfStepVelocity returns a mutable pointer to the entity's leap-frog
// half-step velocity scratch component.
func (a *Arena) HalfStepVelocity(e ecs.Entity) *HalfStepVelocity { return a.halfStep.Get(e) }

// Acceleration returns a mutable pointer to the entity's SPH+gravity
// acceleration accumulator.
func (a *Arena) Acceleration(e ecs.Entity) *Acceleration { return a.accelerations.Get(e) }

// Owner returns a mutable pointer to the entity's locality/owner component.
func (a *Arena) Owner(e ecs.Entity) *Owner { return a.owners.Get(e) }

// SPH returns a mutable pointer to the entity's SPH physics state.
func (a *Arena) SPH(e ecs.Entity) *SPHState { return a.sph.Get(e) }

// Grav returns a mutable pointer to the entity's gravitational accumulator.
func (a *Arena) Grav(e ecs.Entity) *GravState { return a.grav.Get(e) }

// Alive reports whether e still refers to a live particle in this arena.
func (a *Arena) Alive(e ecs.Entity) bool { return a.World.Alive(e) }

// Remove deletes a particle from the arena (used when coarsening drops a
// migrated-away or expired particle).
func (a *Arena) Remove(e ecs.Entity) {
	delete(a.byID, a.ID(e))
	a.mapper.Remove(e)
}

// Count returns the number of live particles in the arena.
func (a *Arena) Count() int { return len(a.byID) }

// All returns every particle currently resident in the arena, regardless of
// locality tag (LOCAL/EXCL/SHARED/GHOST/NONLOCAL). Order is unspecified.
func (a *Arena) All() []ecs.Entity {
	out := make([]ecs.Entity, 0, len(a.byID))
	for _, e := range a.byID {
		out = append(out, e)
	}
	return out
}
