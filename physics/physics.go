// Package physics declares the callable contracts the core invokes per
// particle or per neighbor list but never implements itself: equations of
// state, artificial viscosity, and the leap-frog integrator step are all
// problem-specific physics deliberately out of scope (spec.md §1's
// "Deliberately out of scope" list) — this package is the seam, not the
// implementation. It is grounded on
// original_source/include/physics/default_physics.h, which defines the
// exact same functions (compute_density, compute_pressure,
// compute_soundspeed, leapfrog integrators) as free functions taking a
// source body-holder and a neighbor vector; here they become Go function
// types with the same per-particle/per-neighbor-list shape as
// kernel.Callable.
package physics

import (
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/particle"
)

// EOS computes pressure and sound speed for one particle from its current
// density and internal energy, writing the result back onto p. The core
// never calls an EOS itself — it is supplied by the caller's kernel-sum
// callable (see kernel.Callable) and invoked once density is known.
type EOS func(arena *particle.Arena, p ecs.Entity)

// DensityNeighbors computes one particle's density from its neighbor
// list, the shape of compute_density in default_physics.h:58-72: it is a
// kernel.Callable specialization, not a distinct dispatch path.
type DensityNeighbors func(arena *particle.Arena, p ecs.Entity, neighbors []ecs.Entity)

// ArtificialViscosity computes the pairwise viscous pressure term between
// a source particle and one neighbor, consumed while accumulating the
// SPH momentum/energy equations (compute_acceleration in
// default_physics.h uses the same per-pair shape).
type ArtificialViscosity func(arena *particle.Arena, p, neighbor ecs.Entity) float64

// Integrator advances one particle's position/velocity by dt given its
// current acceleration (the leap-frog half-step/full-step update the
// source's integration.h performs). The core calls Integrator once per
// LOCAL particle per step; it never hardcodes a scheme itself.
type Integrator func(arena *particle.Arena, p ecs.Entity, dt float64)

// LeapfrogKickDrift is a kick-drift-kick leap-frog step modeled on the
// source's integration.h: it sets HalfStepVelocity to Velocity plus a
// half-kick from the current acceleration, drifts position by
// dt*HalfStepVelocity, and then applies the second half-kick at once with
// the same acceleration, so Velocity advances by dt*acceleration in total.
// Provided as the one
// concrete Integrator the driver needs to be runnable; a real run is
// expected to supply its own per spec.md §1.
func LeapfrogKickDrift(arena *particle.Arena, p ecs.Entity, dt float64) {
	pos := arena.Position(p)
	vel := arena.Velocity(p)
	half := arena.HalfStepVelocity(p)
	acc := arena.Acceleration(p)

	half.V = vel.V.Add(acc.V.Scale(0.5 * dt))
	pos.V = pos.V.Add(half.V.Scale(dt))
	vel.V = half.V.Add(acc.V.Scale(0.5 * dt))
}

// Gamma1LawEOS is the textbook ideal-gas closure pressure = (gamma-1) *
// density * internal_energy, soundspeed = sqrt(gamma * pressure /
// density) — provided as the one concrete EOS so the core is runnable
// out of the box without a caller-supplied plugin; any real run is
// expected to supply its own per spec.md §1.
func Gamma1LawEOS(gamma float64) EOS {
	return func(arena *particle.Arena, p ecs.Entity) {
		s := arena.SPH(p)
		if s.Density <= 0 {
			s.Pressure = 0
			s.SoundSpeed = 0
			return
		}
		s.Pressure = (gamma - 1) * s.Density * s.InternalEnergy
		if s.Pressure < 0 {
			s.Pressure = 0
		}
		s.SoundSpeed = math.Sqrt(gamma * s.Pressure / s.Density)
	}
}
