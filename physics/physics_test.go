package physics

import (
	"math"
	"testing"

	"github.com/flecsph-go/flecsph/particle"
)

func TestGamma1LawEOSComputesIdealGasPressure(t *testing.T) {
	arena := particle.NewArena()
	e := arena.Spawn(1, particle.Position{}, particle.Velocity{}, particle.SPHState{Density: 2, InternalEnergy: 3}, particle.Owner{Tag: particle.LOCAL})

	eos := Gamma1LawEOS(1.4)
	eos(arena, e)

	s := arena.SPH(e)
	wantP := 0.4 * 2 * 3
	if math.Abs(s.Pressure-wantP) > 1e-12 {
		t.Errorf("pressure = %v, want %v", s.Pressure, wantP)
	}
	wantC := math.Sqrt(1.4 * wantP / 2)
	if math.Abs(s.SoundSpeed-wantC) > 1e-12 {
		t.Errorf("soundspeed = %v, want %v", s.SoundSpeed, wantC)
	}
}

func TestLeapfrogKickDriftAdvancesPositionUnderConstantAcceleration(t *testing.T) {
	arena := particle.NewArena()
	e := arena.Spawn(1, particle.Position{}, particle.Velocity{V: particle.Vec{X: 1}}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
	arena.Acceleration(e).V = particle.Vec{X: 2}

	LeapfrogKickDrift(arena, e, 0.1)

	pos := arena.Position(e).V
	// half-kick velocity = 1 + 0.5*2*0.1 = 1.1; drift = 1.1*0.1 = 0.11
	if math.Abs(pos.X-0.11) > 1e-12 {
		t.Errorf("pos.X = %v, want 0.11", pos.X)
	}
	vel := arena.Velocity(e).V
	// full step velocity = half-step velocity + another half-kick = 1.1 + 0.1 = 1.2
	if math.Abs(vel.X-1.2) > 1e-12 {
		t.Errorf("vel.X = %v, want 1.2", vel.X)
	}
}

func TestGamma1LawEOSZeroDensityIsZeroPressure(t *testing.T) {
	arena := particle.NewArena()
	e := arena.Spawn(1, particle.Position{}, particle.Velocity{}, particle.SPHState{Density: 0, InternalEnergy: 5}, particle.Owner{Tag: particle.LOCAL})

	eos := Gamma1LawEOS(1.4)
	eos(arena, e)

	s := arena.SPH(e)
	if s.Pressure != 0 || s.SoundSpeed != 0 {
		t.Errorf("zero-density particle should have zero pressure/soundspeed, got %+v", s)
	}
}
