package fmm

import (
	"math"
	"testing"

	"github.com/flecsph-go/flecsph/particle"
)

func TestAddMonopoleForceTowardSource(t *testing.T) {
	acc := NewAccumulator()
	sink := particle.Vec{X: 1, Y: 0, Z: 0}
	source := particle.Vec{X: 0, Y: 0, Z: 0}
	acc.AddMonopole(sink, source, 2.0, 0)

	if acc.F.X >= 0 {
		t.Errorf("force.X = %v, want negative (pulled toward source at origin)", acc.F.X)
	}
	if math.Abs(acc.F.Y) > 1e-12 || math.Abs(acc.F.Z) > 1e-12 {
		t.Errorf("off-axis force should be zero, got %+v", acc.F)
	}

	want := -2.0 / (1.0 * 1.0)
	if math.Abs(acc.F.X-want) > 1e-9 {
		t.Errorf("force.X = %v, want %v", acc.F.X, want)
	}
}

func TestAccumulatorMarshalRoundTrip(t *testing.T) {
	acc := NewAccumulator()
	acc.AddMonopole(particle.Vec{X: 2, Y: 3, Z: -1}, particle.Vec{X: 0, Y: 0, Z: 0}, 5.0, 0.01)

	buf := make([]byte, AccumulatorWireSize)
	acc.Marshal(buf)
	got := UnmarshalAccumulator(buf)

	if got.F != acc.F {
		t.Errorf("F round-trip = %+v, want %+v", got.F, acc.F)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if got.J.At(i, j) != acc.J.At(i, j) {
				t.Errorf("J[%d][%d] round-trip = %v, want %v", i, j, got.J.At(i, j), acc.J.At(i, j))
			}
		}
	}
	for i := range acc.H {
		if got.H[i] != acc.H[i] {
			t.Errorf("H[%d] round-trip = %v, want %v", i, got.H[i], acc.H[i])
		}
	}
}

func TestAddIntoSumsElementwise(t *testing.T) {
	a := NewAccumulator()
	a.AddMonopole(particle.Vec{X: 1}, particle.Vec{}, 1, 0)
	b := NewAccumulator()
	b.AddMonopole(particle.Vec{X: 1}, particle.Vec{}, 1, 0)

	want := a.F.Scale(2)
	a.AddInto(b)
	if a.F != want {
		t.Errorf("summed F = %+v, want %+v", a.F, want)
	}
}

func TestPushDownAtZeroDeltaReturnsForceOnly(t *testing.T) {
	acc := NewAccumulator()
	acc.AddMonopole(particle.Vec{X: 1, Y: 0, Z: 0}, particle.Vec{}, 3, 0)

	g := acc.PushDownAt(particle.Vec{X: 1, Y: 0, Z: 0}, particle.Vec{X: 1, Y: 0, Z: 0})
	if g != acc.F {
		t.Errorf("PushDownAt(center, center) = %+v, want %+v", g, acc.F)
	}
}

// Hessian symmetry: H_ijk must be invariant to any permutation of i,j,k,
// since it is the third derivative of a scalar potential.
func TestHessianIsFullySymmetric(t *testing.T) {
	acc := NewAccumulator()
	acc.AddMonopole(particle.Vec{X: 2, Y: -1, Z: 0.5}, particle.Vec{X: 0.1, Y: 0.2, Z: -0.3}, 4.0, 0.0)

	if acc.H[0*9+1*3+2] != acc.H[0*9+2*3+1] {
		t.Errorf("H_012=%v != H_021=%v", acc.H[0*9+1*3+2], acc.H[0*9+2*3+1])
	}
	if acc.H[0*9+1*3+2] != acc.H[1*9+0*3+2] {
		t.Errorf("H_012=%v != H_102=%v", acc.H[0*9+1*3+2], acc.H[1*9+0*3+2])
	}
	if acc.H[0*9+1*3+2] != acc.H[2*9+1*3+0] {
		t.Errorf("H_012=%v != H_210=%v", acc.H[0*9+1*3+2], acc.H[2*9+1*3+0])
	}
}
