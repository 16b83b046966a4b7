package exchange

import (
	"testing"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/particle"
)

func TestLocalBoundingBoxPadsByHalo(t *testing.T) {
	arena := particle.NewArena()
	e1 := arena.Spawn(1, particle.Position{V: particle.Vec{X: 0, Y: 0, Z: 0}}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
	e2 := arena.Spawn(2, particle.Position{V: particle.Vec{X: 1, Y: 1, Z: 1}}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})

	box := LocalBoundingBox(arena, []ecs.Entity{e1, e2}, 0.1)
	want := Box{Min: particle.Vec{X: -0.1, Y: -0.1, Z: -0.1}, Max: particle.Vec{X: 1.1, Y: 1.1, Z: 1.1}}
	if box != want {
		t.Errorf("LocalBoundingBox = %+v, want %+v", box, want)
	}
}

func TestGlobalHMaxSingleRankIdentity(t *testing.T) {
	comm := mpi.World()
	got := GlobalHMax(comm, 0.5)
	if got != 0.5 {
		t.Errorf("GlobalHMax(single-rank, 0.5) = %v, want 0.5", got)
	}
}

func TestExchangeBoxesSingleRank(t *testing.T) {
	comm := mpi.World()
	local := Box{Min: particle.Vec{X: -1, Y: -1, Z: -1}, Max: particle.Vec{X: 1, Y: 1, Z: 1}}
	boxes := ExchangeBoxes(comm, local)
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box for single rank, got %d", len(boxes))
	}
	if boxes[0] != local {
		t.Errorf("boxes[0] = %v, want %v", boxes[0], local)
	}
}

func TestMarshalSummaryRoundTrip(t *testing.T) {
	s := summary{ID: 42, Pos: particle.Vec{X: 1, Y: 2, Z: 3}, Mass: 5}
	buf := make([]byte, summaryWireSize)
	marshalSummary(s, buf)
	got := unmarshalSummary(buf)
	if got != s {
		t.Errorf("round-trip = %+v, want %+v", got, s)
	}
}

func TestMarshalBodyRoundTrip(t *testing.T) {
	arena := particle.NewArena()
	e := arena.Spawn(7, particle.Position{V: particle.Vec{X: 1, Y: 2, Z: 3}}, particle.Velocity{V: particle.Vec{X: 0.1, Y: 0.2, Z: 0.3}}, particle.SPHState{Mass: 4, Density: 5}, particle.Owner{Tag: particle.LOCAL})

	buf := make([]byte, bodyWireSize)
	marshalBody(arena, e, buf)
	got := unmarshalBody(buf)

	if got.ID != 7 || got.Pos.X != 1 || got.SPH.Mass != 4 || got.SPH.Density != 5 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}
