package particleio

import (
	"path/filepath"
	"testing"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/particle"
)

func TestWriteThenReadCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "particles.csv")

	records := []Record{
		{ID: 1, X: 0.1, Y: 0.2, Z: 0.3, VX: 1, VY: 0, VZ: 0, Mass: 2, H: 0.05, Rho: 3, P: 4, Cs: 5, U: 6},
		{ID: 2, X: -0.1, Y: 0, Z: 0, Mass: 1, H: 0.05},
	}

	if err := WriteCSV(path, records); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestReadCSVMissingFileErrors(t *testing.T) {
	if _, err := ReadCSV("/nonexistent/path.csv"); err == nil {
		t.Error("expected an error reading a nonexistent file")
	}
}

func TestExtractLocalSkipsNonMineAndSpawnIntoRoundTrips(t *testing.T) {
	arena := particle.NewArena()
	local := arena.Spawn(1, particle.Position{V: particle.Vec{X: 1, Y: 2, Z: 3}}, particle.Velocity{V: particle.Vec{X: 0.1, Y: 0, Z: 0}}, particle.SPHState{Mass: 5, SmoothingLen: 0.2}, particle.Owner{Tag: particle.LOCAL})
	nonlocal := arena.Spawn(2, particle.Position{}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.NONLOCAL, Rank: 1})

	records := ExtractLocal(arena, []ecs.Entity{local, nonlocal})
	if len(records) != 1 {
		t.Fatalf("expected 1 mine particle, got %d", len(records))
	}
	if records[0].ID != 1 || records[0].Mass != 5 {
		t.Errorf("unexpected record: %+v", records[0])
	}

	arena2 := particle.NewArena()
	spawned := SpawnInto(arena2, records)
	if len(spawned) != 1 {
		t.Fatalf("expected 1 spawned entity, got %d", len(spawned))
	}
	if arena2.ID(spawned[0]) != 1 || arena2.SPH(spawned[0]).Mass != 5 {
		t.Errorf("SpawnInto did not round-trip the record")
	}
}
