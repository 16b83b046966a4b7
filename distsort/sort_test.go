package distsort

import (
	"math/rand"
	"testing"

	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
)

func unitRange() morton.Range {
	return morton.Range{Min: [3]float64{0, 0, 0}, Max: [3]float64{1, 1, 1}, Dim: 3}
}

func TestSortSingleRankShortCircuitsToLocalSort(t *testing.T) {
	comm := mpi.World()
	r := unitRange()
	rng := rand.New(rand.NewSource(1))

	arena := particle.NewArena()
	var records []Record
	for i := 0; i < 50; i++ {
		pos := particle.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		e := arena.Spawn(uint64(i), particle.Position{V: pos}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
		key := morton.ToKey(pos.Array(), r, 0)
		records = append(records, Record{Key: key.Bits(), ID: arena.ID(e), Position: pos, SPH: *arena.SPH(e)})
	}

	sorted := Sort(comm, records, 1<<18)

	if len(sorted) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if !less(sorted[i-1], sorted[i]) && sorted[i-1].Key != sorted[i].Key {
			t.Fatalf("sort not monotone at %d: %v then %v", i, sorted[i-1], sorted[i])
		}
	}
}

func TestSpawnIntoRoundTrip(t *testing.T) {
	records := []Record{
		{Key: 5, ID: 1, Position: particle.Vec{X: 0.1, Y: 0.2, Z: 0.3}, SPH: particle.SPHState{Mass: 2}},
		{Key: 7, ID: 2, Position: particle.Vec{X: 0.4, Y: 0.5, Z: 0.6}, SPH: particle.SPHState{Mass: 3}},
	}
	arena := particle.NewArena()
	SpawnInto(arena, records)

	if arena.Count() != 2 {
		t.Fatalf("expected 2 particles, got %d", arena.Count())
	}
	e, ok := arena.Lookup(1)
	if !ok {
		t.Fatal("expected particle id 1 to be present")
	}
	if arena.SPH(e).Mass != 2 {
		t.Errorf("mass = %v, want 2", arena.SPH(e).Mass)
	}
}

func TestBucketizeRespectsSplitters(t *testing.T) {
	records := []Record{
		{Key: 1, ID: 1}, {Key: 5, ID: 2}, {Key: 9, ID: 3}, {Key: 15, ID: 4},
	}
	splitters := []keyID{{Key: 5, ID: 0}, {Key: 10, ID: 0}}
	buckets := bucketize(records, splitters)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if len(buckets[0]) != 1 || buckets[0][0].Key != 1 {
		t.Errorf("bucket 0 = %v, want [key=1]", buckets[0])
	}
	if len(buckets[1]) != 2 {
		t.Errorf("bucket 1 = %v, want 2 records (keys 5,9)", buckets[1])
	}
	if len(buckets[2]) != 1 || buckets[2][0].Key != 15 {
		t.Errorf("bucket 2 = %v, want [key=15]", buckets[2])
	}
}

func TestBucketizeTieBreaksByIDWhenKeysCollide(t *testing.T) {
	records := []Record{
		{Key: 42, ID: 1}, {Key: 42, ID: 2}, {Key: 42, ID: 3}, {Key: 42, ID: 4},
	}
	splitters := []keyID{{Key: 42, ID: 2}, {Key: 42, ID: 4}}
	buckets := bucketize(records, splitters)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if len(buckets[0]) != 1 || buckets[0][0].ID != 1 {
		t.Errorf("bucket 0 = %v, want [id=1]", buckets[0])
	}
	if len(buckets[1]) != 2 {
		t.Errorf("bucket 1 = %v, want 2 records (ids 2,3)", buckets[1])
	}
	if len(buckets[2]) != 1 || buckets[2][0].ID != 4 {
		t.Errorf("bucket 2 = %v, want [id=4]", buckets[2])
	}
}

func TestAssertNoDuplicateKeyIDPassesOnUniqueRecords(t *testing.T) {
	records := []Record{{Key: 1, ID: 1}, {Key: 1, ID: 2}, {Key: 2, ID: 1}}
	assertNoDuplicateKeyID(0, records)
}
