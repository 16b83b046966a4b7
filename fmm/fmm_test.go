package fmm

import (
	"testing"

	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
	"github.com/flecsph-go/flecsph/spatialtree"
)

func buildCluster(t *testing.T, n int, spacing float64) (*spatialtree.Tree, *particle.Arena) {
	arena := particle.NewArena()
	r := morton.Range{Min: [3]float64{0, 0, 0}, Max: [3]float64{float64(n) * spacing, float64(n) * spacing, float64(n) * spacing}, Dim: 3}
	tree := spatialtree.New(r, spatialtree.Policy{Dim: 3, MaxLeafSize: 4, Epsilon: 1e-9}, arena)

	id := uint64(0)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				pos := particle.Vec{X: float64(i) * spacing, Y: float64(j) * spacing, Z: float64(k) * spacing}
				e := arena.Spawn(id, particle.Position{V: pos}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
				tree.Insert(e, 12)
				id++
			}
		}
	}
	tree.PostOrderTraversal(func(o *particle.Owner) bool { return o.Tag.IsMine() })
	return tree, arena
}

func TestCollectLocalSinksCoversEveryParticle(t *testing.T) {
	tree, _ := buildCluster(t, 4, 1.0)
	sinks, byKey := CollectLocalSinks(0, tree, 0.5) // mass-1 particles never satisfy <=0.5, so only leaves qualify

	var total float64
	for _, s := range sinks {
		total += s.Mass
	}
	if total != 64 {
		t.Errorf("sum of sink masses = %v, want 64", total)
	}
	if len(byKey) != len(sinks) {
		t.Errorf("byKey has %d entries, want %d", len(byKey), len(sinks))
	}
}

func TestPublishSinksSingleRankIdentity(t *testing.T) {
	comm := mpi.World()
	local := []Sink{{ID: SinkID{Owner: 0, Key: 7}, Center: particle.Vec{X: 1, Y: 2, Z: 3}, Mass: 4}}
	got := PublishSinks(comm, local)
	if len(got) != 1 || got[0] != local[0] {
		t.Errorf("PublishSinks(single-rank) = %+v, want %+v", got, local)
	}
}

func TestLocalContributionSkipsSinksOwnBox(t *testing.T) {
	tree, _ := buildCluster(t, 4, 1.0)
	sinks, _ := CollectLocalSinks(0, tree, 0.5)

	// A sink whose box is the entire domain should receive zero
	// contribution: every branch is "inside" it, so contribute() returns
	// immediately without ever reaching a leaf.
	whole := Sink{ID: SinkID{Owner: 0, Key: 999}, Center: particle.Vec{X: 1.5, Y: 1.5, Z: 1.5}, Mass: 64, BMin: particle.Vec{X: -10, Y: -10, Z: -10}, BMax: particle.Vec{X: 10, Y: 10, Z: 10}}
	contributions := LocalContribution(tree, []Sink{whole}, 0.5, 0.0)
	if contributions[0].F != (particle.Vec{}) {
		t.Errorf("contribution to a sink covering the whole domain = %+v, want zero", contributions[0].F)
	}

	if len(sinks) == 0 {
		t.Fatal("expected at least one sink from CollectLocalSinks")
	}
}

func TestReduceFoldsOwnRankContributionWithoutNetworkRoundTrip(t *testing.T) {
	comm := mpi.World()
	sinkA := Sink{ID: SinkID{Owner: 0, Key: 1}, Center: particle.Vec{X: 0, Y: 0, Z: 0}, Mass: 1}
	contribA := NewAccumulator()
	contribA.AddMonopole(sinkA.Center, particle.Vec{X: 5, Y: 0, Z: 0}, 2, 0)

	reduced := Reduce(comm, []Sink{sinkA}, []*Accumulator{contribA}, []Sink{sinkA})
	if len(reduced) != 1 {
		t.Fatalf("expected 1 reduced accumulator, got %d", len(reduced))
	}
	if reduced[0].F != contribA.F {
		t.Errorf("reduced.F = %+v, want %+v (single rank: no peer contributions to add)", reduced[0].F, contribA.F)
	}
}

func TestPushDownAccumulatesIntoGravForce(t *testing.T) {
	tree, arena := buildCluster(t, 2, 1.0)
	sinks, byKey := CollectLocalSinks(0, tree, 100) // mass threshold high enough the root itself qualifies
	if len(sinks) == 0 {
		t.Fatal("expected at least one sink")
	}

	acc := NewAccumulator()
	reduced := make([]*Accumulator, len(sinks))
	for i := range reduced {
		reduced[i] = acc
	}

	PushDown(tree, sinks, byKey, reduced, 0.0)

	// Direct-sum near-field between the 8 mutually attracting particles
	// must leave every particle's Grav().Force nonzero.
	id := uint64(0)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				e, ok := arena.Lookup(id)
				if !ok {
					t.Fatalf("particle %d missing from arena", id)
				}
				f := arena.Grav(e).Force
				if f.X == 0 && f.Y == 0 && f.Z == 0 {
					t.Errorf("particle %d has zero gravitational force after push-down", id)
				}
				id++
			}
		}
	}
}
