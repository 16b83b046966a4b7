package spatialtree

import (
	"math/rand"
	"testing"

	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
)

func unitRange() morton.Range {
	return morton.Range{Min: [morton.MaxDim]float64{0, 0, 0}, Max: [morton.MaxDim]float64{1, 1, 1}, Dim: 3}
}

func newTestTree(maxLeaf int) (*Tree, *particle.Arena) {
	arena := particle.NewArena()
	policy := Policy{
		Dim:           3,
		MaxLeafSize:   maxLeaf,
		Epsilon:       1e-6,
		ShouldCoarsen: DefaultShouldCoarsen(maxLeaf),
	}
	return New(unitRange(), policy, arena), arena
}

func TestInsertRefine(t *testing.T) {
	tr, arena := newTestTree(4)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		pos := particle.Position{V: particle.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}}
		e := arena.Spawn(uint64(i), pos, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
		tr.Insert(e, 12)
	}
	if tr.Root().Leaf {
		t.Fatalf("expected root to have refined with 50 particles and leaf size 4")
	}
	// Every particle should be reachable via FindInBox over the whole domain.
	all := tr.FindInBox(particle.Vec{X: 0, Y: 0, Z: 0}, particle.Vec{X: 1, Y: 1, Z: 1})
	if len(all) != 50 {
		t.Fatalf("FindInBox over whole domain = %d, want 50", len(all))
	}
}

func TestFindInRadius(t *testing.T) {
	tr, arena := newTestTree(4)
	center := particle.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	near := arena.Spawn(1, particle.Position{V: particle.Vec{X: 0.51, Y: 0.5, Z: 0.5}}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
	far := arena.Spawn(2, particle.Position{V: particle.Vec{X: 0.9, Y: 0.9, Z: 0.9}}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
	tr.Insert(near, 12)
	tr.Insert(far, 12)

	hits := tr.FindInRadius(center, 0.05)
	found := false
	for _, h := range hits {
		if h == near {
			found = true
		}
		if h == far {
			t.Fatalf("far particle should not be within radius 0.05 of center")
		}
	}
	if !found {
		t.Fatalf("near particle should be within radius 0.05 of center")
	}
}

func TestPostOrderIdempotence(t *testing.T) {
	tr, arena := newTestTree(4)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 30; i++ {
		pos := particle.Position{V: particle.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}}
		e := arena.Spawn(uint64(i), pos, particle.Velocity{}, particle.SPHState{Mass: 2}, particle.Owner{Tag: particle.LOCAL})
		tr.Insert(e, 12)
	}
	include := func(o *particle.Owner) bool { return o.Tag.IsMine() }
	tr.PostOrderTraversal(include)
	firstMass, firstCOM, firstN := tr.Root().Mass, tr.Root().COM, tr.Root().SubEntities
	tr.PostOrderTraversal(include)
	if tr.Root().Mass != firstMass || tr.Root().COM != firstCOM || tr.Root().SubEntities != firstN {
		t.Fatalf("post-order traversal is not idempotent on an unchanged tree")
	}
	if firstN != 30 {
		t.Fatalf("root.sub_entities = %d, want 30", firstN)
	}
	if firstMass != 60 {
		t.Fatalf("root.mass = %v, want 60", firstMass)
	}
}

func TestInsertOutsideRangeAsserts(t *testing.T) {
	tr, arena := newTestTree(4)
	e := arena.Spawn(1, particle.Position{V: particle.Vec{X: 2, Y: 2, Z: 2}}, particle.Velocity{}, particle.SPHState{Mass: 1}, particle.Owner{Tag: particle.LOCAL})
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected insert outside range to panic")
		}
	}()
	tr.Insert(e, 12)
}
