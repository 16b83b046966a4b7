// Package spatialtree implements the local hashed Morton tree: a hash map
// from branch key to branch, with insert/refine/coarsen and the geometric
// query / traversal operations spec.md §4.2 requires. It replaces the
// source's deeply templated tree policy with a trait record (Policy) per
// REDESIGN FLAGS §9.
package spatialtree

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
)

// Policy is the trait record replacing the source's template parameters:
// dimension, leaf capacity, and the coarsen predicate.
type Policy struct {
	Dim         int
	MaxLeafSize int
	Epsilon     float64 // bbox safety-margin padding applied during COM aggregation

	// ShouldCoarsen reports whether a leaf's parent should be coarsened
	// given the total particle count across the parent's children.
	ShouldCoarsen func(totalChildParticles int) bool
}

// DefaultShouldCoarsen coarsens once the combined children's particle
// count drops to or below half the leaf capacity.
func DefaultShouldCoarsen(maxLeafSize int) func(int) bool {
	threshold := maxLeafSize / 2
	return func(n int) bool { return n <= threshold }
}

// Tree is the rank-local hashed Morton tree. It owns all branches and all
// LOCAL/EXCL/SHARED particles resident in arena; it is rebuilt fresh at
// every simulation step (no incremental reuse across steps, per spec.md
// §3 Lifecycles).
type Tree struct {
	Range  morton.Range
	Policy Policy
	Arena  *particle.Arena

	branches  map[uint64]*Branch
	maxDepth  int
	rootChild int // 2^Dim, cached
}

// New allocates a tree with just a root branch covering the full range.
func New(r morton.Range, policy Policy, arena *particle.Arena) *Tree {
	t := &Tree{
		Range:     r,
		Policy:    policy,
		Arena:     arena,
		branches:  make(map[uint64]*Branch),
		maxDepth:  0,
		rootChild: 1 << uint(policy.Dim),
	}
	root := &Branch{
		Key:   morton.Root(policy.Dim),
		Depth: 0,
		Leaf:  true,
		BMin:  particle.VecFromArray(r.Min),
		BMax:  particle.VecFromArray(r.Max),
	}
	t.branches[root.Key.Bits()] = root
	return t
}

// Root returns the tree's root branch; it always exists.
func (t *Tree) Root() *Branch { return t.branches[morton.Root(t.Policy.Dim).Bits()] }

// Get looks up a branch by key. Lookup of a non-existent key is undefined
// per spec.md §4.2; Get panics on it in every build.
func (t *Tree) Get(k morton.Key) *Branch {
	b, ok := t.branches[k.Bits()]
	if !ok {
		panic(fmt.Sprintf("spatialtree: lookup of non-existent branch key %d", k.Bits()))
	}
	return b
}

func (t *Tree) lookup(k morton.Key) (*Branch, bool) {
	b, ok := t.branches[k.Bits()]
	return b, ok
}

// Child returns the i'th child branch of b (0 <= i < 2^Dim), which must
// exist (b must be non-leaf).
func (t *Tree) Child(b *Branch, i int) *Branch {
	return t.Get(b.Key.Push(uint64(i)))
}

// MaxDepth reports the deepest branch depth currently present.
func (t *Tree) MaxDepth() int { return t.maxDepth }

// Insert places e into the deepest existing branch on the Morton path to
// its key, then executes any action that insertion triggers (refine).
// Insert of a point outside the tree's range is undefined and asserts.
func (t *Tree) Insert(e ecs.Entity, maxDepth int) {
	pos := t.Arena.Position(e).V
	if !t.inRange(pos) {
		panic(fmt.Sprintf("spatialtree: insert of point outside tree range: %v", pos))
	}
	bid := morton.ToKey(pos.Array(), t.Range, maxDepth)

	// Walk up from bid until an existing branch p is found. Because
	// refine always creates all 2^Dim children at once, the first
	// existing branch found walking upward from the deepest key is
	// guaranteed to be a leaf: an internal ancestor would imply its
	// child along bid's path already exists, and that child — being
	// deeper — would have been found first.
	cur := bid
	var p *Branch
	for {
		if b, ok := t.lookup(cur); ok {
			p = b
			break
		}
		if cur.Depth() == 0 {
			p = t.Root()
			break
		}
		cur = cur.Pop()
	}

	p.Particles = append(p.Particles, e)
	p.SubEntities++
	if len(p.Particles) > t.Policy.MaxLeafSize {
		p.Action = ActionRefine
	}
	t.execute(p, maxDepth)
}

func (t *Tree) inRange(p particle.Vec) bool {
	dim := t.Policy.Dim
	if p.X < t.Range.Min[0] || p.X > t.Range.Max[0] {
		return false
	}
	if dim >= 2 && (p.Y < t.Range.Min[1] || p.Y > t.Range.Max[1]) {
		return false
	}
	if dim >= 3 && (p.Z < t.Range.Min[2] || p.Z > t.Range.Max[2]) {
		return false
	}
	return true
}

// execute performs whatever structural action p's Action flag requests.
func (t *Tree) execute(p *Branch, maxDepth int) {
	switch p.Action {
	case ActionRefine:
		t.refine(p, maxDepth)
	case ActionCoarsen:
		t.coarsen(p)
	}
	p.Action = ActionNone
}

// refine splits p into 2^Dim children, redistributing p's particles among
// them, and marks p internal.
func (t *Tree) refine(p *Branch, maxDepth int) {
	dim := t.Policy.Dim
	nchild := 1 << uint(dim)
	children := make([]*Branch, nchild)
	for i := 0; i < nchild; i++ {
		ck := p.Key.Push(uint64(i))
		cb := &Branch{
			Key:   ck,
			Depth: p.Depth + 1,
			Leaf:  true,
			BMin:  childBoxMin(p.BMin, p.BMax, i, dim),
			BMax:  childBoxMax(p.BMin, p.BMax, i, dim),
		}
		t.branches[ck.Bits()] = cb
		children[i] = cb
	}
	if p.Depth+1 > t.maxDepth {
		t.maxDepth = p.Depth + 1
	}

	for _, e := range p.Particles {
		pos := t.Arena.Position(e).V
		bid := morton.ToKey(pos.Array(), t.Range, maxDepth)
		sel := bid.Truncate(p.Depth + 1).ChildIndex()
		c := children[sel]
		c.Particles = append(c.Particles, e)
		c.SubEntities++
	}
	p.Leaf = false
	p.Particles = nil
}

// coarsen reparents every descendant's particles into p and erases the
// descendant branches, marking p a leaf.
func (t *Tree) coarsen(p *Branch) {
	if p.Leaf {
		return
	}
	var gather func(b *Branch)
	gather = func(b *Branch) {
		if b.Leaf {
			p.Particles = append(p.Particles, b.Particles...)
			delete(t.branches, b.Key.Bits())
			return
		}
		nchild := 1 << uint(t.Policy.Dim)
		for i := 0; i < nchild; i++ {
			gather(t.Child(b, i))
		}
		delete(t.branches, b.Key.Bits())
	}
	nchild := 1 << uint(t.Policy.Dim)
	for i := 0; i < nchild; i++ {
		gather(t.Child(p, i))
	}
	p.Leaf = true
}

// Remove detaches e from the leaf branch that owns it (identified by scan
// of its current position's Morton path) and triggers coarsening of the
// parent if the policy's ShouldCoarsen predicate now holds.
func (t *Tree) Remove(e ecs.Entity, maxDepth int) {
	pos := t.Arena.Position(e).V
	bid := morton.ToKey(pos.Array(), t.Range, maxDepth)
	cur := bid
	var leaf *Branch
	for {
		if b, ok := t.lookup(cur); ok && b.Leaf {
			leaf = b
			break
		}
		if cur.Depth() == 0 {
			break
		}
		cur = cur.Pop()
	}
	if leaf == nil {
		return
	}
	for i, pe := range leaf.Particles {
		if pe == e {
			leaf.Particles = append(leaf.Particles[:i], leaf.Particles[i+1:]...)
			leaf.SubEntities--
			break
		}
	}
	if leaf.Depth == 0 {
		return
	}
	parent := t.Get(leaf.Key.Truncate(leaf.Depth - 1))
	total := 0
	nchild := 1 << uint(t.Policy.Dim)
	for i := 0; i < nchild; i++ {
		if c, ok := t.lookup(parent.Key.Push(uint64(i))); ok {
			total += len(c.Particles)
		}
	}
	if t.Policy.ShouldCoarsen != nil && t.Policy.ShouldCoarsen(total) {
		parent.Action = ActionCoarsen
		t.execute(parent, maxDepth)
	}
}

// axisMask returns the bit within a ChildIndex selector that axis a
// (0=X, 1=Y, 2=Z) occupies, matching morton.ToKey's packing: axis 0 is
// shifted in first and lands as the group's high bit.
func axisMask(a, dim int) int {
	return 1 << uint(dim-1-a)
}

func childBoxMin(pMin, pMax particle.Vec, i, dim int) particle.Vec {
	mid := midpoint(pMin, pMax)
	out := pMin
	if i&axisMask(0, dim) != 0 {
		out.X = mid.X
	}
	if dim >= 2 && i&axisMask(1, dim) != 0 {
		out.Y = mid.Y
	}
	if dim >= 3 && i&axisMask(2, dim) != 0 {
		out.Z = mid.Z
	}
	return out
}

func childBoxMax(pMin, pMax particle.Vec, i, dim int) particle.Vec {
	mid := midpoint(pMin, pMax)
	out := pMax
	if i&axisMask(0, dim) == 0 {
		out.X = mid.X
	}
	if dim >= 2 && i&axisMask(1, dim) == 0 {
		out.Y = mid.Y
	}
	if dim >= 3 && i&axisMask(2, dim) == 0 {
		out.Z = mid.Z
	}
	return out
}

func midpoint(a, b particle.Vec) particle.Vec {
	return particle.Vec{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}
