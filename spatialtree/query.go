package spatialtree

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
)

// FindInRadius returns every local entity within Euclidean distance r of
// center, using the iterative stack traversal of spec.md §4.2.
func (t *Tree) FindInRadius(center particle.Vec, r float64) []ecs.Entity {
	var out []ecs.Entity
	t.ApplyInRadius(center, r, func(e ecs.Entity) { out = append(out, e) })
	return out
}

// FindInBox returns every local entity inside the axis-aligned box
// [bMin,bMax].
func (t *Tree) FindInBox(bMin, bMax particle.Vec) []ecs.Entity {
	var out []ecs.Entity
	t.ApplyInBox(bMin, bMax, func(e ecs.Entity) { out = append(out, e) })
	return out
}

// ApplyInRadius applies fn to every entity within radius r of center
// without materializing an intermediate container.
func (t *Tree) ApplyInRadius(center particle.Vec, r float64, fn func(ecs.Entity)) {
	dim := t.Policy.Dim
	stack := []*Branch{t.Root()}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !intersectsSphere(b.BMin, b.BMax, center, r, dim) {
			continue
		}
		if b.Leaf {
			for _, e := range b.Particles {
				pos := t.Arena.Position(e).V
				if dist(pos, center, dim) <= r {
					fn(e)
				}
			}
			continue
		}
		nchild := 1 << uint(dim)
		for i := 0; i < nchild; i++ {
			stack = append(stack, t.Child(b, i))
		}
	}
}

// ApplyInBox applies fn to every entity inside [bMin,bMax].
func (t *Tree) ApplyInBox(bMin, bMax particle.Vec, fn func(ecs.Entity)) {
	dim := t.Policy.Dim
	stack := []*Branch{t.Root()}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !intersectsBox(b.BMin, b.BMax, bMin, bMax, dim) {
			continue
		}
		if b.Leaf {
			for _, e := range b.Particles {
				pos := t.Arena.Position(e).V
				if boxContainsPoint(bMin, bMax, pos, dim) {
					fn(e)
				}
			}
			continue
		}
		nchild := 1 << uint(dim)
		for i := 0; i < nchild; i++ {
			stack = append(stack, t.Child(b, i))
		}
	}
}

func boxContainsPoint(bMin, bMax, p particle.Vec, dim int) bool {
	if p.X < bMin.X || p.X > bMax.X {
		return false
	}
	if dim >= 2 && (p.Y < bMin.Y || p.Y > bMax.Y) {
		return false
	}
	if dim >= 3 && (p.Z < bMin.Z || p.Z > bMax.Z) {
		return false
	}
	return true
}

// FindStart walks from the deepest branch containing center up toward
// root, stopping at the first ancestor whose voxel is not fully inside the
// query sphere. This is the recursive-descent-with-early-ancestor-pruning
// strategy of spec.md §4.2: descent from the returned branch need not
// revisit its parent's siblings outside the sphere.
func (t *Tree) FindStart(center particle.Vec, radius float64) *Branch {
	dim := t.Policy.Dim
	bid := morton.ToKey(center.Array(), t.Range, t.maxDepth)
	cur := bid
	var containing *Branch
	for {
		if b, ok := t.lookup(cur); ok {
			containing = b
			break
		}
		if cur.Depth() == 0 {
			return t.Root()
		}
		cur = cur.Pop()
	}
	b := containing
	for b.Depth > 0 {
		parent := t.Get(b.Key.Truncate(b.Depth - 1))
		sphereMin := particle.Vec{X: center.X - radius, Y: center.Y - radius, Z: center.Z - radius}
		sphereMax := particle.Vec{X: center.X + radius, Y: center.Y + radius, Z: center.Z + radius}
		if !insideBox(parent.BMin, parent.BMax, sphereMin, sphereMax, dim) {
			break
		}
		b = parent
	}
	return b
}

// SubCellsIntersecting returns the leaf branches whose bounding box
// intersects c's bounding box — the "interaction list" computation
// sub_cells_inter used by the kernel-sum work-splitting traversal
// (spec.md §4.5).
func (t *Tree) SubCellsIntersecting(c *Branch) []*Branch {
	dim := t.Policy.Dim
	var out []*Branch
	stack := []*Branch{t.Root()}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !intersectsBox(b.BMin, b.BMax, c.BMin, c.BMax, dim) {
			continue
		}
		if b.Leaf {
			out = append(out, b)
			continue
		}
		nchild := 1 << uint(dim)
		for i := 0; i < nchild; i++ {
			stack = append(stack, t.Child(b, i))
		}
	}
	return out
}
