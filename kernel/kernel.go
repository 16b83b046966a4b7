// Package kernel implements the work-splitting neighbor traversal of
// spec.md §4.5: apply_in_smoothinglength calls a user callable exactly
// once per LOCAL particle with its full smoothing-radius neighbor list.
// It is grounded on the teacher's persistent worker-pool dispatch
// pattern (game/parallel.go's per-tick chunked fan-out, generalized into
// taskpool.Pool) applied to spatialtree.SubCellsIntersecting's
// interaction-list computation instead of the teacher's uniform grid.
package kernel

import (
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/particle"
	"github.com/flecsph-go/flecsph/spatialtree"
	"github.com/flecsph-go/flecsph/taskpool"
)

// Callable is the user physics function ef(particle, neighbors) of
// spec.md §4.5. It must be reentrant and write only to particle — the
// traversal calls it concurrently from pool workers with no other
// synchronization.
type Callable func(arena *particle.Arena, p ecs.Entity, neighbors []ecs.Entity)

// workCell is a leaf (or under-populated internal branch, per the
// n_critical criterion) chosen as one unit of dispatch.
type workCell struct {
	branch *spatialtree.Branch
}

// collectWorkCells performs the top-down decomposition of spec.md §4.5:
// push root; pop c; if c is a leaf with sub_entities>0, or c has fewer
// than nCritical sub_entities, treat c as a work cell; otherwise push c's
// non-empty children.
func collectWorkCells(tree *spatialtree.Tree, nCritical int) []workCell {
	var cells []workCell
	stack := []*spatialtree.Branch{tree.Root()}
	dim := tree.Policy.Dim
	nchild := 1 << uint(dim)
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.SubEntities == 0 {
			continue
		}
		if b.Leaf || int(b.SubEntities) < nCritical {
			cells = append(cells, workCell{branch: b})
			continue
		}
		for i := 0; i < nchild; i++ {
			stack = append(stack, tree.Child(b, i))
		}
	}
	return cells
}

// ApplyInSmoothingLength runs ef exactly once for every LOCAL/EXCL/SHARED
// particle in tree, with the neighbor list of every particle within the
// per-pair effective radius max(h_a,h_b)*kernelWidthFactor. tree must
// already carry an up-to-date post-order aggregate (SubEntities) so work
// cells can be selected without a second particle count pass. A neighbor
// in another leaf is found only when the leaf boxes' halo
// (tree.Policy.Epsilon) is at least that effective radius.
func ApplyInSmoothingLength(pool *taskpool.Pool, tree *spatialtree.Tree, arena *particle.Arena, kernelWidthFactor float64, nCritical int, ef Callable) {
	cells := collectWorkCells(tree, nCritical)
	if len(cells) == 0 {
		return
	}

	pool.Run(len(cells), 1, func(start, end int) {
		for i := start; i < end; i++ {
			c := cells[i].branch
			interactionList := tree.SubCellsIntersecting(c)
			members := c.Particles
			if !c.Leaf {
				members = nil
				stack := []*spatialtree.Branch{c}
				for len(stack) > 0 {
					b := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					if b.Leaf {
						members = append(members, b.Particles...)
						continue
					}
					for j := 0; j < 1<<uint(tree.Policy.Dim); j++ {
						stack = append(stack, tree.Child(b, j))
					}
				}
			}
			for _, p := range members {
				if !arena.Owner(p).Tag.IsMine() {
					continue
				}
				var neighbors []ecs.Entity
				pPos := arena.Position(p).V
				pH := arena.SPH(p).SmoothingLen
				for _, leaf := range interactionList {
					for _, q := range leaf.Particles {
						if q == p {
							continue
						}
						qPos := arena.Position(q).V
						qH := arena.SPH(q).SmoothingLen
						radius := maxf(pH, qH) * kernelWidthFactor
						if dist(pPos, qPos) <= radius {
							neighbors = append(neighbors, q)
						}
					}
				}
				ef(arena, p, neighbors)
			}
		}
	})
}

func dist(a, b particle.Vec) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
