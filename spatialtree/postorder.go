package spatialtree

import "github.com/flecsph-go/flecsph/particle"

// PostOrderTraversal performs the bottom-up COM/bbox aggregation
// (update_branches in the source) in a single depth-first pass. include
// filters which particles contribute to leaf aggregates — the source
// duplicated this routine as update_branches (all particles) and
// update_branches_local (locals only); REDESIGN FLAGS §9 asks for one
// routine parameterized by predicate, which is what `include` is.
//
// Invariant: afterwards, Root().SubEntities equals the number of particles
// for which include returned true, summed over the whole tree.
func (t *Tree) PostOrderTraversal(include func(owner *particle.Owner) bool) {
	t.postOrder(t.Root(), include)
}

func (t *Tree) postOrder(b *Branch, include func(owner *particle.Owner) bool) {
	dim := t.Policy.Dim
	eps := t.Policy.Epsilon

	if b.Leaf {
		var mass float64
		var com particle.Vec
		bmin := particle.Vec{X: posInf, Y: posInf, Z: posInf}
		bmax := particle.Vec{X: negInf, Y: negInf, Z: negInf}
		var n int64
		for _, e := range b.Particles {
			owner := t.Arena.Owner(e)
			if include != nil && !include(owner) {
				continue
			}
			pos := t.Arena.Position(e).V
			m := t.Arena.SPH(e).Mass
			mass += m
			com = com.Add(pos.Scale(m))
			bmin = minVec(bmin, pos)
			bmax = maxVec(bmax, pos)
			n++
		}
		if mass > 0 {
			com = com.Scale(1.0 / mass)
		}
		if n > 0 {
			bmin = particle.Vec{X: bmin.X - eps, Y: bmin.Y - eps, Z: bmin.Z - eps}
			bmax = particle.Vec{X: bmax.X + eps, Y: bmax.Y + eps, Z: bmax.Z + eps}
		} else {
			bmin, bmax = b.BMin, b.BMax
		}
		b.Mass = mass
		b.COM = com
		b.BMin, b.BMax = bmin, bmax
		b.SubEntities = n
		return
	}

	var mass float64
	var com particle.Vec
	bmin := particle.Vec{X: posInf, Y: posInf, Z: posInf}
	bmax := particle.Vec{X: negInf, Y: negInf, Z: negInf}
	var n int64
	nchild := 1 << uint(dim)
	for i := 0; i < nchild; i++ {
		c := t.Child(b, i)
		t.postOrder(c, include)
		if c.SubEntities == 0 {
			continue
		}
		mass += c.Mass
		com = com.Add(c.COM.Scale(c.Mass))
		bmin = minVec(bmin, c.BMin)
		bmax = maxVec(bmax, c.BMax)
		n += c.SubEntities
	}
	if mass > 0 {
		com = com.Scale(1.0 / mass)
	}
	if n == 0 {
		bmin, bmax = b.BMin, b.BMax
	}
	b.Mass = mass
	b.COM = com
	b.BMin, b.BMax = bmin, bmax
	b.SubEntities = n
}

const posInf = 1e300
const negInf = -1e300

func minVec(a, b particle.Vec) particle.Vec {
	return particle.Vec{X: minf(a.X, b.X), Y: minf(a.Y, b.Y), Z: minf(a.Z, b.Z)}
}

func maxVec(a, b particle.Vec) particle.Vec {
	return particle.Vec{X: maxf(a.X, b.X), Y: maxf(a.Y, b.Y), Z: maxf(a.Z, b.Z)}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
