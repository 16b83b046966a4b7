package spatialtree

import (
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/morton"
	"github.com/flecsph-go/flecsph/particle"
)

// Action is a leaf's pending structural request, decided during insert or
// remove and executed immediately by the caller that observed it.
type Action uint8

const (
	// ActionNone means the branch needs no structural change.
	ActionNone Action = iota
	// ActionRefine means the leaf holds more particles than the policy
	// allows and must be split into 2^Dim children.
	ActionRefine
	// ActionCoarsen means a leaf's siblings collectively hold few enough
	// particles that they should be merged back into their parent.
	ActionCoarsen
)

// Branch is one tree node: a Morton-prefix-keyed region of space. If Leaf
// is true it directly owns a list of rank-local particle handles;
// otherwise its 2^Dim children are looked up by pushing each child
// selector onto Key.
type Branch struct {
	Key   morton.Key
	Depth int
	Leaf  bool

	Mass float64
	COM  particle.Vec

	BMin, BMax particle.Vec

	// SubEntities counts every particle contributing to this branch's
	// aggregate, including NONLOCAL summaries imported from peers.
	SubEntities int64

	// Particles holds this branch's directly-owned handles; populated
	// only when Leaf is true.
	Particles []ecs.Entity

	Action Action
}

// boxContains reports whether p lies within [BMin, BMax] (inclusive).
func (b *Branch) boxContains(p particle.Vec, dim int) bool {
	if p.X < b.BMin.X || p.X > b.BMax.X {
		return false
	}
	if dim >= 2 && (p.Y < b.BMin.Y || p.Y > b.BMax.Y) {
		return false
	}
	if dim >= 3 && (p.Z < b.BMin.Z || p.Z > b.BMax.Z) {
		return false
	}
	return true
}

// intersectsBox is the standard separating-axis test for two axis-aligned
// boxes.
func intersectsBox(aMin, aMax, bMin, bMax particle.Vec, dim int) bool {
	if aMax.X < bMin.X || aMin.X > bMax.X {
		return false
	}
	if dim >= 2 && (aMax.Y < bMin.Y || aMin.Y > bMax.Y) {
		return false
	}
	if dim >= 3 && (aMax.Z < bMin.Z || aMin.Z > bMax.Z) {
		return false
	}
	return true
}

// intersectsSphere reports whether a box intersects a sphere of the given
// center and radius (closest-point-on-box distance test).
func intersectsSphere(bMin, bMax, center particle.Vec, radius float64, dim int) bool {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	cx := clamp(center.X, bMin.X, bMax.X)
	dx := cx - center.X
	dist2 := dx * dx
	if dim >= 2 {
		cy := clamp(center.Y, bMin.Y, bMax.Y)
		dy := cy - center.Y
		dist2 += dy * dy
	}
	if dim >= 3 {
		cz := clamp(center.Z, bMin.Z, bMax.Z)
		dz := cz - center.Z
		dist2 += dz * dz
	}
	return dist2 <= radius*radius
}

// insideBox reports whether the box [bMin,bMax] is fully inside [oMin,oMax].
func insideBox(bMin, bMax, oMin, oMax particle.Vec, dim int) bool {
	if bMin.X < oMin.X || bMax.X > oMax.X {
		return false
	}
	if dim >= 2 && (bMin.Y < oMin.Y || bMax.Y > oMax.Y) {
		return false
	}
	if dim >= 3 && (bMin.Z < oMin.Z || bMax.Z > oMax.Z) {
		return false
	}
	return true
}

// sameBox reports exact bounding-box equality.
func sameBox(aMin, aMax, bMin, bMax particle.Vec) bool {
	return aMin == bMin && aMax == bMax
}

// diag returns the Euclidean diagonal length of [bMin,bMax] restricted to
// dim components. The FMM Multipole Acceptance Criterion does not call
// it; package fmm computes its own box diagonal.
func diag(bMin, bMax particle.Vec, dim int) float64 {
	dx := bMax.X - bMin.X
	sum := dx * dx
	if dim >= 2 {
		dy := bMax.Y - bMin.Y
		sum += dy * dy
	}
	if dim >= 3 {
		dz := bMax.Z - bMin.Z
		sum += dz * dz
	}
	return math.Sqrt(sum)
}

func dist(a, b particle.Vec, dim int) float64 {
	dx := a.X - b.X
	sum := dx * dx
	if dim >= 2 {
		dy := a.Y - b.Y
		sum += dy * dy
	}
	if dim >= 3 {
		dz := a.Z - b.Z
		sum += dz * dz
	}
	return math.Sqrt(sum)
}
