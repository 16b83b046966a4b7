package fmm

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/flecsph-go/flecsph/particle"
)

// Accumulator holds one sink's monopole force/Jacobian/Hessian Taylor
// coefficients (spec.md §4.6 Step 2): the force vector, the 3x3 Jacobian
// of the force field, and the 3x3x3 Hessian, flattened row-major into 27
// entries (H[i*9+j*3+k]).
type Accumulator struct {
	F particle.Vec
	J *mat.Dense // 3x3
	H [27]float64
}

// NewAccumulator allocates a zeroed accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{J: mat.NewDense(3, 3, nil)}
}

// AddMonopole adds the contribution of a point source of sourceMass at
// sourcePos to acc, evaluated at sinkPos. This is computeAcceleration
// from original_source/mpisph/mpi_partition.cc:436-485, with the
// Jacobian kept as-is (it was already correct, expressed via the
// Kronecker delta) and the Hessian rederived directly from the Taylor
// expansion of the 1/r potential: the source's `if (i == j == k)` branch
// is a non-functioning chained comparison (REDESIGN FLAGS §9) and is not
// reproduced here.
func (acc *Accumulator) AddMonopole(sinkPos, sourcePos particle.Vec, sourceMass, softening float64) {
	dx, dy, dz := sinkPos.X-sourcePos.X, sinkPos.Y-sourcePos.Y, sinkPos.Z-sourcePos.Z
	d := [3]float64{dx, dy, dz}
	r2 := dx*dx + dy*dy + dz*dz + softening*softening
	r := math.Sqrt(r2)
	if r == 0 {
		return
	}
	r3 := r2 * r
	r5 := r3 * r2
	r7 := r5 * r2

	fcoef := -sourceMass / r3
	acc.F.X += fcoef * dx
	acc.F.Y += fcoef * dy
	acc.F.Z += fcoef * dz

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			delta := 0.0
			if i == j {
				delta = 1.0
			}
			jij := fcoef * (delta - 3*d[i]*d[j]/r2)
			acc.J.Set(i, j, acc.J.At(i, j)+jij)
		}
	}

	kro := func(a, b int) float64 {
		if a == b {
			return 1
		}
		return 0
	}
	hcoef := 3 * sourceMass / r5
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				sym := kro(i, j)*d[k] + kro(i, k)*d[j] + kro(j, k)*d[i]
				// Multiply the Delta factors in ascending index order so
				// every permutation of (i,j,k) rounds identically.
				lo, mid, hi := i, j, k
				if lo > mid {
					lo, mid = mid, lo
				}
				if mid > hi {
					mid, hi = hi, mid
				}
				if lo > mid {
					lo, mid = mid, lo
				}
				h := hcoef*sym - 15*sourceMass*d[lo]*d[mid]*d[hi]/r7
				acc.H[i*9+j*3+k] += h
			}
		}
	}
}

// Marshal/Unmarshal size: F(3) + J(9) + H(27) float64 entries.
const AccumulatorWireSize = (3 + 9 + 27) * 8

// Marshal packs the accumulator into a fixed-size byte buffer for the
// Alltoallv reduction of spec.md §4.6 Step 3.
func (acc *Accumulator) Marshal(buf []byte) {
	putF(buf[0:8], acc.F.X)
	putF(buf[8:16], acc.F.Y)
	putF(buf[16:24], acc.F.Z)
	off := 24
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			putF(buf[off:off+8], acc.J.At(i, j))
			off += 8
		}
	}
	for _, h := range acc.H {
		putF(buf[off:off+8], h)
		off += 8
	}
}

// UnmarshalAccumulator reads back an accumulator packed by Marshal.
func UnmarshalAccumulator(buf []byte) *Accumulator {
	acc := NewAccumulator()
	acc.F.X = getF(buf[0:8])
	acc.F.Y = getF(buf[8:16])
	acc.F.Z = getF(buf[16:24])
	off := 24
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			acc.J.Set(i, j, getF(buf[off:off+8]))
			off += 8
		}
	}
	for i := range acc.H {
		acc.H[i] = getF(buf[off : off+8])
		off += 8
	}
	return acc
}

// AddInto sums other's contribution into acc, element-wise (the "Sum
// element-wise across the rank dimension" step of spec.md §4.6 Step 3).
func (acc *Accumulator) AddInto(other *Accumulator) {
	acc.F = acc.F.Add(other.F)
	acc.J.Add(acc.J, other.J)
	for i := range acc.H {
		acc.H[i] += other.H[i]
	}
}

// PushDownAt evaluates the Taylor expansion of acc (computed at center)
// for a particle at pos: g = F + J*delta + 1/2 delta^T H delta.
func (acc *Accumulator) PushDownAt(center, pos particle.Vec) particle.Vec {
	delta := [3]float64{pos.X - center.X, pos.Y - center.Y, pos.Z - center.Z}

	g := [3]float64{acc.F.X, acc.F.Y, acc.F.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			g[i] += acc.J.At(i, j) * delta[j]
		}
	}

	var quad [3]float64
	for i := 0; i < 3; i++ {
		var hv float64
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				hv += acc.H[i*9+j*3+k] * delta[j] * delta[k]
			}
		}
		quad[i] = hv
	}
	for i := 0; i < 3; i++ {
		g[i] += 0.5 * quad[i]
	}

	return particle.Vec{X: g[0], Y: g[1], Z: g[2]}
}

func putF(buf []byte, v float64) { binary.LittleEndian.PutUint64(buf, math.Float64bits(v)) }
func getF(buf []byte) float64    { return math.Float64frombits(binary.LittleEndian.Uint64(buf)) }
