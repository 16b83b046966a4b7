package telemetry

import (
	"math"

	"github.com/flecsph-go/flecsph/internal/mpi"
)

// LocalSample is one rank's contribution to a scalar-reduction row: raw
// per-LOCAL-particle values, reduced across every rank by Collector.Flush
// before being written out.
type LocalSample struct {
	Mass           []float64
	VelX, VelY, VelZ []float64
	Density        []float64
	SmoothingLen   []float64
	InternalEnergy []float64
}

// Collector reduces one step's LocalSample across every rank into a
// single global WindowStats row. Unlike the teacher's time-windowed event
// collector, Flush carries no state between calls — the scalar log is a
// per-step global reduction (spec.md §8's mass/momentum conservation
// checks), not an event-rate window.
type Collector struct {
	comm *mpi.Comm
}

// NewCollector binds a Collector to the process's communicator.
func NewCollector(comm *mpi.Comm) *Collector {
	return &Collector{comm: comm}
}

// Flush reduces local across every rank and returns the global WindowStats
// row for the given step. Every rank computes the same global sums; only
// rank 0 need write the row, but the reduction itself is not root-gated.
// The density mean/percentiles and SmoothingLenMean are not reduced: they
// are computed from this rank's local sample only.
func (c *Collector) Flush(step int64, simTime, dt float64, local LocalSample) WindowStats {
	n := int64(len(local.Mass))
	globalN := c.comm.AllreduceInt64(mpi.OpSum, []int64{n})[0]

	var mass, momX, momY, momZ, kinetic, internal, maxSpeed2 float64
	hMin, hMax := math.Inf(1), math.Inf(-1)
	for i, m := range local.Mass {
		mass += m
		momX += m * local.VelX[i]
		momY += m * local.VelY[i]
		momZ += m * local.VelZ[i]
		speed2 := local.VelX[i]*local.VelX[i] + local.VelY[i]*local.VelY[i] + local.VelZ[i]*local.VelZ[i]
		kinetic += 0.5 * m * speed2
		if speed2 > maxSpeed2 {
			maxSpeed2 = speed2
		}
	}
	for i, u := range local.InternalEnergy {
		internal += u * local.Mass[i]
	}
	for _, h := range local.SmoothingLen {
		if h < hMin {
			hMin = h
		}
		if h > hMax {
			hMax = h
		}
	}

	sums := c.comm.AllreduceFloat64(mpi.OpSum, []float64{mass, momX, momY, momZ, kinetic, internal})
	maxSpeed := c.comm.AllreduceFloat64(mpi.OpMax, []float64{maxSpeed2})[0]
	hBounds := c.comm.AllreduceFloat64(mpi.OpMin, []float64{hMin})
	hBoundsMax := c.comm.AllreduceFloat64(mpi.OpMax, []float64{hMax})

	densityMean, densityP10, densityP50, densityP90 := ComputeScalarStats(local.Density)
	_, _, hMean, _ := ComputeScalarStats(local.SmoothingLen)

	return WindowStats{
		Step:             step,
		SimTimeSec:       simTime,
		DT:               dt,
		ParticleCount:    globalN,
		TotalMass:        sums[0],
		MomentumX:        sums[1],
		MomentumY:        sums[2],
		MomentumZ:        sums[3],
		KineticEnergy:    sums[4],
		InternalEnergy:   sums[5],
		TotalEnergy:      sums[4] + sums[5],
		DensityMean:      densityMean,
		DensityP10:       densityP10,
		DensityP50:       densityP50,
		DensityP90:       densityP90,
		SmoothingLenMin:  finiteOr(hBounds[0], 0),
		SmoothingLenMean: hMean,
		SmoothingLenMax:  finiteOr(hBoundsMax[0], 0),
		MaxSpeed:         math.Sqrt(maxSpeed),
	}
}

// finiteOr substitutes fallback when x is +/-Inf — the case where every
// rank's local sample (and therefore the global one) was empty.
func finiteOr(x, fallback float64) float64 {
	if math.IsInf(x, 0) {
		return fallback
	}
	return x
}
