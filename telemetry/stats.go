package telemetry

import "sort"

// WindowStats holds the scalar-reduction row written once every
// telemetry.scalar_log_interval steps: the conserved quantities and
// smoothing-length/velocity distribution summaries the S1-S6 test
// scenarios check for drift (spec.md §8).
type WindowStats struct {
	Step       int64   `csv:"step"`
	SimTimeSec float64 `csv:"sim_time"`
	DT         float64 `csv:"dt"`

	ParticleCount int64 `csv:"particle_count"`

	TotalMass float64 `csv:"total_mass"`
	MomentumX float64 `csv:"momentum_x"`
	MomentumY float64 `csv:"momentum_y"`
	MomentumZ float64 `csv:"momentum_z"`

	KineticEnergy  float64 `csv:"kinetic_energy"`
	InternalEnergy float64 `csv:"internal_energy"`
	TotalEnergy    float64 `csv:"total_energy"`

	DensityMean float64 `csv:"density_mean"`
	DensityP10  float64 `csv:"density_p10"`
	DensityP50  float64 `csv:"density_p50"`
	DensityP90  float64 `csv:"density_p90"`

	SmoothingLenMin  float64 `csv:"h_min"`
	SmoothingLenMean float64 `csv:"h_mean"`
	SmoothingLenMax  float64 `csv:"h_max"`

	MaxSpeed float64 `csv:"max_speed"`
}

// Percentile calculates the p-th percentile of a sorted slice by linear
// interpolation. p should be in [0, 1]. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeScalarStats calculates the mean and p10/p50/p90 percentiles of
// an unsorted sample, e.g. per-particle density or smoothing length.
func ComputeScalarStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}
