//go:build !mpi

package mpi

// singleComm is the single-process fallback: every collective degenerates
// to an identity operation since there is exactly one rank to collect
// from. This is what `flecsph` runs under locally and in the test suite
// (no cgo/MPI runtime dependency needed to build or test the package).
type singleComm struct{}

func worldImpl() comm   { return singleComm{} }
func initImpl()         {}
func finalizeImpl()     {}

func (singleComm) rank() int { return 0 }
func (singleComm) size() int { return 1 }
func (singleComm) barrier()  {}
func (singleComm) abort(code int) {
	panic(abortPanic{code: code})
}

func (singleComm) bcastBytes(buf []byte, root int) []byte { return buf }
func (singleComm) bcastInt64(v int64, root int) int64     { return v }

func (singleComm) allreduceFloat64(op Op, in []float64) []float64 {
	out := make([]float64, len(in))
	copy(out, in)
	return out
}

func (singleComm) allreduceInt64(op Op, in []int64) []int64 {
	out := make([]int64, len(in))
	copy(out, in)
	return out
}

func (singleComm) gatherv(send []byte, root int) [][]byte {
	return [][]byte{send}
}

func (singleComm) allgather(send []byte) [][]byte {
	return [][]byte{send}
}

func (singleComm) allgatherInt64(v int64) []int64 {
	return []int64{v}
}

func (singleComm) alltoallv(sendBufs [][]byte) [][]byte {
	if len(sendBufs) == 0 {
		return nil
	}
	return [][]byte{sendBufs[0]}
}

// abortPanic is what singleComm.abort raises; the CLI's top-level recover
// (see cmd/flecsph) turns it into the documented exit code 2 instead of a
// raw stack trace, matching what a real Abort would do on every other rank.
type abortPanic struct{ code int }

// Code returns the exit code the abort was raised with. Exported so a
// recover() outside this package can type-assert on the method rather than
// the unexported type itself.
func (p abortPanic) Code() int { return p.code }
