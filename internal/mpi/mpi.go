// Package mpi provides the distributed collective operations the core
// needs: Bcast, Allreduce, Gatherv, Allgather, Alltoallv, Barrier and
// Abort. It is a thin cgo binding to the system MPI library, grounded
// on the minimal wrapper style of other_examples' lanl-find-qubo and
// cogentcore-core MPI files, generalized from their int-only collectives
// to the byte-slice/float64/int64 payloads the core's sort and exchange
// protocols move. A build-tag-selected fallback (comm_single.go, tag
// !mpi) gives single-process semantics for local runs and tests, mirroring
// lanl-find-qubo's paired no-mpi stub file.
package mpi

// Op identifies a reduction operator for Allreduce.
type Op int

const (
	// OpSum reduces by summation.
	OpSum Op = iota
	// OpMax reduces by taking the maximum.
	OpMax
	// OpMin reduces by taking the minimum.
	OpMin
)

// Comm is a communicator: all collectives are methods on it. The !mpi
// build fixes Rank()==0, Size()==1, and turns every collective into a
// local identity/copy, which is exactly the "single-process MPI
// fallback" the core's CLI and test suite run under.
type Comm struct {
	impl comm
}

// World returns the process's MPI_COMM_WORLD-equivalent communicator.
// Init must have been called first.
func World() *Comm { return &Comm{impl: worldImpl()} }

// Init initializes the MPI runtime (a no-op under the !mpi build).
func Init() { initImpl() }

// Finalize shuts down the MPI runtime (a no-op under the !mpi build).
func Finalize() { finalizeImpl() }

// Rank returns this process's rank within the communicator.
func (c *Comm) Rank() int { return c.impl.rank() }

// Size returns the number of ranks in the communicator.
func (c *Comm) Size() int { return c.impl.size() }

// Barrier blocks until every rank in the communicator has called it.
func (c *Comm) Barrier() { c.impl.barrier() }

// Abort terminates every rank in the communicator with the given exit
// code. Domain-invariant violations must route through this (see the
// invariant package) rather than a bare panic, which would leave peers
// blocked in a collective forever.
func (c *Comm) Abort(code int) { c.impl.abort(code) }

// BcastBytes broadcasts buf (sized on entry to the broadcast length) from
// root to every other rank, returning the broadcast payload.
func (c *Comm) BcastBytes(buf []byte, root int) []byte { return c.impl.bcastBytes(buf, root) }

// BcastInt64 broadcasts a single int64 from root to every rank.
func (c *Comm) BcastInt64(v int64, root int) int64 { return c.impl.bcastInt64(v, root) }

// AllreduceFloat64 combines in element-wise across every rank with op,
// returning the combined result on every rank.
func (c *Comm) AllreduceFloat64(op Op, in []float64) []float64 {
	return c.impl.allreduceFloat64(op, in)
}

// AllreduceInt64 is AllreduceFloat64 for int64 payloads.
func (c *Comm) AllreduceInt64(op Op, in []int64) []int64 {
	return c.impl.allreduceInt64(op, in)
}

// Gatherv gathers variable-length byte payloads from every rank to root.
// On non-root ranks the returned slice is nil.
func (c *Comm) Gatherv(send []byte, root int) [][]byte { return c.impl.gatherv(send, root) }

// Allgather gathers a fixed-length byte payload from every rank to every
// rank.
func (c *Comm) Allgather(send []byte) [][]byte { return c.impl.allgather(send) }

// AllgatherInt64 gathers a single int64 from every rank to every rank,
// e.g. for exchanging per-rank particle counts.
func (c *Comm) AllgatherInt64(v int64) []int64 { return c.impl.allgatherInt64(v) }

// Alltoallv exchanges variable-length byte payloads: sendBufs[r] is sent
// to rank r, and the returned slice's r'th element is what rank r sent to
// this rank. Used for both the distributed sample-sort particle shuffle
// (§4.3) and the ghost/branch exchange protocols (§4.4).
func (c *Comm) Alltoallv(sendBufs [][]byte) [][]byte { return c.impl.alltoallv(sendBufs) }

// comm is the interface both build variants implement; Comm forwards to
// whichever is linked in.
type comm interface {
	rank() int
	size() int
	barrier()
	abort(code int)
	bcastBytes(buf []byte, root int) []byte
	bcastInt64(v int64, root int) int64
	allreduceFloat64(op Op, in []float64) []float64
	allreduceInt64(op Op, in []int64) []int64
	gatherv(send []byte, root int) [][]byte
	allgather(send []byte) [][]byte
	allgatherInt64(v int64) []int64
	alltoallv(sendBufs [][]byte) [][]byte
}
