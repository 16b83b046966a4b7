//go:build mpi

package mpi

/*
#cgo pkg-config: ompi
#include <stdlib.h>
#include <string.h>
#include <mpi.h>
*/
import "C"
import "unsafe"

func opToC(op Op) C.MPI_Op {
	switch op {
	case OpSum:
		return C.MPI_SUM
	case OpMax:
		return C.MPI_MAX
	case OpMin:
		return C.MPI_MIN
	}
	return C.MPI_SUM
}

type mpiComm struct{}

func worldImpl() comm {
	return mpiComm{}
}

func initImpl() {
	C.MPI_Init(nil, nil)
}

func finalizeImpl() {
	C.MPI_Finalize()
}

func (mpiComm) rank() int {
	var r C.int
	C.MPI_Comm_rank(C.MPI_COMM_WORLD, &r)
	return int(r)
}

func (mpiComm) size() int {
	var s C.int
	C.MPI_Comm_size(C.MPI_COMM_WORLD, &s)
	return int(s)
}

func (mpiComm) barrier() {
	C.MPI_Barrier(C.MPI_COMM_WORLD)
}

func (mpiComm) abort(code int) {
	C.MPI_Abort(C.MPI_COMM_WORLD, C.int(code))
}

func (mpiComm) bcastBytes(buf []byte, root int) []byte {
	n := len(buf)
	if n == 0 {
		return buf
	}
	C.MPI_Bcast(unsafe.Pointer(&buf[0]), C.int(n), C.MPI_BYTE, C.int(root), C.MPI_COMM_WORLD)
	return buf
}

func (mpiComm) bcastInt64(v int64, root int) int64 {
	buf := C.longlong(v)
	C.MPI_Bcast(unsafe.Pointer(&buf), 1, C.MPI_LONG_LONG, C.int(root), C.MPI_COMM_WORLD)
	return int64(buf)
}

func (mpiComm) allreduceFloat64(op Op, in []float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	sbuf := make([]C.double, n)
	rbuf := make([]C.double, n)
	for i, v := range in {
		sbuf[i] = C.double(v)
	}
	C.MPI_Allreduce(unsafe.Pointer(&sbuf[0]), unsafe.Pointer(&rbuf[0]), C.int(n), C.MPI_DOUBLE, opToC(op), C.MPI_COMM_WORLD)
	for i := range out {
		out[i] = float64(rbuf[i])
	}
	return out
}

func (mpiComm) allreduceInt64(op Op, in []int64) []int64 {
	n := len(in)
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	sbuf := make([]C.longlong, n)
	rbuf := make([]C.longlong, n)
	for i, v := range in {
		sbuf[i] = C.longlong(v)
	}
	C.MPI_Allreduce(unsafe.Pointer(&sbuf[0]), unsafe.Pointer(&rbuf[0]), C.int(n), C.MPI_LONG_LONG, opToC(op), C.MPI_COMM_WORLD)
	for i := range out {
		out[i] = int64(rbuf[i])
	}
	return out
}

// gatherv first gathers each rank's send length to root, then issues a
// real MPI_Gatherv with the counts/displacements root computed — the
// two-phase pattern mpi_sort_unbalanced and mpi_branches_exchange_useful
// both use for variable-sized payloads.
func (c mpiComm) gatherv(send []byte, root int) [][]byte {
	size := c.size()
	counts := make([]C.int, size)
	myCount := C.int(len(send))
	C.MPI_Gather(unsafe.Pointer(&myCount), 1, C.MPI_INT, unsafe.Pointer(&counts[0]), 1, C.MPI_INT, C.int(root), C.MPI_COMM_WORLD)

	var recvBuf []C.char
	displs := make([]C.int, size)
	if c.rank() == root {
		total := 0
		for i, cnt := range counts {
			displs[i] = C.int(total)
			total += int(cnt)
		}
		if total > 0 {
			recvBuf = make([]C.char, total)
		}
	}

	var sendPtr unsafe.Pointer
	if len(send) > 0 {
		sendPtr = unsafe.Pointer(&send[0])
	}
	var recvPtr unsafe.Pointer
	if len(recvBuf) > 0 {
		recvPtr = unsafe.Pointer(&recvBuf[0])
	}
	C.MPI_Gatherv(sendPtr, C.int(len(send)), C.MPI_BYTE,
		recvPtr, &counts[0], &displs[0], C.MPI_BYTE, C.int(root), C.MPI_COMM_WORLD)

	if c.rank() != root {
		return nil
	}
	out := make([][]byte, size)
	for i, cnt := range counts {
		if cnt == 0 {
			out[i] = nil
			continue
		}
		out[i] = C.GoBytes(unsafe.Pointer(&recvBuf[displs[i]]), cnt)
	}
	return out
}

func (c mpiComm) allgather(send []byte) [][]byte {
	size := c.size()
	counts := make([]C.int, size)
	myCount := C.int(len(send))
	C.MPI_Allgather(unsafe.Pointer(&myCount), 1, C.MPI_INT, unsafe.Pointer(&counts[0]), 1, C.MPI_INT, C.MPI_COMM_WORLD)

	total := 0
	displs := make([]C.int, size)
	for i, cnt := range counts {
		displs[i] = C.int(total)
		total += int(cnt)
	}
	var recvBuf []C.char
	if total > 0 {
		recvBuf = make([]C.char, total)
	}
	var sendPtr unsafe.Pointer
	if len(send) > 0 {
		sendPtr = unsafe.Pointer(&send[0])
	}
	var recvPtr unsafe.Pointer
	if len(recvBuf) > 0 {
		recvPtr = unsafe.Pointer(&recvBuf[0])
	}
	C.MPI_Allgatherv(sendPtr, C.int(len(send)), C.MPI_BYTE,
		recvPtr, &counts[0], &displs[0], C.MPI_BYTE, C.MPI_COMM_WORLD)

	out := make([][]byte, size)
	for i, cnt := range counts {
		if cnt == 0 {
			continue
		}
		out[i] = C.GoBytes(unsafe.Pointer(&recvBuf[displs[i]]), cnt)
	}
	return out
}

func (c mpiComm) allgatherInt64(v int64) []int64 {
	size := c.size()
	sbuf := C.longlong(v)
	rbuf := make([]C.longlong, size)
	C.MPI_Allgather(unsafe.Pointer(&sbuf), 1, C.MPI_LONG_LONG, unsafe.Pointer(&rbuf[0]), 1, C.MPI_LONG_LONG, C.MPI_COMM_WORLD)
	out := make([]int64, size)
	for i, x := range rbuf {
		out[i] = int64(x)
	}
	return out
}

// alltoallv exchanges each rank's per-destination byte payload with every
// other rank via a true MPI_Alltoallv, first exchanging counts with an
// MPI_Alltoall of single ints. This is the core primitive behind both the
// distributed sample-sort shuffle and the ghost/branch exchange.
func (c mpiComm) alltoallv(sendBufs [][]byte) [][]byte {
	size := c.size()
	sendCounts := make([]C.int, size)
	sendDispls := make([]C.int, size)
	total := 0
	for i, b := range sendBufs {
		sendDispls[i] = C.int(total)
		sendCounts[i] = C.int(len(b))
		total += len(b)
	}
	sendFlat := make([]C.char, total)
	for i, b := range sendBufs {
		if len(b) == 0 {
			continue
		}
		C.memcpy(unsafe.Pointer(&sendFlat[sendDispls[i]]), unsafe.Pointer(&b[0]), C.size_t(len(b)))
	}

	recvCounts := make([]C.int, size)
	C.MPI_Alltoall(unsafe.Pointer(&sendCounts[0]), 1, C.MPI_INT, unsafe.Pointer(&recvCounts[0]), 1, C.MPI_INT, C.MPI_COMM_WORLD)

	recvDispls := make([]C.int, size)
	recvTotal := 0
	for i, cnt := range recvCounts {
		recvDispls[i] = C.int(recvTotal)
		recvTotal += int(cnt)
	}
	recvFlat := make([]C.char, recvTotal)

	var sendPtr, recvPtr unsafe.Pointer
	if total > 0 {
		sendPtr = unsafe.Pointer(&sendFlat[0])
	}
	if recvTotal > 0 {
		recvPtr = unsafe.Pointer(&recvFlat[0])
	}
	C.MPI_Alltoallv(sendPtr, &sendCounts[0], &sendDispls[0], C.MPI_BYTE,
		recvPtr, &recvCounts[0], &recvDispls[0], C.MPI_BYTE, C.MPI_COMM_WORLD)

	out := make([][]byte, size)
	for i, cnt := range recvCounts {
		if cnt == 0 {
			continue
		}
		out[i] = C.GoBytes(unsafe.Pointer(&recvFlat[recvDispls[i]]), cnt)
	}
	return out
}
