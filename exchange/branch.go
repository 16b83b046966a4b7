package exchange

import (
	"encoding/binary"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/particle"
	"github.com/flecsph-go/flecsph/spatialtree"
)

// summaryWireSize is id + position + mass, the {position, mass, owner}
// record of spec.md §4.4.2, extended with the stable id (see the package
// doc's linkage note).
const summaryWireSize = 8 + 3*8 + 8

type summary struct {
	ID   uint64
	Pos  particle.Vec
	Mass float64
}

func marshalSummary(s summary, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], s.ID)
	putFloat(buf[8:16], s.Pos.X)
	putFloat(buf[16:24], s.Pos.Y)
	putFloat(buf[24:32], s.Pos.Z)
	putFloat(buf[32:40], s.Mass)
}

func unmarshalSummary(buf []byte) summary {
	return summary{
		ID:   binary.LittleEndian.Uint64(buf[0:8]),
		Pos:  particle.Vec{X: getFloat(buf[8:16]), Y: getFloat(buf[16:24]), Z: getFloat(buf[24:32])},
		Mass: getFloat(buf[32:40]),
	}
}

// PublishBranches implements spec.md §4.4.2: for every peer, find this
// rank's "mine" particles inside the peer's padded bounding box, pack
// {id, position, mass} summaries, Alltoallv them, and insert the
// received summaries into tree as NONLOCAL particles. Returns the newly
// inserted NONLOCAL entities so the caller can re-run the post-order COM
// traversal including them.
func PublishBranches(comm *mpi.Comm, tree *spatialtree.Tree, arena *particle.Arena, peerBoxes []Box, maxDepth int) []ecs.Entity {
	rank := comm.Rank()
	size := comm.Size()

	sendBufs := make([][]byte, size)
	for peer := 0; peer < size; peer++ {
		if peer == rank {
			continue
		}
		hits := tree.FindInBox(peerBoxes[peer].Min, peerBoxes[peer].Max)
		buf := make([]byte, 0, len(hits)*summaryWireSize)
		for _, e := range hits {
			if !arena.Owner(e).Tag.IsMine() {
				continue
			}
			rec := make([]byte, summaryWireSize)
			marshalSummary(summary{ID: arena.ID(e), Pos: arena.Position(e).V, Mass: arena.SPH(e).Mass}, rec)
			buf = append(buf, rec...)
		}
		sendBufs[peer] = buf
	}

	recvBufs := comm.Alltoallv(sendBufs)

	var inserted []ecs.Entity
	for peer, buf := range recvBufs {
		if peer == rank {
			continue
		}
		for off := 0; off < len(buf); off += summaryWireSize {
			s := unmarshalSummary(buf[off : off+summaryWireSize])
			if _, exists := arena.Lookup(s.ID); exists {
				continue
			}
			e := arena.Spawn(s.ID, particle.Position{V: s.Pos}, particle.Velocity{}, particle.SPHState{Mass: s.Mass}, particle.Owner{Tag: particle.NONLOCAL, Rank: peer})
			tree.Insert(e, maxDepth)
			inserted = append(inserted, e)
		}
	}
	return inserted
}
