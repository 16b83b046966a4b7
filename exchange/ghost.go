package exchange

import (
	"encoding/binary"

	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/internal/mpi"
	"github.com/flecsph-go/flecsph/invariant"
	"github.com/flecsph-go/flecsph/particle"
	"github.com/flecsph-go/flecsph/spatialtree"
)

// bodyWireSize is id + position + velocity + the SPH scalar state, the
// full-kinematic-state ghost payload of spec.md §4.4.3-4.4.4.
const bodyWireSize = 8 + 3*8 + 3*8 + 7*8

func marshalBody(arena *particle.Arena, e ecs.Entity, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], arena.ID(e))
	pos := arena.Position(e).V
	vel := arena.Velocity(e).V
	sph := arena.SPH(e)
	putFloat(buf[8:16], pos.X)
	putFloat(buf[16:24], pos.Y)
	putFloat(buf[24:32], pos.Z)
	putFloat(buf[32:40], vel.X)
	putFloat(buf[40:48], vel.Y)
	putFloat(buf[48:56], vel.Z)
	putFloat(buf[56:64], sph.Density)
	putFloat(buf[64:72], sph.Pressure)
	putFloat(buf[72:80], sph.SoundSpeed)
	putFloat(buf[80:88], sph.InternalEnergy)
	putFloat(buf[88:96], sph.Mass)
	putFloat(buf[96:104], sph.SmoothingLen)
	putFloat(buf[104:112], sph.MaxMu)
}

type ghostBody struct {
	ID  uint64
	Pos particle.Vec
	Vel particle.Vec
	SPH particle.SPHState
}

func unmarshalBody(buf []byte) ghostBody {
	return ghostBody{
		ID:  binary.LittleEndian.Uint64(buf[0:8]),
		Pos: particle.Vec{X: getFloat(buf[8:16]), Y: getFloat(buf[16:24]), Z: getFloat(buf[24:32])},
		Vel: particle.Vec{X: getFloat(buf[32:40]), Y: getFloat(buf[40:48]), Z: getFloat(buf[48:56])},
		SPH: particle.SPHState{
			Density:        getFloat(buf[56:64]),
			Pressure:       getFloat(buf[64:72]),
			SoundSpeed:     getFloat(buf[72:80]),
			InternalEnergy: getFloat(buf[80:88]),
			Mass:           getFloat(buf[88:96]),
			SmoothingLen:   getFloat(buf[96:104]),
			MaxMu:          getFloat(buf[104:112]),
		},
	}
}

// GhostSet holds the enumerated send/receive topology of one branch+ghost
// exchange round (mpi_ghosts_t in the source): which local entities must
// be re-sent to which peer on every Refresh, and how many bodies are
// expected back from each peer.
type GhostSet struct {
	sendPerPeer [][]ecs.Entity
	recvCounts  []int
}

// EnumerateGhosts implements spec.md §4.4.3: for every LOCAL/EXCL/SHARED
// particle p, query the augmented tree (already containing NONLOCAL
// branch summaries from PublishBranches) within radius 2*hMax; any
// non-"mine" neighbor q designates p as a ghost owed to q's owning rank.
// hMax here is this rank's own local maximum smoothing length (the
// REDESIGN FLAGS §9 "2·h_local, not global h_max" padding), so peers can
// scan with different radii and thus disagree on which particles are
// mutual neighbors — recvCounts is therefore not reconstructed from this
// rank's own scan (that guess is provably wrong whenever radii differ
// across ranks) but exchanged directly from each peer's actual send
// count, per spec.md §4.4.3 "Counts exchanged by Alltoall".
func EnumerateGhosts(comm *mpi.Comm, tree *spatialtree.Tree, arena *particle.Arena, entities []ecs.Entity, hMax float64) *GhostSet {
	size := comm.Size()
	sendSeen := make([]map[uint64]struct{}, size)
	sendPerPeer := make([][]ecs.Entity, size)
	for i := range sendSeen {
		sendSeen[i] = make(map[uint64]struct{})
	}

	radius := 2 * hMax
	for _, p := range entities {
		if !arena.Owner(p).Tag.IsMine() {
			continue
		}
		pos := arena.Position(p).V
		neighbors := tree.FindInRadius(pos, radius)
		for _, q := range neighbors {
			owner := arena.Owner(q)
			if owner.Tag.IsMine() {
				continue
			}
			peer := owner.Rank
			pid := arena.ID(p)
			if _, ok := sendSeen[peer][pid]; !ok {
				sendSeen[peer][pid] = struct{}{}
				sendPerPeer[peer] = append(sendPerPeer[peer], p)
			}
		}
	}

	recvCounts := exchangeSendCounts(comm, sendPerPeer)
	return &GhostSet{sendPerPeer: sendPerPeer, recvCounts: recvCounts}
}

// exchangeSendCounts composes an Alltoall of fixed 8-byte int64 payloads
// out of Alltoallv (internal/mpi.Comm has no direct fixed-size Alltoall
// primitive), so each rank learns the real count every peer is about to
// send it instead of inferring it from its own local enumeration.
func exchangeSendCounts(comm *mpi.Comm, sendPerPeer [][]ecs.Entity) []int {
	size := comm.Size()
	sendBufs := make([][]byte, size)
	for peer, list := range sendPerPeer {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(len(list)))
		sendBufs[peer] = buf
	}
	recvBufs := comm.Alltoallv(sendBufs)
	counts := make([]int, size)
	for peer, buf := range recvBufs {
		counts[peer] = int(binary.LittleEndian.Uint64(buf))
	}
	return counts
}

// Refresh implements spec.md §4.4.4: re-marshal the current state of
// every entity in g's send lists, Alltoallv, then overwrite the matching
// GHOST/NONLOCAL entities (found by stable id via arena.Lookup) with the
// arrived state, promoting their locality tag to GHOST.
func (g *GhostSet) Refresh(comm *mpi.Comm, arena *particle.Arena) {
	rank := comm.Rank()
	size := comm.Size()

	sendBufs := make([][]byte, size)
	for peer, list := range g.sendPerPeer {
		buf := make([]byte, len(list)*bodyWireSize)
		for i, e := range list {
			marshalBody(arena, e, buf[i*bodyWireSize:(i+1)*bodyWireSize])
		}
		sendBufs[peer] = buf
	}

	recvBufs := comm.Alltoallv(sendBufs)

	for peer, buf := range recvBufs {
		if peer == rank {
			continue
		}
		n := len(buf) / bodyWireSize
		invariant.Assertf(n == g.recvCounts[peer], invariant.Context{Invariant: "exchange.ghost_recv_count", Rank: rank, Extra: map[string]any{"peer": peer}},
			"received %d ghost bodies from rank %d, enumeration expected %d", n, peer, g.recvCounts[peer])

		for off := 0; off < len(buf); off += bodyWireSize {
			b := unmarshalBody(buf[off : off+bodyWireSize])
			e, ok := arena.Lookup(b.ID)
			invariant.Assertf(ok, invariant.Context{Invariant: "exchange.ghost_linkage", Rank: rank, ParticleID: b.ID, HasParticleID: true},
				"ghost body id %d from rank %d has no matching NONLOCAL placeholder", b.ID, peer)

			arena.Position(e).V = b.Pos
			arena.Velocity(e).V = b.Vel
			*arena.SPH(e) = b.SPH
			arena.Owner(e).Tag = particle.GHOST
			arena.Owner(e).Rank = peer
		}
	}
}
