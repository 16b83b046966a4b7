// Package invariant provides the fail-fast domain-invariant check used
// throughout the core. A violated invariant logs structured context (rank,
// particle id, the invariant name) via slog and then calls mpi.Abort
// rather than panicking bare — a bare panic on one rank would leave every
// peer blocked inside its next collective forever, per SPEC_FULL.md's
// error-handling contract.
package invariant

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flecsph-go/flecsph/internal/mpi"
)

// Exit code used for an aborted invariant violation, reported to the
// shell once the top-level recover in cmd/flecsph catches the resulting
// abortPanic.
const ExitCode = 2

// Context carries the identifying fields logged alongside a violation.
// Invariant and Rank are always logged; ParticleID only when
// HasParticleID is set; Extra entries as given.
type Context struct {
	Invariant string
	Rank      int
	ParticleID uint64
	HasParticleID bool
	Extra     map[string]any
}

// Assert calls Assertf with no extra formatting.
func Assert(cond bool, ctx Context, msg string) {
	Assertf(cond, ctx, "%s", msg)
}

// Assertf logs and aborts if cond is false. It never returns when cond is
// false: the process that calls it with a failing condition does not
// continue past the call.
func Assertf(cond bool, ctx Context, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)

	attrs := []any{"invariant", ctx.Invariant, "rank", ctx.Rank}
	if ctx.HasParticleID {
		attrs = append(attrs, "particle_id", ctx.ParticleID)
	}
	for k, v := range ctx.Extra {
		attrs = append(attrs, k, v)
	}
	slog.Error("invariant violation: "+msg, attrs...)

	comm := mpi.World()
	comm.Abort(ExitCode)
	// Unreachable under a real MPI build (Abort kills the process); the
	// single-process fallback raises a panic instead, so fall through to
	// a hard exit in case something recovers it before the top-level
	// handler does.
	os.Exit(ExitCode)
}
