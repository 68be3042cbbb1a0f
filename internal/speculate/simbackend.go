package speculate

import (
	"github.com/octoreflex/aott/internal/execmem"
	"github.com/octoreflex/aott/internal/types"
)

// SimBackend is the portable default compiler Backend: it never
// generates real machine code (spec §6 treats the compiler as an
// external interface the runtime core does not implement), but it does
// exercise the full Arena lifecycle — AllocExec, MakeExecutable — so
// the admission path, budget gating, and W^X bookkeeping all run
// exactly as they would against a real backend. Used for demo/standalone
// operation (cmd/aott-sim) and anywhere no real JIT backend is wired in
// yet; grounded on internal/execmem/sim.go's "portable default backend"
// idiom, applied one layer up at the compiler boundary instead of the
// platform boundary.
type SimBackend struct {
	arena *execmem.Arena
}

// NewSimBackend constructs a SimBackend that allocates its fabricated
// compiled bodies from arena.
func NewSimBackend(arena *execmem.Arena) *SimBackend {
	return &SimBackend{arena: arena}
}

// Compile synthesizes a CompiledBody sized from the request's guard
// prologue plus a fixed placeholder body, and reserves+marks it
// executable in the Arena like a real backend's output would be.
func (b *SimBackend) Compile(req CompileRequest) (types.CompiledBody, error) {
	_, entryOffset := PrologueLayout(req.Guards)
	size := entryOffset + 64 // placeholder body past the prologue

	token, err := b.arena.AllocExec(size)
	if err != nil {
		return types.CompiledBody{}, err
	}
	if err := b.arena.MakeExecutable(token); err != nil {
		return types.CompiledBody{}, err
	}

	return types.CompiledBody{
		RegionToken: token,
		EntryOffset: entryOffset,
		SizeBytes:   size,
	}, nil
}
