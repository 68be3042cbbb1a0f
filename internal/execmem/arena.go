// Package execmem implements the Executable Memory Arena (spec §4.L,
// component L, and the §6 executable-memory platform primitives): the
// only subsystem permitted to allocate pages a Speculation's compiled
// body runs from, enforcing W^X (a page is never simultaneously
// writable and executable) and gating outstanding allocation against a
// configured memory budget (spec §6 `max_memory_mb`).
//
// internal/speculate produces opaque RegionToken values precisely so
// the rest of the core never holds a raw pointer into these pages (spec
// §9 design note); only this package and the platform primitive behind
// it ever dereferences the underlying memory.
//
// Budget accounting is intentionally two-layered: the Scheduler (§4.J)
// gates admission on an *estimated* memory footprint at task-submission
// time, well before any bytes exist, via its own scheduler.BudgetGate
// instance; this Arena separately tracks the *real* page-rounded bytes
// it has actually allocated, released only at FreeExec (which the
// Deoptimization Manager calls long after the Scheduler's own
// reservation was already released at task completion). Both instances
// are sized from the same configured max_memory_mb, but deliberately
// kept as separate counters with separate lifecycles — a coarse
// pre-check and the authoritative real accounting — rather than shared,
// so a double free or a stuck reservation in one layer cannot corrupt
// the other's bookkeeping.
package execmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/octoreflex/aott/internal/scheduler"
)

// PageState is a region's current protection state (spec §7 Fatal
// condition: "writable+executable region observed in the arena" must
// never occur — State is the single source of truth checked before
// every transition).
type PageState uint8

const (
	StateWritable PageState = iota // RW, being filled by the compiler backend
	StateExecutable                // RX, installed in the Dispatch Table
	StateFreed                     // pages released back to the platform
)

func (s PageState) String() string {
	switch s {
	case StateWritable:
		return "RW"
	case StateExecutable:
		return "RX"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

var (
	// ErrBudgetExceeded is returned by AllocExec when admitting size bytes
	// would exceed the arena's configured memory budget (spec §6
	// max_memory_mb, spec §7 "budget exhausted → admission reject").
	ErrBudgetExceeded = errors.New("execmem: allocation would exceed memory budget")

	// ErrInvalidTransition is returned when a caller requests a
	// protection-state transition the region is not currently eligible
	// for (e.g. MakeExecutable on an already-freed region).
	ErrInvalidTransition = errors.New("execmem: invalid page-state transition")

	// ErrUnknownRegion is returned when a RegionToken does not name a
	// live region (already freed, or never allocated by this arena).
	ErrUnknownRegion = errors.New("execmem: unknown region token")
)

// WXViolationError reports the fatal condition of spec §7: an arena
// region was observed (or about to be placed) in a state with both
// write and execute permission. The caller (internal/deopt's fatal path
// and ultimately cmd/aottd) must treat this as a correctness bug and
// abort, never a recoverable error.
type WXViolationError struct {
	Token uint64
	State PageState
}

func (e *WXViolationError) Error() string {
	return fmt.Sprintf("execmem: W^X violation on region %d in state %v", e.Token, e.State)
}

// platform is the backend that actually owns pages: alloc/flip
// protection/free/icache-invalidate (spec §6). Two implementations
// exist: simPlatform (default, portable, used in tests and on
// platforms without a wired mmap backend) and the linux-only
// mmapPlatform in arena_linux.go.
type platform interface {
	allocate(size int) (backing []byte, err error)
	protect(backing []byte, executable bool) error
	release(backing []byte) error
	invalidateICache(backing []byte)
}

// region is one allocated, page-rounded executable-memory region.
type region struct {
	token   uint64
	backing []byte
	size    int // page-rounded size, as reserved against the budget
	state   PageState
}

// Arena is the Executable Memory Arena: the sole allocator of
// executable pages, gated by an executable-memory budget (spec §4.L).
type Arena struct {
	platform   platform
	pageSize   int
	budget     *scheduler.CountingGate
	mu         sync.Mutex
	regions    map[uint64]*region
	nextToken  uint64
}

// New constructs an Arena with the given page-rounding size and total
// executable-memory budget in bytes (spec §6 max_memory_mb, converted
// to bytes by the caller). pageSize must be a positive power of two;
// New falls back to 4096 if pageSize <= 0.
func New(pageSize int, budgetBytes int64) *Arena {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &Arena{
		platform: simPlatform{},
		pageSize: pageSize,
		budget:   scheduler.NewCountingGate(budgetBytes),
		regions:  make(map[uint64]*region),
	}
}

// roundUp rounds size up to the next multiple of the Arena's page size
// (spec §6: "size rounded up to page granularity").
func (a *Arena) roundUp(size int) int {
	if size <= 0 {
		return a.pageSize
	}
	n := (size + a.pageSize - 1) / a.pageSize
	return n * a.pageSize
}

// AllocExec allocates a new page-aligned, initially-writable region of
// at least size bytes (spec §6 alloc_exec). Returns ErrBudgetExceeded
// if the rounded size would exceed the Arena's memory budget.
func (a *Arena) AllocExec(size int) (uint64, error) {
	rounded := a.roundUp(size)
	if !a.budget.Reserve(int64(rounded)) {
		return 0, ErrBudgetExceeded
	}

	backing, err := a.platform.allocate(rounded)
	if err != nil {
		a.budget.Release(int64(rounded))
		return 0, fmt.Errorf("execmem: allocate: %w", err)
	}

	a.mu.Lock()
	a.nextToken++
	token := a.nextToken
	a.regions[token] = &region{token: token, backing: backing, size: rounded, state: StateWritable}
	a.mu.Unlock()

	return token, nil
}

// MakeExecutable transitions a region from RW to RX (spec §6 make_exec).
// This is the only call that may ever place a region in StateExecutable;
// it is illegal to call this on an already-executable or freed region.
func (a *Arena) MakeExecutable(token uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regions[token]
	if !ok {
		return ErrUnknownRegion
	}
	if r.state != StateWritable {
		return ErrInvalidTransition
	}
	if err := a.platform.protect(r.backing, true); err != nil {
		return fmt.Errorf("execmem: protect(RX): %w", err)
	}
	r.state = StateExecutable
	a.platform.invalidateICache(r.backing)
	return nil
}

// MakeWritable transitions a region from RX back to RW, used only
// immediately before FreeExec (spec §6 make_writable: "used only just
// before freeing").
func (a *Arena) MakeWritable(token uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regions[token]
	if !ok {
		return ErrUnknownRegion
	}
	if r.state != StateExecutable {
		return ErrInvalidTransition
	}
	if err := a.platform.protect(r.backing, false); err != nil {
		return fmt.Errorf("execmem: protect(RW): %w", err)
	}
	r.state = StateWritable
	return nil
}

// FreeExec releases a region's pages back to the platform and its
// reservation back to the budget (spec §6 free_exec). The region must
// not currently be executable — callers must MakeWritable first, which
// keeps the W^X invariant checkable at every observable transition
// rather than only at allocation time.
func (a *Arena) FreeExec(token uint64) error {
	a.mu.Lock()
	r, ok := a.regions[token]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownRegion
	}
	if r.state == StateExecutable {
		a.mu.Unlock()
		return &WXViolationError{Token: token, State: r.state}
	}
	delete(a.regions, token)
	a.mu.Unlock()

	if err := a.platform.release(r.backing); err != nil {
		return fmt.Errorf("execmem: release: %w", err)
	}
	r.state = StateFreed
	a.budget.Release(int64(r.size))
	return nil
}

// StateOf reports the current PageState of token, for tests and the
// W^X soundness property (spec §8 property 7).
func (a *Arena) StateOf(token uint64) (PageState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regions[token]
	if !ok {
		return StateFreed, false
	}
	return r.state, true
}

// Backing returns the raw bytes behind token for the compiler backend
// to fill while the region is writable, and for resume_interpreter /
// CompiledBody.EntryOffset addressing once executable. Returns
// ErrUnknownRegion if the token is not live.
func (a *Arena) Backing(token uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regions[token]
	if !ok {
		return nil, ErrUnknownRegion
	}
	return r.backing, nil
}

// Reserved returns the Arena's current outstanding byte reservation —
// the real, page-accounted figure, as distinct from whatever coarser
// estimate the Scheduler's own admission-time BudgetGate is tracking
// (see the package doc note on the two-layer budget split) — exposed as
// a telemetry gauge.
func (a *Arena) Reserved() int64 { return a.budget.Reserved() }
