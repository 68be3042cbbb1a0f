// Package deopt implements the Deoptimization Manager (spec §4.H,
// component H): the on-failure path that turns a Guard Runtime failure
// into a safely-resumed interpreter frame, a de-escalated Dispatch Table
// entry, an updated Guard Model posterior, and a training sample fed
// back to the Benefit Predictor.
//
// The tier de-escalation step is grounded on escalation/state_machine.go's
// Decay() — "drop exactly one severity level, never below the floor" —
// generalized from a fixed severity ladder to the tiered TierLevel
// ladder. The unrecoverable path (no RecoveryPoint covers the failing
// PC) is grounded on cmd/octoreflex/main.go's log.Fatal-on-unrecoverable-
// state idiom, adapted into a returned fatal error rather than an
// in-package process exit, since only the embedding program's main
// package is allowed to decide whether a fatal deopt condition should
// actually terminate the process (spec §7: "DeoptInfo incomplete for
// the current PC is fatal — this must never be reached if the compiler
// backend is correct").
package deopt

import (
	"errors"
	"fmt"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/types"
)

// ErrIncompleteDeoptInfo is returned when no RecoveryPoint covers the
// program counter a guard failed at — a compiler-backend defect, not a
// recoverable runtime condition (spec §7).
var ErrIncompleteDeoptInfo = errors.New("deopt: no recovery point covers the failing program counter")

// FatalError wraps ErrIncompleteDeoptInfo (or another unrecoverable
// defect) with the Speculation and PC it occurred at, so the caller's
// fatal-abort handler (the only place allowed to terminate the process)
// can log a precise diagnosis before exiting.
type FatalError struct {
	SpeculationID types.SpeculationId
	FID           types.FunctionId
	PC            int
	Err           error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("deopt: fatal for speculation %d (fid %d, pc %d): %v", e.SpeculationID, e.FID, e.PC, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Resumption is the recovered interpreter state the caller resumes
// execution from after a deoptimization (spec §4.H step 6).
type Resumption struct {
	RecoveryPoint types.RecoveryPoint
	Locals        map[string]types.StateMapping
}

// ExecReclaimer narrowly exposes the Executable Memory Arena operations
// the Deoptimization Manager needs to reclaim a retired Speculation's
// region (spec §4.H step 4: "restore write permission, drop executable
// permission"), keyed only by the opaque types.CompiledBody.RegionToken
// rather than the full *execmem.Arena, so this package never needs to
// import internal/execmem directly.
type ExecReclaimer interface {
	MakeWritable(token uint64) error
	FreeExec(token uint64) error
}

// Manager coordinates a full deoptimization (spec §4.H).
type Manager struct {
	registry  *registry.Registry
	dispatch  *dispatch.Table
	guards    *guardmodel.Model
	predictor benefit.Predictor
	arena     ExecReclaimer // nil disables region reclamation (e.g. tests with synthetic tokens)

	tierFallback map[types.FunctionId]types.CompiledBody
}

// New constructs a Manager wired to the shared Registry, Dispatch
// Table, Guard Model, and Executable Memory Arena, using predictorName
// to look up the Benefit Predictor plugin to send realized-outcome
// training samples to (falling back to "linear" if predictorName is
// unregistered, mirroring internal/promotion.New's same fallback).
// arena may be nil, in which case retired Speculations' regions are
// never reclaimed (only appropriate for tests that never allocate real
// Arena regions).
func New(reg *registry.Registry, tbl *dispatch.Table, gm *guardmodel.Model, arena ExecReclaimer, predictorName string) *Manager {
	p, ok := benefit.GetPredictor(predictorName)
	if !ok {
		p, _ = benefit.GetPredictor("linear")
	}
	return &Manager{
		registry:     reg,
		dispatch:     tbl,
		guards:       gm,
		predictor:    p,
		arena:        arena,
		tierFallback: make(map[types.FunctionId]types.CompiledBody),
	}
}

// SetInterpreterFallback records the CompiledBody (or zero-value stub
// for a pure-interpreter tier) a FunctionId should de-escalate to when
// no lower-tier compiled body is separately tracked. The Dispatch Table
// itself only ever holds one entry per function, so the Decision Engine
// must supply whatever the "next tier down" body actually is; Manager
// only decides which tier that falls to.
func (m *Manager) SetInterpreterFallback(fid types.FunctionId, body types.CompiledBody) {
	m.tierFallback[fid] = body
}

// HandleGuardFailure runs the full deoptimization sequence for a failed
// guard (spec §4.H steps 1-8):
//  1. locate the RecoveryPoint for the failing PC (fatal if none covers it)
//  2. remove the failing Speculation (and anything that depended on it)
//     from the Registry
//  3. de-escalate the Dispatch Table entry by one tier
//  4. update the Guard Model posterior with a failure observation
//  5. report a Regressive/Poor outcome to the Benefit Predictor
//  6. return the Resumption the caller uses to continue in the
//     interpreter (or a lower compiled tier)
func (m *Manager) HandleGuardFailure(failure types.GuardFailure, guardKind types.GuardKind, dependencyKey *types.DependencyKey) (Resumption, *FatalError) {
	spec, ok := m.registry.Lookup(failure.SpeculationID)
	if !ok {
		// Already removed by a concurrent deoptimization of the same
		// Speculation (e.g. a RemoveDependents sweep from a sibling
		// guard failure); the Dispatch Table was already de-escalated
		// by whichever caller got there first, so there is nothing left
		// to do here.
		return Resumption{}, nil
	}

	rp, ok := spec.Deopt.RecoveryPointFor(failure.State.PC)
	if !ok {
		return Resumption{}, &FatalError{
			SpeculationID: failure.SpeculationID,
			FID:           spec.FID,
			PC:            failure.State.PC,
			Err:           ErrIncompleteDeoptInfo,
		}
	}

	m.retireSpeculation(spec, dependencyKey)
	m.deescalate(spec.FID)
	m.guards.Record(guardKind, false, m.utilizationHint())
	m.reportOutcome(spec, failure)

	return Resumption{RecoveryPoint: rp, Locals: rp.Locals}, nil
}

func (m *Manager) retireSpeculation(spec *types.Speculation, dependencyKey *types.DependencyKey) {
	if dependencyKey != nil {
		m.registry.RemoveDependents(*dependencyKey, m.reclaimRegion)
		return
	}
	m.registry.Remove(spec.ID, m.reclaimRegion)
}

// reclaimRegion frees a retired Speculation's executable-memory region
// back to the Arena (spec §4.H step 4): the region must be dropped from
// executable back to writable before it can be freed, preserving the
// W^X invariant at every observable transition (internal/execmem's own
// doc comment on FreeExec). Runs as the Registry's epoch-reclaimer
// callback, so it only ever fires once no reader can still be executing
// from the region. A zero RegionToken (a pure-interpreter stub body, or
// a test that never allocated a real region) and a nil arena are both
// silently skipped.
func (m *Manager) reclaimRegion(spec *types.Speculation) {
	if m.arena == nil {
		return
	}
	token := spec.Body.RegionToken
	if token == 0 {
		return
	}
	if err := m.arena.MakeWritable(token); err != nil {
		return
	}
	_ = m.arena.FreeExec(token)
}

// deescalate drops the Dispatch Table's installed tier for fid by
// exactly one level, floored at T0 (spec §4.H step 5, grounded on
// escalation.ProcessState.Decay()'s floor-at-zero behavior).
func (m *Manager) deescalate(fid types.FunctionId) {
	current := m.dispatch.Get(fid)
	target := current.Tier
	if target > types.T0 {
		target--
	}
	fallback := m.tierFallback[fid] // zero value is a valid "pure interpreter" body
	m.dispatch.Decay(fid, target, fallback)
}

// reportOutcome sends a realized-Regressive training sample to the
// Benefit Predictor so future EstimatedBenefit predictions for similar
// features account for this failure (spec §4.H step 8, §4.D step 5).
func (m *Manager) reportOutcome(spec *types.Speculation, failure types.GuardFailure) {
	if m.predictor == nil {
		return
	}
	_ = m.predictor.Train(benefit.TrainingSample{
		Features:         deoptFeatures(spec),
		Outcome:          types.OutcomeRegressive,
		ImprovementRatio: -1.0,
	})
}

// deoptFeatures builds an 8-wide feature vector (the same width as
// internal/promotion's buildFeatures) from the failed Speculation's own
// counters: exec count, failure count, benefit estimate, optimization
// kind and guard count, padded with zeros. Its positions do not match
// buildFeatures, which is built from profile counters, so deopt samples
// and promotion samples do not share a feature layout.
func deoptFeatures(spec *types.Speculation) []float64 {
	return []float64{
		float64(spec.ExecCount),
		float64(spec.FailureCount + 1),
		spec.BenefitEstimate,
		float64(spec.Kind),
		float64(len(spec.Guards)),
		0, 0, 0,
	}
}

// utilizationHint is a placeholder resource-utilization signal until
// the Decision Engine wires in the real arena/scheduler occupancy
// reading; 0.5 keeps the Guard Model's clamp control law centered
// rather than biasing the threshold in either direction on every call.
func (m *Manager) utilizationHint() float64 { return 0.5 }

// Event builds the audit record for a completed deoptimization (spec
// §4.H step 7), suitable for the Telemetry and Persistence layers.
func Event(spec types.Speculation, reason types.DeoptReason, failedAssumption types.Assumption, costNs float64) types.DeoptimizationEvent {
	return types.DeoptimizationEvent{
		SpeculationID: spec.ID,
		FID:           spec.FID,
		Reason:        reason,
		Assumption:    failedAssumption,
		DeoptCostNs:   costNs,
		Outcome:       types.OutcomeRegressive,
	}
}
