// Package main — cmd/aott-bench/main.go
//
// Deoptimization containment latency benchmark.
//
// Measures the wall-clock time from a guard failure being handed to the
// Deoptimization Manager to the moment containment is complete: the
// failing Speculation is retired from the Registry, the Dispatch Table
// entry is de-escalated by one tier, and the Guard Model posterior has
// been updated (spec §4.H steps 2-4). This is the runtime-core analog
// of "how fast can a misspeculation be contained" — the adaptive-tiering
// equivalent of the teacher benchmark's syscall-to-containment latency.
//
// Method:
//  1. For each iteration, install a fresh Speculation at tier T1 for a
//     synthetic FunctionId and insert it into the Registry.
//  2. Measure the wall-clock duration of a single HandleGuardFailure
//     call using time.Now() immediately before and after (mirrors the
//     teacher's clock_gettime bracketing of the blocking syscall).
//  3. Confirm containment actually happened: the Dispatch Table entry
//     must have moved back to T0 and the Speculation must no longer be
//     in the Registry.
//
// Measurement excludes Go runtime scheduling jitter as far as possible
// via runtime.LockOSThread(); it does not exclude GC pauses, since a
// production deoptimization path is not GC-exempt either.
//
// Output CSV columns: iteration, latency_ns, contained (true/false).
//
// Usage:
//
//	aott-bench [flags]
//	aott-bench -iterations 50000 -output deopt_latency.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/octoreflex/aott/internal/deopt"
	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/execmem"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/speculate"
	"github.com/octoreflex/aott/internal/types"
)

func main() {
	iterations := flag.Int("iterations", 50000, "Number of deoptimizations to measure")
	outputFile := flag.String("output", "deopt_latency.csv", "Output CSV file path")
	targetP99Us := flag.Int("target-p99-us", 50, "p99 containment latency target, in microseconds")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_ns", "contained"})

	reg := registry.New()
	tbl := dispatch.New()
	guards := guardmodel.New()
	arena := execmem.New(4096, 256*1024*1024)
	mgr := deopt.New(reg, tbl, guards, arena, "linear")

	var (
		totalContained int
		histUs         [10001]int // 0-10000us buckets, same shape as the teacher's p50Bucket
	)

	for i := 0; i < *iterations; i++ {
		fid := types.FunctionId(i + 1)
		spec := newSyntheticSpeculation(arena, fid, types.SpeculationId(i+1))
		reg.Insert(spec)
		tbl.Install(types.DispatchEntry{
			FID: fid, Tier: types.T1, SpeculationID: spec.ID, HasSpec: true, Body: spec.Body,
		})

		failure := types.GuardFailure{
			SpeculationID:    spec.ID,
			FailedAssumption: spec.Assumption,
			State:            types.ExecutionState{FID: fid, SpeculationID: spec.ID, PC: 0},
		}

		start := time.Now()
		_, fatal := mgr.HandleGuardFailure(failure, types.GuardTypeCheck, nil)
		latency := time.Since(start)

		contained := fatal == nil && tbl.Get(fid).Tier < types.T1
		if contained {
			totalContained++
		}

		latencyNs := latency.Nanoseconds()
		latencyUs := int(latency.Microseconds())
		if latencyUs < len(histUs) {
			histUs[latencyUs]++
		}

		// Drive the Registry's epoch reclaimer so the retired
		// Speculation's Arena region is actually freed each iteration;
		// otherwise 50000 allocated regions would exhaust the Arena's
		// budget long before the benchmark finishes.
		reg.Advance()

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.FormatInt(latencyNs, 10),
			strconv.FormatBool(contained),
		})
	}

	p50, p95, p99 := computePercentiles(histUs[:], *iterations)

	fmt.Printf("Deoptimization Containment Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Contained: %d/%d (%.1f%%)\n", totalContained, *iterations,
		float64(totalContained)/float64(*iterations)*100)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > *targetP99Us {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds %dus target\n", p99, *targetP99Us)
		os.Exit(1)
	}
}

// newSyntheticSpeculation builds a minimal, valid Speculation installed
// at tier T1 whose single recovery point at bytecode offset 0 is total
// over its (empty) live-local set, the cheapest DeoptInfo that still
// satisfies the completeness invariant (spec §3). Its CompiledBody is
// backed by a real Arena region (made executable, as a genuinely
// installed Speculation would be) so HandleGuardFailure's reclamation
// path is exercised under measurement rather than a zero-token no-op.
func newSyntheticSpeculation(arena *execmem.Arena, fid types.FunctionId, id types.SpeculationId) *types.Speculation {
	assumption := types.Assumption{Kind: types.AssumeTypeStable, Variable: "x", Type: "int"}
	guardsList := speculate.BuildGuards(assumption, "entry")
	deoptInfo, err := speculate.BuildDeoptInfo(fid, nil)
	if err != nil {
		// newSyntheticSpeculation only ever builds from a fixed, known-
		// complete live-local set; a failure here means the benchmark
		// itself is broken, not the subsystem under measurement.
		panic(err)
	}

	const bodySize = 64
	token, err := arena.AllocExec(bodySize)
	if err != nil {
		panic(err)
	}
	if err := arena.MakeExecutable(token); err != nil {
		panic(err)
	}

	return &types.Speculation{
		ID:         id,
		FID:        fid,
		Assumption: assumption,
		Kind:       types.OptTypeSpecialize,
		Body:       types.CompiledBody{RegionToken: token, SizeBytes: bodySize},
		Guards:     guardsList,
		Deopt:      deoptInfo,
		CreatedAt:  time.Now(),
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
