// Package main — cmd/aott-sim/main.go
//
// Guard Model convergence simulator.
//
// Purpose: validate, before release, that the adaptive-threshold
// control law in internal/guardmodel actually converges — that a guard
// kind whose true success probability sits persistently above its
// adaptive threshold ends up trusted (ShouldTrust == true) and one that
// sits below ends up untrusted, across a long run of simulated
// Bernoulli outcomes, without the pathological oscillation a too-large
// clamp rate would cause (spec §4.B step 4's clamp control law).
//
// Model: at each step a synthetic guard check outcome is drawn from
// Bernoulli(trueP) and folded into the real internal/guardmodel.Model
// via Record, exactly as a live guard prologue outcome would be. A
// shared utilization term — the fraction of recent steps whose outcome
// has matched the running majority — stands in for the system-wide "how
// much of the system is currently behaving" signal the real runtime
// would pass.
//
// Convergence condition:
//
//	P(ShouldTrust(kind) == (trueP >= 0.5)) > 0.95 over the trailing 10%
//	of steps.
//
// Output: per-step CSV to stdout (step, outcome, posterior_mean,
// threshold, trusted). Summary: convergence result to stderr.
//
// Usage:
//
//	aott-sim [flags]
//	aott-sim -steps 20000 -true-p 0.92 -lambda1 0.08 -lambda2 0.05
//
// Grounded directly on cmd/octoreflex-sim/main.go's dominance-simulator
// shape: synthetic Markov-like process driven by a real subsystem,
// per-step CSV to stdout, pass/fail condition and exit code.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/types"
)

func main() {
	steps := flag.Int("steps", 20000, "Number of simulated guard checks")
	trueP := flag.Float64("true-p", 0.9, "True underlying guard success probability in [0,1]")
	lambda1 := flag.Float64("lambda1", 0.08, "Adaptive threshold clamp rate on failure")
	lambda2 := flag.Float64("lambda2", 0.05, "Adaptive threshold clamp rate on utilization")
	utilWindow := flag.Int("util-window", 200, "Trailing window size for the utilization signal")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *trueP < 0 || *trueP > 1 {
		fmt.Fprintln(os.Stderr, "ERROR: true-p must be in [0, 1]")
		os.Exit(1)
	}
	if *lambda1 < 0 || *lambda2 < 0 {
		fmt.Fprintln(os.Stderr, "ERROR: lambda1 and lambda2 must be >= 0")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	guards := guardmodel.New(guardmodel.WithClampRates(*lambda1, *lambda2))
	const kind = types.GuardTypeCheck

	sim := NewSimulator(*steps, *trueP, *utilWindow, rng, guards, kind)
	results := sim.Run()

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"step", "outcome", "posterior_mean", "threshold", "trusted"})
	for _, r := range results {
		_ = w.Write([]string{
			strconv.Itoa(r.Step),
			strconv.FormatBool(r.Outcome),
			strconv.FormatFloat(r.PosteriorMean, 'f', 6, 64),
			strconv.FormatFloat(r.Threshold, 'f', 6, 64),
			strconv.FormatBool(r.Trusted),
		})
	}
	w.Flush()

	wantTrusted := *trueP >= 0.5
	trailingStart := len(results) - len(results)/10
	if trailingStart < 0 {
		trailingStart = 0
	}
	matched := 0
	for _, r := range results[trailingStart:] {
		if r.Trusted == wantTrusted {
			matched++
		}
	}
	trailing := results[trailingStart:]
	convergenceProbability := float64(matched) / float64(len(trailing))

	fmt.Fprintf(os.Stderr, "\n=== GUARD MODEL CONVERGENCE RESULT ===\n")
	fmt.Fprintf(os.Stderr, "True success probability:     %.4f\n", *trueP)
	fmt.Fprintf(os.Stderr, "Expected trust outcome:        %v\n", wantTrusted)
	fmt.Fprintf(os.Stderr, "Trailing window match rate:    %.1f%% (%d/%d)\n",
		convergenceProbability*100, matched, len(trailing))
	fmt.Fprintf(os.Stderr, "Convergence condition (P > 0.95): %v\n", convergenceProbability > 0.95)

	if convergenceProbability > 0.95 {
		fmt.Fprintf(os.Stderr, "RESULT: PASS — guard model converges to the expected trust state\n")
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "RESULT: FAIL — convergence condition not satisfied\n")
	fmt.Fprintf(os.Stderr, "  Adjust lambda1/lambda2 or increase -steps.\n")
	os.Exit(2)
}

// StepResult holds the output of one simulated guard check.
type StepResult struct {
	Step          int
	Outcome       bool
	PosteriorMean float64
	Threshold     float64
	Trusted       bool
}

// Simulator drives a real guardmodel.Model with synthetic Bernoulli
// outcomes and records its convergence behavior.
type Simulator struct {
	steps      int
	trueP      float64
	utilWindow int
	rng        *rand.Rand
	guards     *guardmodel.Model
	kind       types.GuardKind
}

// NewSimulator creates a configured Simulator.
func NewSimulator(steps int, trueP float64, utilWindow int, rng *rand.Rand, guards *guardmodel.Model, kind types.GuardKind) *Simulator {
	return &Simulator{steps: steps, trueP: trueP, utilWindow: utilWindow, rng: rng, guards: guards, kind: kind}
}

// Run executes the simulation and returns per-step results.
func (s *Simulator) Run() []StepResult {
	results := make([]StepResult, s.steps)
	recent := make([]bool, 0, s.utilWindow)

	for t := 0; t < s.steps; t++ {
		outcome := s.rng.Float64() < s.trueP

		if len(recent) == s.utilWindow {
			recent = recent[1:]
		}
		recent = append(recent, outcome)
		utilization := fractionTrue(recent)

		s.guards.Record(s.kind, outcome, utilization)

		results[t] = StepResult{
			Step:          t,
			Outcome:       outcome,
			PosteriorMean: s.guards.SuccessProbability(s.kind),
			Threshold:     s.guards.Threshold(s.kind),
			Trusted:       s.guards.ShouldTrust(s.kind),
		}
	}

	return results
}

func fractionTrue(vals []bool) float64 {
	if len(vals) == 0 {
		return 0
	}
	n := 0
	for _, v := range vals {
		if v {
			n++
		}
	}
	return float64(n) / float64(len(vals))
}
