// Package profile implements the Profile Store (spec §4.A): the
// collector of per-function, per-branch, per-loop, and per-call-site
// execution statistics that every other component reads from. Call
// counters are atomics; each RecordCall also takes the record's own
// mutex for the frequency ring and type tags.
//
// Sharding and hot counters are grounded on the teacher's token-bucket
// idiom of keeping a small set of atomic.Uint64 fields beside a mutex
// that only the cold path takes; the rolling-frequency window is
// grounded on the teacher's EWMA pressure accumulator, generalized from
// a single scalar to a fixed-bucket ring of per-second counts so the
// Promotion Detector can read both an instantaneous EWMA and a short
// history.
package profile

import (
	"hash/maphash"
	"strconv"
	"sync"
	"time"

	"github.com/octoreflex/aott/internal/types"
)

const (
	// numShards controls the sharded-map fan-out; shardFor reduces the
	// hash modulo numShards.
	numShards = 64

	// frequencyWindowBuckets is the number of one-second buckets kept
	// for the sliding call-frequency window (spec §4.A "rolling
	// frequency window").
	frequencyWindowBuckets = 60
)

// record is the mutable per-function record held inside one shard. Hot
// counters (CallCount, TotalTimeNs, Min/MaxTimeNs) are atomics updated
// without taking the shard lock; everything else (type tags, branch/loop
// sub-maps, the frequency ring) is protected by the shard's RWMutex.
type record struct {
	fid types.FunctionId

	callCount   atomicU64
	totalTimeNs atomicU64
	minTimeNs   atomicU64
	maxTimeNs   atomicU64

	firstExecution time.Time
	lastExecution  atomicTime

	freqEWMA *Accumulator

	mu          sync.RWMutex
	freqRing    [frequencyWindowBuckets]uint64
	freqRingSec int64 // unix-seconds bucket the ring head currently represents

	argTypes    map[int]map[string]uint64 // arg position -> type tag -> count
	returnTypes map[string]uint64

	branches  map[types.BranchId]*branchRecord
	loops     map[types.LoopId]*loopRecord
	callSites map[types.CallSiteId]*callSiteRecord

	instrCount, branchCount, loopCount, memoryOps, arithOps, calls int
}

type branchRecord struct {
	takenCount, notTakenCount atomicU64
}

type loopRecord struct {
	iterationCounts []int // bounded ring of recent trip counts
	mu              sync.Mutex
	invariantHits   map[string]uint64
}

type callSiteRecord struct {
	mu      sync.Mutex
	targets map[types.FunctionId]uint64
}

// shard is one partition of the Profile Store's function table.
type shard struct {
	mu      sync.RWMutex
	records map[types.FunctionId]*record
}

// Store is the Profile Store: a sharded, lock-minimized table of
// FunctionProfile data plus derived branch/loop/call-site/type feedback.
type Store struct {
	shards [numShards]*shard
	seed   maphash.Seed

	// capacity bounds each shard to capacity/numShards+1 tracked
	// functions; inserting past that evicts the shard's
	// least-recently-touched record (spec §4.A
	// "bounded memory: evict least-recently-used profiles under
	// pressure").
	capacity int

	evictions atomicU64
}

// NewStore constructs an empty Profile Store bounded to capacity tracked
// functions (0 means unbounded).
func NewStore(capacity int) *Store {
	s := &Store{seed: maphash.MakeSeed(), capacity: capacity}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[types.FunctionId]*record)}
	}
	return s
}

func (s *Store) shardFor(fid types.FunctionId) *shard {
	var h maphash.Hash
	h.SetSeed(s.seed)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(fid >> (8 * i))
	}
	h.Write(buf[:])
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

func (s *Store) getOrCreate(fid types.FunctionId) *record {
	sh := s.shardFor(fid)

	sh.mu.RLock()
	r, ok := sh.records[fid]
	sh.mu.RUnlock()
	if ok {
		return r
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if r, ok := sh.records[fid]; ok {
		return r
	}
	r = &record{
		fid:            fid,
		firstExecution: timeNow(),
		freqEWMA:       NewAccumulator(0.8),
		argTypes:       make(map[int]map[string]uint64),
		returnTypes:    make(map[string]uint64),
		branches:       make(map[types.BranchId]*branchRecord),
		loops:          make(map[types.LoopId]*loopRecord),
		callSites:      make(map[types.CallSiteId]*callSiteRecord),
	}
	r.minTimeNs.Store(^uint64(0))
	sh.records[fid] = r
	s.maybeEvict(sh)
	return r
}

// maybeEvict drops the least-recently-touched record in sh if the store
// is over capacity. Called with sh.mu held for write.
func (s *Store) maybeEvict(sh *shard) {
	if s.capacity <= 0 || len(sh.records) <= s.capacity/numShards+1 {
		return
	}
	var oldestFID types.FunctionId
	var oldest time.Time
	first := true
	for fid, r := range sh.records {
		lt := r.lastExecution.Load()
		if lt.IsZero() {
			lt = r.firstExecution
		}
		if first || lt.Before(oldest) {
			oldest, oldestFID, first = lt, fid, false
		}
	}
	if !first {
		delete(sh.records, oldestFID)
		s.evictions.Add(1)
	}
}

// RecordCall registers one execution of fid taking durationNs, tagging
// the runtime types observed for its arguments and return value (spec
// §4.A step 1).
func (s *Store) RecordCall(fid types.FunctionId, durationNs uint64, argTypeTags []string, returnType string) {
	r := s.getOrCreate(fid)

	r.callCount.Add(1)
	r.totalTimeNs.Add(durationNs)
	r.lastExecution.Store(timeNow())
	casMin(&r.minTimeNs, durationNs)
	casMax(&r.maxTimeNs, durationNs)

	now := timeNow()
	r.freqEWMA.Update(1)
	r.mu.Lock()
	s.bumpFreqRing(r, now.Unix())
	for i, tag := range argTypeTags {
		m, ok := r.argTypes[i]
		if !ok {
			m = make(map[string]uint64)
			r.argTypes[i] = m
		}
		m[tag]++
	}
	if returnType != "" {
		r.returnTypes[returnType]++
	}
	r.mu.Unlock()
}

// bumpFreqRing advances the per-second ring buffer to nowSec, zeroing
// any buckets skipped over, then increments the current bucket. Must be
// called with r.mu held.
func (s *Store) bumpFreqRing(r *record, nowSec int64) {
	if r.freqRingSec == 0 {
		r.freqRingSec = nowSec
	}
	delta := nowSec - r.freqRingSec
	if delta > 0 {
		if delta >= frequencyWindowBuckets {
			r.freqRing = [frequencyWindowBuckets]uint64{}
		} else {
			head := int(r.freqRingSec % frequencyWindowBuckets)
			for i := int64(1); i <= delta; i++ {
				idx := (head + int(i)) % frequencyWindowBuckets
				r.freqRing[idx] = 0
			}
		}
		r.freqRingSec = nowSec
	}
	idx := int(nowSec % frequencyWindowBuckets)
	r.freqRing[idx]++
}

// RecordBranch registers one evaluation of a conditional branch (spec
// §4.A step 2).
func (s *Store) RecordBranch(fid types.FunctionId, branch types.BranchId, taken bool) {
	r := s.getOrCreate(fid)
	r.mu.Lock()
	br, ok := r.branches[branch]
	if !ok {
		br = &branchRecord{}
		r.branches[branch] = br
	}
	r.mu.Unlock()
	if taken {
		br.takenCount.Add(1)
	} else {
		br.notTakenCount.Add(1)
	}
}

// RecordLoop registers the trip count of one loop execution and any
// observed loop-invariant variable hits (spec §4.A step 2).
func (s *Store) RecordLoop(fid types.FunctionId, loop types.LoopId, tripCount int, invariantVars []string) {
	r := s.getOrCreate(fid)
	r.mu.Lock()
	lr, ok := r.loops[loop]
	if !ok {
		lr = &loopRecord{invariantHits: make(map[string]uint64)}
		r.loops[loop] = lr
	}
	r.mu.Unlock()

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.iterationCounts = append(lr.iterationCounts, tripCount)
	if len(lr.iterationCounts) > 256 {
		lr.iterationCounts = lr.iterationCounts[len(lr.iterationCounts)-256:]
	}
	for _, v := range invariantVars {
		lr.invariantHits[v]++
	}
}

// LoopFeedback returns the observed iteration statistics, a constant
// trip-count candidate (if every recorded invocation took the same
// number of iterations), and the loop-invariant variables that were
// flagged on at least half of recorded invocations — the signals the
// speculative compiler needs to decide LoopBoundConstant/LoopInvariant
// assumptions (spec §4.E).
func (s *Store) LoopFeedback(fid types.FunctionId, loop types.LoopId) (profile types.LoopProfile, boundCandidate int, boundIsConstant bool, invariantVars []string) {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	lr, ok := r.loops[loop]
	r.mu.RUnlock()
	if !ok {
		return types.LoopProfile{LID: loop}, 0, false, nil
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	var total, sum uint64
	boundIsConstant = len(lr.iterationCounts) > 0
	for i, n := range lr.iterationCounts {
		sum += uint64(n)
		total++
		if i > 0 && n != lr.iterationCounts[0] {
			boundIsConstant = false
		}
	}
	if boundIsConstant && len(lr.iterationCounts) > 0 {
		boundCandidate = lr.iterationCounts[0]
	}
	var avg float64
	if total > 0 {
		avg = float64(sum) / float64(total)
	}

	var hot []string
	for v, count := range lr.invariantHits {
		if total > 0 && 2*count >= total {
			hot = append(hot, v)
		}
	}

	return types.LoopProfile{
		LID:              loop,
		InvocationCount:  total,
		TotalIterations:  sum,
		AverageIteration: avg,
	}, boundCandidate, boundIsConstant, hot
}

// RecordCallSite registers one dynamic dispatch resolution at a call
// site, used to classify call-site polymorphism (spec §4.A step 2, §3
// CallSiteFeedback).
func (s *Store) RecordCallSite(fid types.FunctionId, site types.CallSiteId, target types.FunctionId) {
	r := s.getOrCreate(fid)
	r.mu.Lock()
	cs, ok := r.callSites[site]
	if !ok {
		cs = &callSiteRecord{targets: make(map[types.FunctionId]uint64)}
		r.callSites[site] = cs
	}
	r.mu.Unlock()

	cs.mu.Lock()
	cs.targets[target]++
	cs.mu.Unlock()
}

// RecordStructure registers static structural counts for a function
// (instruction/branch/loop/memory-op/arithmetic-op/call counts), used by
// the Promotion Detector's function-size gating (spec §6 min/max
// function size).
func (s *Store) RecordStructure(fid types.FunctionId, instrCount, branchCount, loopCount, memoryOps, arithOps, calls int) {
	r := s.getOrCreate(fid)
	r.mu.Lock()
	r.instrCount, r.branchCount, r.loopCount = instrCount, branchCount, loopCount
	r.memoryOps, r.arithOps, r.calls = memoryOps, arithOps, calls
	r.mu.Unlock()
}

// SlidingFrequency returns the sum of calls observed in the trailing
// windowSeconds (capped at frequencyWindowBuckets), used as the
// short-horizon call-rate signal (spec §4.A "rolling frequency window").
func (s *Store) SlidingFrequency(fid types.FunctionId, windowSeconds int) uint64 {
	if windowSeconds > frequencyWindowBuckets {
		windowSeconds = frequencyWindowBuckets
	}
	nowSec := timeNow().Unix()
	r := s.getOrCreate(fid)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total uint64
	for i := 0; i < windowSeconds; i++ {
		sec := nowSec - int64(i)
		// Only the frequencyWindowBuckets seconds ending at the ring head
		// hold counts; later seconds have no calls recorded yet.
		if r.freqRingSec == 0 || sec > r.freqRingSec || sec <= r.freqRingSec-frequencyWindowBuckets {
			continue
		}
		total += r.freqRing[sec%frequencyWindowBuckets]
	}
	return total
}

// Snapshot returns an immutable copy of the FunctionProfile for fid,
// suitable for handing to the Promotion Detector or Benefit Predictor
// without holding any Store lock (spec §4.A step 3: "profiles must be
// readable as point-in-time snapshots").
func (s *Store) Snapshot(fid types.FunctionId) types.FunctionProfile {
	r := s.getOrCreate(fid)

	callCount := r.callCount.Load()
	totalNs := r.totalTimeNs.Load()
	var avg float64
	if callCount > 0 {
		avg = float64(totalNs) / float64(callCount)
	}
	minNs := r.minTimeNs.Load()
	if minNs == ^uint64(0) {
		minNs = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	argTags := make(map[int]map[string]uint64, len(r.argTypes))
	for pos, m := range r.argTypes {
		cp := make(map[string]uint64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		argTags[pos] = cp
	}
	retTypes := make(map[string]uint64, len(r.returnTypes))
	for k, v := range r.returnTypes {
		retTypes[k] = v
	}

	return types.FunctionProfile{
		FID:              fid,
		CallCount:        callCount,
		TotalTimeNs:      totalNs,
		MinTimeNs:        minNs,
		MaxTimeNs:        r.maxTimeNs.Load(),
		AvgTimeNs:        avg,
		FirstExecution:   r.firstExecution,
		LastExecution:    r.lastExecution.Load(),
		RecentFrequency:  r.freqEWMA.Value(),
		PromotionScore:   0, // populated by the Promotion Detector, not the store
		ArgTypeTags:      argTags,
		ReturnTypes:      retTypes,
		InstrCount:       r.instrCount,
		BranchCount:      r.branchCount,
		LoopCount:        r.loopCount,
		MemoryOps:        r.memoryOps,
		ArithOps:         r.arithOps,
		Calls:            r.calls,
	}
}

// BranchFeedback returns the observed taken/not-taken counts for one
// branch, used by the speculative compiler to decide BranchAlwaysTaken
// vs BranchProbability assumptions (spec §4.E).
func (s *Store) BranchFeedback(fid types.FunctionId, branch types.BranchId) types.BranchProfile {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	br, ok := r.branches[branch]
	r.mu.RUnlock()
	if !ok {
		return types.BranchProfile{BID: branch}
	}
	return types.BranchProfile{
		BID:           branch,
		TakenCount:    br.takenCount.Load(),
		NotTakenCount: br.notTakenCount.Load(),
	}
}

// CallSiteFeedback classifies the polymorphism of one call site and
// returns the dominant target observed so far (spec §3 CallSiteFeedback,
// §4.D CallSiteMonomorphic heuristic).
func (s *Store) CallSiteFeedback(fid types.FunctionId, site types.CallSiteId) types.CallSiteFeedback {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	cs, ok := r.callSites[site]
	r.mu.RUnlock()
	if !ok {
		return types.CallSiteFeedback{Site: site}
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	targets := make(map[types.FunctionId]uint64, len(cs.targets))
	for k, v := range cs.targets {
		targets[k] = v
	}
	return types.CallSiteFeedback{
		Site:       site,
		Targets:    targets,
		Polymorphism: types.ClassifyPolymorphism(len(targets)),
	}
}

// TypeFeedbackFor computes the stability-scored TypeFeedback for one
// argument position (spec §3 TypeFeedback; stability is 1 - normalized
// Shannon entropy over the observed type tags, see typestability.go).
func (s *Store) TypeFeedbackFor(fid types.FunctionId, argPosition int) types.TypeFeedback {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	counts := r.argTypes[argPosition]
	cp := make(map[string]uint64, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	r.mu.RUnlock()

	dom, _ := dominant(cp)
	return types.TypeFeedback{
		Variable:      argVariableName(argPosition),
		ObservedTypes: cp,
		MostCommonType: dom,
		Stability:     stabilityFromCounts(cp),
	}
}

func argVariableName(pos int) string {
	return "arg" + strconv.Itoa(pos)
}

// KnownBranches, KnownLoops, KnownCallSites, and KnownArgPositions
// enumerate the profiling identities recorded so far for fid, letting a
// caller build a speculate.ProposalContext without needing to already
// know which branch/loop/call-site/argument identities exist.
func (s *Store) KnownBranches(fid types.FunctionId) []types.BranchId {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.BranchId, 0, len(r.branches))
	for b := range r.branches {
		out = append(out, b)
	}
	return out
}

func (s *Store) KnownLoops(fid types.FunctionId) []types.LoopId {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.LoopId, 0, len(r.loops))
	for l := range r.loops {
		out = append(out, l)
	}
	return out
}

func (s *Store) KnownCallSites(fid types.FunctionId) []types.CallSiteId {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.CallSiteId, 0, len(r.callSites))
	for c := range r.callSites {
		out = append(out, c)
	}
	return out
}

func (s *Store) KnownArgPositions(fid types.FunctionId) []int {
	r := s.getOrCreate(fid)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.argTypes))
	for p := range r.argTypes {
		out = append(out, p)
	}
	return out
}

// HotList returns every tracked function whose call EWMA (the value
// Snapshot reports as RecentFrequency: 0 before the first RecordCall,
// 1.0 from then on) meets or exceeds minFrequency — the candidate set the
// Decision Engine scans each tick (spec §4.K step 1: "for func_id in
// hot_functions(profile_store)").
func (s *Store) HotList(minFrequency float64) []types.FunctionId {
	var hot []types.FunctionId
	for _, sh := range s.shards {
		sh.mu.RLock()
		for fid, r := range sh.records {
			if r.freqEWMA.Value() >= minFrequency {
				hot = append(hot, fid)
			}
		}
		sh.mu.RUnlock()
	}
	return hot
}

// Evictions returns the total number of records evicted under capacity
// pressure.
func (s *Store) Evictions() uint64 {
	return s.evictions.Load()
}

// Len returns the total number of tracked functions across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}
