package profile

import "sync"

// Accumulator is a mutex-protected exponentially weighted moving average,
// used by the Profile Store for the per-function call signal it reports
// as FunctionProfile.RecentFrequency (spec §4.A: "rolling frequency window").
//
// P_{t+1} = alpha*P_t + (1-alpha)*A_t
type Accumulator struct {
	mu    sync.Mutex
	alpha float64
	value float64
	init  bool
}

// NewAccumulator returns an Accumulator with the given smoothing factor.
// alpha closer to 1 weights history more heavily; closer to 0 tracks the
// latest sample more closely.
func NewAccumulator(alpha float64) *Accumulator {
	return &Accumulator{alpha: alpha}
}

// Update folds in a new sample and returns the updated value.
func (a *Accumulator) Update(sample float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.init {
		a.value = sample
		a.init = true
		return a.value
	}
	a.value = a.alpha*a.value + (1-a.alpha)*sample
	return a.value
}

// Value returns the current smoothed value without updating it.
func (a *Accumulator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Reset clears the accumulator back to its uninitialized state.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = 0
	a.init = false
}
