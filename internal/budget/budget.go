// Package budget tracks consumed-vs-allowed counts for the two externally
// metered resources of a run: model calls and search iterations.
package budget

import "fmt"

const (
	// ResourceModelCalls identifies the model-call quota in errors and logs.
	ResourceModelCalls = "model calls"
	// ResourceSearchIterations identifies the search-iteration quota in errors and logs.
	ResourceSearchIterations = "search iterations"
)

// ExceededError is returned by consumers when an operation is requested after
// its quota has been fully spent.
type ExceededError struct {
	Resource string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("effort budget exceeded: %s", e.Resource)
}

// EffortBudget caps the number of model calls and search iterations allowed
// in a single run. It is plain counter logic with no I/O and is not
// goroutine-safe: the orchestration loop owns it exclusively, and a parallel
// caller must synchronize all mutations externally.
type EffortBudget struct {
	maxModelCalls        int
	maxSearchIterations  int
	modelCallsUsed       int
	searchIterationsUsed int
}

// Snapshot is a point-in-time copy of the budget counters, used for run
// summary logging.
type Snapshot struct {
	ModelCallsUsed       int
	MaxModelCalls        int
	SearchIterationsUsed int
	MaxSearchIterations  int
}

// New creates a budget with the provided caps. Negative caps are treated as zero.
func New(maxModelCalls, maxSearchIterations int) *EffortBudget {
	if maxModelCalls < 0 {
		maxModelCalls = 0
	}
	if maxSearchIterations < 0 {
		maxSearchIterations = 0
	}
	return &EffortBudget{
		maxModelCalls:       maxModelCalls,
		maxSearchIterations: maxSearchIterations,
	}
}

// CanCallModel reports whether at least one more model call fits in the budget.
func (b *EffortBudget) CanCallModel() bool {
	return b.modelCallsUsed < b.maxModelCalls
}

// CanSearch reports whether at least one more search iteration fits in the budget.
func (b *EffortBudget) CanSearch() bool {
	return b.searchIterationsUsed < b.maxSearchIterations
}

// RecordModelCall charges one model call against the budget.
func (b *EffortBudget) RecordModelCall() {
	b.modelCallsUsed++
}

// RecordSearchIteration charges one search iteration against the budget.
func (b *EffortBudget) RecordSearchIteration() {
	b.searchIterationsUsed++
}

// ModelCallsUsed returns the number of model calls charged so far.
func (b *EffortBudget) ModelCallsUsed() int {
	return b.modelCallsUsed
}

// SearchIterationsUsed returns the number of search iterations charged so far.
func (b *EffortBudget) SearchIterationsUsed() int {
	return b.searchIterationsUsed
}

// Snapshot returns a copy of the current counters.
func (b *EffortBudget) Snapshot() Snapshot {
	return Snapshot{
		ModelCallsUsed:       b.modelCallsUsed,
		MaxModelCalls:        b.maxModelCalls,
		SearchIterationsUsed: b.searchIterationsUsed,
		MaxSearchIterations:  b.maxSearchIterations,
	}
}
