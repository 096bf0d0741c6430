// Package ai defines the generator contract the orchestration loop depends
// on, together with its data types.
package ai

import (
	"context"
	"fmt"

	"github.com/spigell/job-crawler/internal/jobs"
)

// SearchQueries is an ordered, possibly empty list of search query strings
// produced per generator call.
type SearchQueries struct {
	Queries []string `json:"queries"`
}

// JobEvaluation is the relevance verdict for one document against the CV.
type JobEvaluation struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// RunContext is the snapshot of run-so-far progress passed to the query
// generator each iteration.
type RunContext struct {
	CVSummary   string         `json:"cv_summary"`
	Preferences map[string]any `json:"preferences"`
	Results     []*jobs.Result `json:"results"`
}

// QueryOutcome records how one executed query went, fed back into the
// generator so later iterations avoid repeating earlier queries.
type QueryOutcome struct {
	Query     string `json:"query"`
	URLsFound int    `json:"urls_found"`
	New       int    `json:"new"`
}

// ValidationError reports a generator payload that does not match its target
// schema after normalization. It indicates a systemic contract violation and
// is the one error class the orchestration loop does not absorb.
type ValidationError struct {
	Schema string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("generator payload does not match %s schema: %s", e.Schema, e.Detail)
}

// QueryEvaluator is the capability interface of the query/evaluation
// generator. Implementations charge the model-call budget themselves.
type QueryEvaluator interface {
	GenerateQueries(ctx context.Context, runCtx *RunContext, history []QueryOutcome) (*SearchQueries, error)
	EvaluateJob(ctx context.Context, cvText, jobText string) (*JobEvaluation, error)
}
