package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spigell/job-crawler/internal/ai"
	"github.com/spigell/job-crawler/internal/budget"
	"github.com/spigell/job-crawler/internal/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubAssistant follows the production budget contract: every call is gated
// and charged against the model-call budget.
type stubAssistant struct {
	budget    *budget.EffortBudget
	batches   [][]string
	batchIdx  int
	score     int
	evalErr   error
	evalCalls int
}

func (s *stubAssistant) GenerateQueries(_ context.Context, _ *ai.RunContext, _ []ai.QueryOutcome) (*ai.SearchQueries, error) {
	if !s.budget.CanCallModel() {
		return nil, &budget.ExceededError{Resource: budget.ResourceModelCalls}
	}
	s.budget.RecordModelCall()

	if s.batchIdx >= len(s.batches) {
		return &ai.SearchQueries{Queries: []string{}}, nil
	}
	batch := s.batches[s.batchIdx]
	s.batchIdx++
	return &ai.SearchQueries{Queries: batch}, nil
}

func (s *stubAssistant) EvaluateJob(_ context.Context, _, _ string) (*ai.JobEvaluation, error) {
	if !s.budget.CanCallModel() {
		return nil, &budget.ExceededError{Resource: budget.ResourceModelCalls}
	}
	s.budget.RecordModelCall()
	s.evalCalls++

	if s.evalErr != nil {
		return nil, s.evalErr
	}
	return &ai.JobEvaluation{Score: s.score, Reason: "stub verdict"}, nil
}

// stubFetcher charges the search budget only for non-empty search payloads,
// like the production provider.
type stubFetcher struct {
	budget      *budget.EffortBudget
	urls        map[string][]string
	texts       map[string]string
	fetchErrs   map[string]error
	searchCalls int
	fetchCalls  int
}

func (s *stubFetcher) Search(_ context.Context, query string) ([]string, error) {
	if !s.budget.CanSearch() {
		return nil, &budget.ExceededError{Resource: budget.ResourceSearchIterations}
	}
	s.searchCalls++

	urls := s.urls[query]
	if len(urls) > 0 {
		s.budget.RecordSearchIteration()
	}
	return urls, nil
}

func (s *stubFetcher) FetchText(_ context.Context, url string) (string, error) {
	s.fetchCalls++
	if err, ok := s.fetchErrs[url]; ok {
		return "", err
	}
	return s.texts[url], nil
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		Cache:       filepath.Join(dir, "cache.json"),
		ResultsJSON: filepath.Join(dir, "results.json"),
		ResultsCSV:  filepath.Join(dir, "results.csv"),
	}
}

func cachedURLs(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		SeenURLs []string `json:"seen_urls"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.SeenURLs
}

func longDocument() string {
	return strings.Repeat("Senior Go developer position in Berlin with strong pay. ", 20)
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg := &Config{}
	New(cfg, budget.New(1, 1), nil, nil, nil)

	assert.Equal(t, defaultMaxResults, cfg.MaxResults)
	assert.Equal(t, defaultMinScore, cfg.MinScore)
	assert.Equal(t, defaultMaxQueriesPerIteration, cfg.MaxQueriesPerIteration)
}

func TestRunAcceptsQualifyingListings(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"python jobs berlin"}},
		score:   85,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls: map[string][]string{
			"python jobs berlin": {"https://a.example/jobs/1", "https://b.example/careers/2"},
		},
		texts: map[string]string{
			"https://a.example/jobs/1":    longDocument(),
			"https://b.example/careers/2": longDocument(),
		},
	}

	o := New(&Config{MaxResults: 2, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	require.Equal(t, 2, results.Len())
	for _, item := range results.Items {
		assert.Equal(t, jobs.StatusNew, item.Status)
		assert.Equal(t, "Unknown", item.Company)
		assert.Equal(t, 85, item.Score)
		assert.Equal(t, "Senior Go developer position in Berlin with strong", item.Title)
	}

	assert.ElementsMatch(t,
		[]string{"https://a.example/jobs/1", "https://b.example/careers/2"},
		cachedURLs(t, paths.Cache),
	)

	data, err := os.ReadFile(paths.ResultsJSON)
	require.NoError(t, err)
	var persisted []*jobs.Result
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Len(t, persisted, 2)

	csvData, err := os.ReadFile(paths.ResultsCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csvData), "title,company,url,score,reason,status"))
}

func TestRunEmptySearchesStillWriteOutputs(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query one"}, {"query two"}},
		score:   85,
	}
	fetcher := &stubFetcher{budget: b, urls: map[string][]string{}}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Zero(t, results.Len())
	assert.Zero(t, b.SearchIterationsUsed())
	assert.Empty(t, cachedURLs(t, paths.Cache))

	data, err := os.ReadFile(paths.ResultsJSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	_, err = os.Stat(paths.ResultsCSV)
	require.NoError(t, err)
}

func TestRunShortDocumentSkippedWithoutEvaluation(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		score:   85,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://a.example/jobs/1"}},
		texts:  map[string]string{"https://a.example/jobs/1": strings.Repeat("x", 500)},
	}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Zero(t, results.Len())
	assert.Zero(t, assistant.evalCalls)
	assert.Equal(t, []string{"https://a.example/jobs/1"}, cachedURLs(t, paths.Cache))
}

func TestRunNonListingURLSkippedWithoutFetch(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://blog.example/posts/golang"}},
	}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Zero(t, results.Len())
	assert.Zero(t, fetcher.fetchCalls)
	assert.Equal(t, []string{"https://blog.example/posts/golang"}, cachedURLs(t, paths.Cache))
}

func TestRunSeenURLsNotReprocessed(t *testing.T) {
	paths := testPaths(t)
	existing := `{"seen_urls": ["https://a.example/jobs/1"]}`
	require.NoError(t, os.WriteFile(paths.Cache, []byte(existing), 0o644))

	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		score:   85,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://a.example/jobs/1"}},
		texts:  map[string]string{"https://a.example/jobs/1": longDocument()},
	}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Zero(t, results.Len())
	assert.Zero(t, fetcher.fetchCalls)
	assert.Equal(t, []string{"https://a.example/jobs/1"}, cachedURLs(t, paths.Cache))
}

func TestRunRespectsBudgetCaps(t *testing.T) {
	b := budget.New(3, 2)
	assistant := &stubAssistant{
		budget: b,
		batches: [][]string{
			{"query one"}, {"query two"}, {"query three"}, {"query four"},
		},
		score: 10,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls: map[string][]string{
			"query one": {"https://a.example/jobs/1"},
			"query two": {"https://a.example/jobs/2"},
		},
		texts: map[string]string{
			"https://a.example/jobs/1": longDocument(),
			"https://a.example/jobs/2": longDocument(),
		},
	}

	o := New(&Config{MaxResults: 10, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	_, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.LessOrEqual(t, b.ModelCallsUsed(), 3)
	assert.LessOrEqual(t, b.SearchIterationsUsed(), 2)
}

func TestRunValidationErrorAbortsWithoutWriting(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		evalErr: &ai.ValidationError{Schema: "evaluation", Detail: "reason is not a string"},
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://a.example/jobs/1"}},
		texts:  map[string]string{"https://a.example/jobs/1": longDocument()},
	}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	_, err := o.Run(context.Background(), "cv text", nil, paths)

	var validationErr *ai.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, statErr := os.Stat(paths.Cache)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(paths.ResultsJSON)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFetchFailureAbsorbed(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		score:   85,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls: map[string][]string{
			"query": {"https://a.example/jobs/broken", "https://a.example/jobs/good"},
		},
		texts:     map[string]string{"https://a.example/jobs/good": longDocument()},
		fetchErrs: map[string]error{"https://a.example/jobs/broken": assert.AnError},
	}

	o := New(&Config{MaxResults: 1, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	require.Equal(t, 1, results.Len())
	assert.Equal(t, "https://a.example/jobs/good", results.Items[0].URL)
	assert.ElementsMatch(t,
		[]string{"https://a.example/jobs/broken", "https://a.example/jobs/good"},
		cachedURLs(t, paths.Cache),
	)
}

func TestRunRejectsBelowMinScore(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		score:   40,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://a.example/jobs/1"}},
		texts:  map[string]string{"https://a.example/jobs/1": longDocument()},
	}

	o := New(&Config{MaxResults: 5, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Zero(t, results.Len())
	assert.Equal(t, 1, assistant.evalCalls)
	assert.Equal(t, []string{"https://a.example/jobs/1"}, cachedURLs(t, paths.Cache))
}

func TestRunTruncatesQueryBatch(t *testing.T) {
	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"one", "two", "three", "four", "five"}},
	}
	fetcher := &stubFetcher{budget: b, urls: map[string][]string{}}

	o := New(&Config{MaxResults: 5, MinScore: 70, MaxQueriesPerIteration: 2}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	_, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.searchCalls)
}

func TestRunTitleIsFirstEightWords(t *testing.T) {
	text := "Staff Platform Engineer at Example Corp Berlin Germany remote friendly " +
		strings.Repeat("building reliable infrastructure for millions of users ", 20)

	b := budget.New(25, 5)
	assistant := &stubAssistant{
		budget:  b,
		batches: [][]string{{"query"}},
		score:   90,
	}
	fetcher := &stubFetcher{
		budget: b,
		urls:   map[string][]string{"query": {"https://a.example/jobs/1"}},
		texts:  map[string]string{"https://a.example/jobs/1": text},
	}

	o := New(&Config{MaxResults: 1, MinScore: 70}, b, assistant, fetcher, zap.NewNop())
	paths := testPaths(t)

	results, err := o.Run(context.Background(), "cv text", nil, paths)
	require.NoError(t, err)

	require.Equal(t, 1, results.Len())
	assert.Equal(t, "Staff Platform Engineer at Example Corp Berlin Germany", results.Items[0].Title)
}
