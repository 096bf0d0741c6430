// Package orchestrator drives one discovery run: a budgeted
// search-fetch-evaluate cycle that accumulates qualifying job listings while
// deduplicating work across runs through the persistent seen-set.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/spigell/job-crawler/internal/ai"
	"github.com/spigell/job-crawler/internal/budget"
	"github.com/spigell/job-crawler/internal/cache"
	"github.com/spigell/job-crawler/internal/crawler"
	"github.com/spigell/job-crawler/internal/jobs"

	"go.uber.org/zap"
)

const (
	// minDocumentLength is the smallest document worth scoring. Shorter
	// pages carry too little signal for a reliable verdict.
	minDocumentLength = 800
	// cvSummaryLimit caps the CV text embedded in query-generation context.
	cvSummaryLimit = 1500
	// titleWords is how many leading document tokens become the listing title.
	titleWords = 8

	// companyUnknown is recorded until company extraction lands.
	companyUnknown = "Unknown"

	defaultMaxResults             = 5
	defaultMinScore               = 70
	defaultMaxQueriesPerIteration = 10
)

// listingTokens mark a URL as probably pointing at a job listing. Matched as
// case-insensitive substrings.
var listingTokens = []string{"/jobs", "/job", "careers", "apply", "greenhouse", "lever"}

// Config holds the knobs of a single run.
type Config struct {
	MaxResults             int
	MinScore               int
	MaxQueriesPerIteration int
}

// Paths names the files a run reads and writes.
type Paths struct {
	Cache       string
	ResultsJSON string
	ResultsCSV  string
}

// Orchestrator owns the run loop. It depends only on the two capability
// interfaces; production wiring and test doubles are interchangeable.
type Orchestrator struct {
	cfg       *Config
	budget    *budget.EffortBudget
	assistant ai.QueryEvaluator
	crawler   crawler.SearchFetcher
	logger    *zap.Logger
}

func New(cfg *Config, b *budget.EffortBudget, assistant ai.QueryEvaluator, fetcher crawler.SearchFetcher, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MaxQueriesPerIteration <= 0 {
		cfg.MaxQueriesPerIteration = defaultMaxQueriesPerIteration
	}

	return &Orchestrator{
		cfg:       cfg,
		budget:    b,
		assistant: assistant,
		crawler:   fetcher,
		logger:    log,
	}
}

// Run executes the discovery loop to completion and flushes the seen-set and
// result files on every normal exit. A generator contract violation aborts
// the run without writing, leaving on-disk state from earlier runs intact.
func (o *Orchestrator) Run(ctx context.Context, cvText string, preferences map[string]any, paths Paths) (*jobs.Results, error) {
	seen, err := cache.FromFile(paths.Cache)
	if err != nil {
		return nil, err
	}

	o.logger.Info("run started",
		zap.Int("seen_urls", seen.Len()),
		zap.Int("max_results", o.cfg.MaxResults),
		zap.Int("min_score", o.cfg.MinScore),
	)

	results := &jobs.Results{}
	history := []ai.QueryOutcome{}

	for results.Len() < o.cfg.MaxResults && o.budget.CanCallModel() && o.budget.CanSearch() {
		runCtx := &ai.RunContext{
			CVSummary:   truncate(cvText, cvSummaryLimit),
			Preferences: preferences,
			Results:     results.Items,
		}

		queries, err := o.assistant.GenerateQueries(ctx, runCtx, history)
		if err != nil {
			return nil, err
		}
		if len(queries.Queries) == 0 {
			o.logger.Info("generator is out of search ideas")
			break
		}

		batch := queries.Queries
		if len(batch) > o.cfg.MaxQueriesPerIteration {
			batch = batch[:o.cfg.MaxQueriesPerIteration]
		}

		stop, err := o.runQueries(ctx, cvText, batch, seen, results, &history)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}

	if err := o.flush(seen, results, paths); err != nil {
		return nil, err
	}

	snapshot := o.budget.Snapshot()
	o.logger.Info("run finished",
		zap.Int("results", results.Len()),
		zap.Strings("accepted_urls", results.URLs()),
		zap.Int("seen_urls", seen.Len()),
		zap.Int("model_calls_used", snapshot.ModelCallsUsed),
		zap.Int("max_model_calls", snapshot.MaxModelCalls),
		zap.Int("search_iterations_used", snapshot.SearchIterationsUsed),
		zap.Int("max_search_iterations", snapshot.MaxSearchIterations),
	)

	return results, nil
}

// runQueries works through one batch of queries. It reports stop=true when
// the budget ran out mid-batch, which ends the run through the normal flush
// path.
func (o *Orchestrator) runQueries(ctx context.Context, cvText string, queries []string, seen *cache.SeenURLs, results *jobs.Results, history *[]ai.QueryOutcome) (bool, error) {
	for _, query := range queries {
		if results.Len() >= o.cfg.MaxResults {
			return false, nil
		}

		urls, err := o.crawler.Search(ctx, query)
		if err != nil {
			var exceeded *budget.ExceededError
			if errors.As(err, &exceeded) {
				o.logger.Warn("search budget ran out mid-batch", zap.String("query", query))
				return true, nil
			}
			return false, err
		}

		newURLs := seen.Unseen(urls)
		*history = append(*history, ai.QueryOutcome{
			Query:     query,
			URLsFound: len(urls),
			New:       len(newURLs),
		})

		o.logger.Debug("query executed",
			zap.String("query", query),
			zap.Int("urls_found", len(urls)),
			zap.Int("new", len(newURLs)),
		)

		for _, url := range newURLs {
			if results.Len() >= o.cfg.MaxResults {
				return false, nil
			}

			if err := o.processURL(ctx, cvText, url, seen, results); err != nil {
				return false, err
			}
		}
	}

	return false, nil
}

// processURL disposes of one candidate URL. Every disposition marks the URL
// seen; only a generator contract violation escapes as an error.
func (o *Orchestrator) processURL(ctx context.Context, cvText, url string, seen *cache.SeenURLs, results *jobs.Results) error {
	seen.Add(url)

	log := o.logger.With(zap.String("url", url))

	if !looksLikeListing(url) {
		log.Debug("url does not look like a job listing, skipping")
		return nil
	}

	text, err := o.crawler.FetchText(ctx, url)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err))
		return nil
	}
	if text == "" {
		log.Debug("page yielded no text")
		return nil
	}
	if utf8.RuneCountInString(text) < minDocumentLength {
		log.Debug("document too short to score", zap.Int("length", utf8.RuneCountInString(text)))
		return nil
	}

	evaluation, err := o.assistant.EvaluateJob(ctx, cvText, text)
	if err != nil {
		var validationErr *ai.ValidationError
		if errors.As(err, &validationErr) {
			return err
		}
		log.Warn("evaluation failed", zap.Error(err))
		return nil
	}

	if evaluation.Score < o.cfg.MinScore {
		log.Info("listing rejected", zap.Int("score", evaluation.Score))
		return nil
	}

	results.Append(&jobs.Result{
		Title:   firstWords(text, titleWords),
		Company: companyUnknown,
		URL:     url,
		Score:   evaluation.Score,
		Reason:  evaluation.Reason,
		Status:  jobs.StatusNew,
	})

	log.Info("listing accepted", zap.Int("score", evaluation.Score))

	return nil
}

func (o *Orchestrator) flush(seen *cache.SeenURLs, results *jobs.Results, paths Paths) error {
	if err := seen.ToFile(paths.Cache); err != nil {
		return err
	}
	if err := results.ToJSONFile(paths.ResultsJSON); err != nil {
		return err
	}
	return results.ToCSVFile(paths.ResultsCSV)
}

func looksLikeListing(url string) bool {
	lowered := strings.ToLower(url)
	for _, token := range listingTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
