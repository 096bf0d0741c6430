// Package crawler defines the contract between the orchestration loop and
// the web search/fetch provider.
package crawler

import "context"

// SearchFetcher finds candidate URLs for a query and retrieves page text.
type SearchFetcher interface {
	// Search returns candidate URLs for the query. An exhausted search
	// budget is an error; a provider that simply found nothing is not.
	Search(ctx context.Context, query string) ([]string, error)
	// FetchText downloads the page and returns its extracted plain text.
	FetchText(ctx context.Context, url string) (string, error)
}
