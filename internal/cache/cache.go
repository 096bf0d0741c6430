// Package cache persists the set of URLs a run has already disposed of, so
// re-runs never reprocess them.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// SeenURLs is a monotonically growing set of URL strings. URLs are never
// removed, within a run or across runs.
type SeenURLs struct {
	urls map[string]struct{}
}

type document struct {
	SeenURLs []string `json:"seen_urls"`
}

// New returns an empty seen-set.
func New() *SeenURLs {
	return &SeenURLs{urls: make(map[string]struct{})}
}

// FromFile loads the seen-set from path. A missing file is an empty cache,
// not an error.
func FromFile(path string) (*SeenURLs, error) {
	s := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	for _, url := range doc.SeenURLs {
		s.urls[url] = struct{}{}
	}
	return s, nil
}

// ToFile writes the seen-set to path as a sorted JSON document, creating
// parent directories as needed.
func (s *SeenURLs) ToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	urls := make([]string, 0, len(s.urls))
	for url := range s.urls {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(document{SeenURLs: urls})
}

func (s *SeenURLs) Add(url string) {
	s.urls[url] = struct{}{}
}

func (s *SeenURLs) Has(url string) bool {
	_, ok := s.urls[url]
	return ok
}

func (s *SeenURLs) Len() int {
	return len(s.urls)
}

// Unseen filters urls down to those not yet in the set, preserving order.
func (s *SeenURLs) Unseen(urls []string) []string {
	fresh := make([]string, 0, len(urls))
	for _, url := range urls {
		if !s.Has(url) {
			fresh = append(fresh, url)
		}
	}
	return fresh
}
