// Package jobs holds the accepted job listing model and its result set
// persistence.
package jobs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// StatusNew marks a freshly discovered result. It is the only status written
// today; the field is reserved for future lifecycle states such as
// distinguishing already-applied jobs.
const StatusNew = "new"

// csvHeader fixes the column order of the tabular output.
var csvHeader = []string{"title", "company", "url", "score", "reason", "status"}

// Result is a persisted, accepted job listing. Immutable once created.
type Result struct {
	Title   string `json:"title"`
	Company string `json:"company"`
	URL     string `json:"url"`
	Score   int    `json:"score"`
	Reason  string `json:"reason"`
	Status  string `json:"status"`
}

// Results is the ordered collection of accepted listings gathered by a run.
type Results struct {
	Items []*Result
}

func (r *Results) Len() int {
	return len(r.Items)
}

func (r *Results) Append(item *Result) {
	r.Items = append(r.Items, item)
}

// URLs returns the listing URLs in acceptance order.
func (r *Results) URLs() []string {
	urls := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		urls = append(urls, item.URL)
	}
	return urls
}

// ToJSONFile writes the results as an indented list of records, creating
// parent directories as needed. An empty result set still produces a file.
func (r *Results) ToJSONFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	items := r.Items
	if items == nil {
		items = []*Result{}
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// ToCSVFile writes the results as a table with a fixed column order:
// title, company, url, score, reason, status.
func (r *Results) ToCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range r.Items {
		record := []string{
			item.Title,
			item.Company,
			item.URL,
			strconv.Itoa(item.Score),
			item.Reason,
			item.Status,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (r *Results) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "job_results_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	return file.Name(), nil
}

// ReportByScore groups results into score buckets of ten for a quick overview.
func (r *Results) ReportByScore() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, item := range r.Items {
		bucket := item.Score / 10 * 10
		key := fmt.Sprintf("%d-%d", bucket, bucket+9)
		report[key] = append(report[key], map[string]string{
			"title":  item.Title,
			"url":    item.URL,
			"score":  strconv.Itoa(item.Score),
			"reason": item.Reason,
		})
	}
	return report
}
