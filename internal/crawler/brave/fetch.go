package brave

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// strippedSelectors matches markup that never carries posting content.
const strippedSelectors = "script, style, noscript, header, footer, nav"

// FetchText downloads the page at url and returns its visible text with
// non-content markup removed and whitespace collapsed to single spaces.
// Fetching never touches the search budget.
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	doc.Find(strippedSelectors).Remove()

	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
