// Package socrata is a client for Socrata SODA datasets queried with SoQL.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/source"
)

// Client queries one Socrata host.
type Client struct {
	baseURL  string
	appToken string
	fetcher  *source.Fetcher
}

// NewClient creates a client for baseURL (e.g. https://data.cityofnewyork.us). appToken is
// sent as X-App-Token when non-empty.
func NewClient(baseURL, appToken string, fetcher *source.Fetcher) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		appToken: appToken,
		fetcher:  fetcher,
	}
}

// Query runs a SoQL query against dataset and returns one raw JSON value per row. Rows are
// left undecoded so that a single malformed row cannot fail the page.
func (c *Client) Query(ctx context.Context, dataset, soql string) ([]json.RawMessage, error) {
	fullURL := fmt.Sprintf("%s/resource/%s.json?$query=%s", c.baseURL, url.PathEscape(dataset), url.QueryEscape(soql))

	var rows []json.RawMessage
	err := c.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.appToken != "" {
			req.Header.Set("X-App-Token", c.appToken)
		}
		return req, nil
	}, func(body io.Reader) error {
		rows = nil
		return json.NewDecoder(body).Decode(&rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Quote renders s as a SoQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
