// Package arcgis is a client for ArcGIS FeatureServer layer queries returning Esri JSON.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/source"
)

// Feature is one row of a layer query: attributes plus an undecoded Esri geometry.
type Feature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	Geometry   json.RawMessage            `json:"geometry"`
}

// Page is one query response. ExceededTransferLimit signals that more pages exist.
type Page struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Error                 *APIError `json:"error,omitempty"`
}

// APIError is the error envelope ArcGIS returns with HTTP 200.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// Client queries one FeatureServer layer endpoint (…/FeatureServer/<n>/query).
type Client struct {
	queryURL  string
	outFields []string
	fetcher   *source.Fetcher
}

// NewClient creates a client for queryURL requesting outFields with every feature.
func NewClient(queryURL string, outFields []string, fetcher *source.Fetcher) *Client {
	return &Client{queryURL: queryURL, outFields: outFields, fetcher: fetcher}
}

// QueryPage fetches the features starting at offset, in WGS84.
func (c *Client) QueryPage(ctx context.Context, offset int) (Page, error) {
	form := url.Values{}
	form.Set("where", "1=1")
	form.Set("outFields", strings.Join(c.outFields, ","))
	form.Set("returnGeometry", "true")
	form.Set("outSR", "4326")
	form.Set("f", "json")
	form.Set("resultOffset", strconv.Itoa(offset))
	payload := form.Encode()

	var page Page
	err := c.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, func(body io.Reader) error {
		page = Page{}
		return json.NewDecoder(body).Decode(&page)
	})
	if err != nil {
		return Page{}, err
	}
	if page.Error != nil {
		return Page{}, page.Error
	}
	return page, nil
}

// FetchAll pages through the layer until the transfer-limit flag clears or a page is
// empty. Any page failure aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context) ([]Feature, error) {
	var all []Feature
	offset := 0
	for {
		page, err := c.QueryPage(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("arcgis page at offset %d: %w", offset, err)
		}
		if len(page.Features) == 0 {
			break
		}
		all = append(all, page.Features...)
		c.fetcher.Log.Info("fetched page", "offset", offset, "records", len(page.Features), "more", page.ExceededTransferLimit)

		if !page.ExceededTransferLimit {
			break
		}
		offset += len(page.Features)
	}
	return all, nil
}
