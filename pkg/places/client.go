// Package places provides a client for the Google Places text search API.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Places operations used by lead discovery.
type Client interface {
	// SearchText runs a text query ("plumbers in Brooklyn NY") and returns
	// matching places.
	SearchText(ctx context.Context, query string, opts ...SearchOption) ([]Place, error)
}

// Place is a single business result.
type Place struct {
	ID                 string   `json:"id"`
	DisplayName        Text     `json:"displayName"`
	FormattedAddress   string   `json:"formattedAddress"`
	InternationalPhone string   `json:"internationalPhoneNumber"`
	NationalPhone      string   `json:"nationalPhoneNumber"`
	WebsiteURI         string   `json:"websiteUri"`
	Rating             float64  `json:"rating"`
	UserRatingCount    int      `json:"userRatingCount"`
	Types              []string `json:"types"`
	Location           LatLng   `json:"location"`
	PrimaryTypeDisplay Text     `json:"primaryTypeDisplayName"`
}

// Text is the localized text wrapper used throughout the Places API.
type Text struct {
	Text string `json:"text"`
}

// LatLng is a geographic coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SearchOption configures a text search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	maxResults int
}

// WithMaxResults caps the number of returned places (Places API limit is 20).
func WithMaxResults(n int) SearchOption {
	return func(o *searchOpts) {
		o.maxResults = n
	}
}

// Option configures the Places client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Places client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://places.googleapis.com/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fieldMask lists the place fields discovery needs. Asking for a narrow mask
// keeps per-request billing at the lower SKU.
const fieldMask = "places.id,places.displayName,places.formattedAddress," +
	"places.internationalPhoneNumber,places.nationalPhoneNumber,places.websiteUri," +
	"places.rating,places.userRatingCount,places.types,places.location," +
	"places.primaryTypeDisplayName"

func (c *httpClient) SearchText(ctx context.Context, query string, opts ...SearchOption) ([]Place, error) {
	so := &searchOpts{maxResults: 20}
	for _, opt := range opts {
		opt(so)
	}

	payload, err := json.Marshal(map[string]any{
		"textQuery":      query,
		"maxResultCount": so.maxResults,
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/places:searchText", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: search request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Places []Place `json:"places"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	return result.Places, nil
}
