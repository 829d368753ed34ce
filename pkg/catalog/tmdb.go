package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediawish/pkg/domain"
)

const (
	defaultBaseURL    = "https://api.themoviedb.org/3"
	defaultLanguage   = "de-DE"
	defaultMaxResults = 20
	defaultTimeout    = 5 * time.Second

	maxErrorBodyBytes = 512
)

var (
	// ErrMisconfiguredCredentials means the TMDb read token is not set.
	ErrMisconfiguredCredentials = errors.New("catalog credentials not configured")
	// ErrUpstreamUnavailable covers transport failures, non-2xx answers and bad payloads.
	ErrUpstreamUnavailable = errors.New("catalog upstream unavailable")
	// ErrEmptyQuery is returned for blank search terms.
	ErrEmptyQuery = errors.New("search query required")
)

// UpstreamError carries the TMDb status and a truncated body for server-side logs.
// It must never be rendered to clients.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog upstream status %d", e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamUnavailable
}

// Options configures the TMDb client.
type Options struct {
	BaseURL    string
	Token      string
	Language   string
	MaxResults int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the TMDb multi-search endpoint.
type Client struct {
	baseURL    string
	token      string
	language   string
	maxResults int
	httpClient *http.Client
}

// NewClient constructs a TMDb client. A missing token is reported at search
// time so the caller can map it to a generic internal error.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := strings.TrimSpace(opts.Language)
	if language == "" {
		language = defaultLanguage
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		language:   language,
		maxResults: maxResults,
		httpClient: httpClient,
	}
}

// Search returns at most maxResults movie and tv hits for query.
func (c *Client) Search(ctx context.Context, query string) ([]domain.CatalogSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if c.token == "" {
		return nil, ErrMisconfiguredCredentials
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("language", c.language)
	params.Set("include_adult", "false")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/multi?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	var payload multiSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}
	return normalize(payload.Results, c.maxResults), nil
}

type multiSearchResponse struct {
	Results []multiSearchItem `json:"results"`
}

// multiSearchItem holds the union of movie and tv fields TMDb returns.
type multiSearchItem struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   *string `json:"poster_path"`
}
