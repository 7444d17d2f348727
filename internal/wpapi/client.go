// Package wpapi implements the WordPress.org themes directory API client.
package wpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.wordpress.org"

	themeEndpoint = "/themes/info/1.1/"

	defaultPerPage      = 1000
	defaultPerPageLarge = 10000
	defaultTimeout      = 30 * time.Second
	defaultUserAgent    = "themewatch/1.0"
)

// Config controls Client behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// PerPage is the page size for info crawls; PerPageLarge for the
	// lighter stats projection.
	PerPage      int
	PerPageLarge int
}

// Client issues paginated GET requests against the themes endpoint. All
// three crawl kinds share the endpoint and are discriminated by the
// action parameter and a per-kind field projection.
type Client struct {
	baseURL      string
	userAgent    string
	httpClient   *http.Client
	perPage      int
	perPageLarge int
	logger       *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.PerPageLarge <= 0 {
		cfg.PerPageLarge = defaultPerPageLarge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		userAgent:    cfg.UserAgent,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		perPage:      cfg.PerPage,
		perPageLarge: cfg.PerPageLarge,
		logger:       logger,
	}
}

// FetchInfoPage requests one page of the static theme metadata: extended
// author, tags, theme_url and last_updated on; the volatile stat fields
// off to keep the payload small.
func (c *Client) FetchInfoPage(ctx context.Context, page int) (*ThemesPage, error) {
	params := url.Values{}
	params.Set("action", "query_themes")
	params.Set("request[page]", strconv.Itoa(page))
	params.Set("request[per_page]", strconv.Itoa(c.perPage))
	params.Set("request[fields][active_installs]", "0")
	params.Set("request[fields][num_ratings]", "0")
	params.Set("request[fields][rating]", "0")
	params.Set("request[fields][extended_author]", "1")
	params.Set("request[fields][tags]", "1")
	params.Set("request[fields][theme_url]", "1")
	params.Set("request[fields][last_updated]", "1")

	c.logger.Debug("requesting theme infos", zap.Int("page", page))
	return c.fetchThemesPage(ctx, "info", params)
}

// FetchStatsPage requests one page of the volatile popularity stats, with
// the heavy descriptive fields masked out.
func (c *Client) FetchStatsPage(ctx context.Context, page int) (*ThemesPage, error) {
	params := url.Values{}
	params.Set("action", "query_themes")
	params.Set("request[page]", strconv.Itoa(page))
	params.Set("request[per_page]", strconv.Itoa(c.perPageLarge))
	params.Set("request[fields][active_installs]", "1")
	params.Set("request[fields][num_ratings]", "1")
	params.Set("request[fields][rating]", "1")
	params.Set("request[fields][downloaded]", "1")
	params.Set("request[fields][description]", "0")
	params.Set("request[fields][homepage]", "0")
	params.Set("request[fields][template]", "0")
	params.Set("request[fields][screenshot_url]", "0")

	c.logger.Debug("requesting theme stats", zap.Int("page", page))
	return c.fetchThemesPage(ctx, "stats", params)
}

// FetchTags requests the full tag list. The response has no pagination
// envelope.
func (c *Client) FetchTags(ctx context.Context) (*TagList, error) {
	params := url.Values{}
	params.Set("action", "hot_tags")

	c.logger.Debug("requesting theme tags")
	body, reqURL, err := c.get(ctx, "tags", params)
	if err != nil {
		return nil, err
	}
	tags, err := decodeTags(body)
	if err != nil {
		return nil, &TransportError{Op: "tags", URL: reqURL, Err: fmt.Errorf("decode body: %w", err)}
	}
	return &TagList{Tags: tags, Raw: body}, nil
}

func (c *Client) fetchThemesPage(ctx context.Context, op string, params url.Values) (*ThemesPage, error) {
	body, reqURL, err := c.get(ctx, op, params)
	if err != nil {
		return nil, err
	}
	var page ThemesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &TransportError{Op: op, URL: reqURL, Err: fmt.Errorf("decode body: %w", err)}
	}
	page.Raw = body
	return &page, nil
}

func (c *Client) get(ctx context.Context, op string, params url.Values) ([]byte, string, error) {
	reqURL := c.baseURL + themeEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, reqURL, &TransportError{Op: op, URL: reqURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, reqURL, &TransportError{Op: op, URL: reqURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, reqURL, &TransportError{Op: op, URL: reqURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, reqURL, &TransportError{Op: op, URL: reqURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, reqURL, nil
}
