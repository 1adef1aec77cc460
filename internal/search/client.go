// Package search implements the external search capability against a
// SearxNG-compatible JSON endpoint. Search is best-effort: failures surface
// as errors for the caller to log, never as panics or round aborts.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	requestTimeout  = 20 * time.Second
	maxPageBytes    = 256 * 1024
	maxExcerptChars = 4000
)

// Result is one search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	PageContent string `json:"pageContent,omitempty"`
}

// Response is the outcome of one query.
type Response struct {
	Results []Result `json:"results"`
	Err     string   `json:"error,omitempty"`
}

// Searcher is the capability consumed by the orchestration engine.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int, fetchPageContent bool) (*Response, error)
}

// Client queries a SearxNG-compatible instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client for the given SearxNG base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one query, returning at most maxResults hits. When
// fetchPageContent is set, each hit's page is fetched and reduced to a plain
// text excerpt; per-page failures are silently skipped.
func (c *Client) Search(ctx context.Context, query string, maxResults int, fetchPageContent bool) (*Response, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search: unexpected status %d: %s", resp.StatusCode, strconv.Quote(string(body)))
	}

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := &Response{}
	for _, r := range sr.Results {
		if maxResults > 0 && len(out.Results) >= maxResults {
			break
		}
		result := Result{Title: r.Title, URL: r.URL, Snippet: r.Content}
		if fetchPageContent {
			result.PageContent = c.fetchExcerpt(ctx, r.URL)
		}
		out.Results = append(out.Results, result)
	}
	return out, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// fetchExcerpt downloads a page and reduces it to plain text. Best-effort:
// any failure yields an empty excerpt.
func (c *Client) fetchExcerpt(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return ""
	}
	text := scriptRe.ReplaceAllString(string(body), " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	// Cap on a rune boundary: the excerpt is fed back to models and must
	// stay valid UTF-8.
	if runes := []rune(text); len(runes) > maxExcerptChars {
		text = string(runes[:maxExcerptChars])
	}
	return text
}
