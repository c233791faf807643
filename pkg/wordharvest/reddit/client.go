// Package reddit fetches subreddit listings from the public JSON endpoints.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "wordharvest/1.0"
	DefaultTimeout   = 15 * time.Second

	// MaxLimit is the largest page the listing endpoint returns.
	MaxLimit = 100

	maxBodyBytes = 10 * 1024 * 1024
)

// Options configures a Client. Zero fields take the defaults above.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ingest.Fetcher against /r/{sub}/new.json.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

var _ ingest.Fetcher = (*Client)(nil)

// New creates a listing client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
	}
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data listingPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingPost struct {
	ingest.RawItem
	SelfTextHTML string `json:"selftext_html"`
}

// FetchLatest returns the newest posts of subreddit, newest first. limit is
// clamped to 1..MaxLimit. Every failure is a *internalerr.FetchError.
func (c *Client) FetchLatest(ctx context.Context, subreddit string, limit int) ([]ingest.RawItem, error) {
	items, err := c.fetch(ctx, subreddit, limit)
	if err != nil {
		return nil, &internalerr.FetchError{Source: subreddit, Err: err}
	}
	return items, nil
}

func (c *Client) fetch(ctx context.Context, subreddit string, limit int) ([]ingest.RawItem, error) {
	limit = min(max(limit, 1), MaxLimit)

	endpoint := fmt.Sprintf("%s/r/%s/new.json?limit=%s",
		c.baseURL, url.PathEscape(subreddit), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if l.Kind != "Listing" {
		return nil, fmt.Errorf("unexpected payload kind %q", l.Kind)
	}

	items := make([]ingest.RawItem, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		item := child.Data.RawItem
		if item.SelfText == "" && child.Data.SelfTextHTML != "" {
			item.SelfText = stripHTML(html.UnescapeString(child.Data.SelfTextHTML))
		}
		items = append(items, item)
	}
	return items, nil
}

func stripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Fallback to string if parsing fails
		return s
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			buf.WriteByte('\n')
		}
	}
	extractText(doc)

	return strings.TrimSpace(buf.String())
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "pre", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
		return true
	}
	return false
}
