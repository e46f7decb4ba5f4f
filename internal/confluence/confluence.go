// Package confluence is a minimal Confluence REST client: it fetches page
// bodies and downloads attachments referenced from them.
package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chriskillpack/imgsum/fetcher"
)

const apiRoot = "rest/api/"

// Client talks to a single Confluence site.
type Client struct {
	base     *url.URL
	username string
	token    string

	client *http.Client
}

var _ fetcher.ContentFetcher = &Client{}

// ErrNoSite is returned for site relative requests by a client created
// without a base URL.
var ErrNoSite = errors.New("no confluence url configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.URL, e.Status)
}

// Page is the subset of a Confluence content object used here.
type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		View struct {
			Value string `json:"value"`
		} `json:"view"`
	} `json:"body"`
}

// New returns a client for the site at baseURL, e.g.
// "https://example.atlassian.net/wiki". username and token are used for basic
// auth when set. httpClient defaults to http.DefaultClient.
//
// An empty baseURL returns a client that can only fetch absolute URLs, which
// is enough for images of pages read from local files.
func New(baseURL, username, token string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		return &Client{client: httpClient}, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing confluence url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("confluence url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return &Client{base: u, username: username, token: token, client: httpClient}, nil
}

// Resolve turns path into an absolute URL. Absolute paths are resolved
// against the site, others against the REST API root.
func (c *Client) Resolve(path string, absolute bool) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	if c.base == nil {
		return nil, fmt.Errorf("resolving %q: %w", path, ErrNoSite)
	}
	if absolute {
		// Site relative paths like "/wiki/download/..." keep their own prefix.
		return c.base.ResolveReference(ref), nil
	}
	api := c.base.ResolveReference(&url.URL{Path: apiRoot})
	return api.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}), nil
}

func (c *Client) Request(ctx context.Context, path string, absolute bool) (*fetcher.Response, error) {
	u, err := c.Resolve(path, absolute)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// Only send credentials to the configured site
	if c.base != nil && c.username != "" && u.Host == c.base.Host {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &fetcher.Response{Content: content, ContentType: resp.Header.Get("Content-Type")}, nil
}

// GetPage fetches a page with its rendered body.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	resp, err := c.Request(ctx, "content/"+url.PathEscape(id)+"?expand=body.view", false)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	if err := json.Unmarshal(resp.Content, page); err != nil {
		return nil, fmt.Errorf("decoding page %s: %w", id, err)
	}
	return page, nil
}
