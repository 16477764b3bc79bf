// Package fetch is the outbound HTTP capability of the engine: fetch a JSON
// document from a URL with a bounded timeout, an optional TLS-verify
// override, deduplication of concurrent identical discovery fetches and a
// short-lived negative cache for discovery misses.
package fetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds each outbound call when no timeout is configured.
const DefaultTimeout = 1200 * time.Millisecond

// StatusError reports a non-2xx response from an endpoint.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected status %d from %s", e.Code, e.URL)
}

// Options configures a Client. The zero value is usable.
type Options struct {
	// Timeout bounds each individual network call. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// InsecureSkipTLSVerify disables certificate verification. Development
	// and debugging only.
	InsecureSkipTLSVerify bool

	// HTTPClient overrides the underlying client. Transport settings derived
	// from InsecureSkipTLSVerify are not applied to an injected client.
	HTTPClient *http.Client

	// RequestsPerSecond throttles outbound calls. Zero means unlimited.
	RequestsPerSecond float64

	// NegativeTTL is how long a discovery miss (a status listed in
	// CacheableStatusCodes) is remembered before the URL is probed again.
	NegativeTTL time.Duration

	// CacheableStatusCodes lists the statuses worth remembering as misses.
	CacheableStatusCodes []int

	Logger *slog.Logger
}

// Client fetches JSON documents. Safe for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	group     singleflight.Group
	log       *slog.Logger
	cacheable map[int]bool
	negTTL    time.Duration

	mu       sync.Mutex
	negative map[string]time.Time
}

// New builds a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		http:      opts.HTTPClient,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		negTTL:    opts.NegativeTTL,
		cacheable: make(map[int]bool, len(opts.CacheableStatusCodes)),
		negative:  make(map[string]time.Time),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipTLSVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.http = &http.Client{Transport: transport}
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	for _, code := range opts.CacheableStatusCodes {
		c.cacheable[code] = true
	}
	return c
}

// GetDiscovery fetches a discovery document. Concurrent fetches of the same
// URL are collapsed into one network call, and misses with a cacheable
// status are remembered for the negative TTL.
func (c *Client) GetDiscovery(ctx context.Context, rawURL string) (map[string]any, error) {
	c.mu.Lock()
	until, miss := c.negative[rawURL]
	if miss && time.Now().After(until) {
		delete(c.negative, rawURL)
		miss = false
	}
	c.mu.Unlock()
	if miss {
		return nil, fmt.Errorf("fetch: %s is a cached discovery miss", rawURL)
	}

	doc, err, _ := c.group.Do(rawURL, func() (any, error) {
		doc, err := c.GetJSON(ctx, rawURL, nil)
		var se *StatusError
		if c.negTTL > 0 && errors.As(err, &se) && c.cacheable[se.Code] {
			c.mu.Lock()
			c.negative[rawURL] = time.Now().Add(c.negTTL)
			c.mu.Unlock()
		}
		return doc, err
	})
	if err != nil {
		return nil, err
	}
	return doc.(map[string]any), nil
}

// GetJSON performs a GET against rawURL and decodes the JSON object body.
// Any non-200 status is a StatusError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: building request for %s: %w", rawURL, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	return c.doJSON(ctx, req)
}

// PostFormJSON performs a form-encoded POST with HTTP basic auth and decodes
// the JSON object body.
func (c *Client) PostFormJSON(ctx context.Context, rawURL string, form url.Values, user, pass string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("fetch: building request for %s: %w", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(user, pass)
	return c.doJSON(ctx, req)
}

func (c *Client) doJSON(ctx context.Context, req *http.Request) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "outbound request failed", "url", req.URL.String(), "err", err)
		return nil, fmt.Errorf("fetch: %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.DebugContext(ctx, "unexpected response status", "url", req.URL.String(), "status", resp.StatusCode)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		c.log.DebugContext(ctx, "response is not a JSON object", "url", req.URL.String(), "err", err)
		return nil, fmt.Errorf("fetch: %s did not return a JSON object: %w", req.URL, err)
	}
	return doc, nil
}
