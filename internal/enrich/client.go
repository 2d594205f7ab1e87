// Package enrich joins members against a third-party tabular statistics API.
package enrich

import (
	"context"
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

	"hemicycle.org/internal/obs"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultBackoff  = 10 * time.Minute
	DefaultPageSize = 20
	maxBodyBytes    = 4 << 20
)

// DefaultCandidates are header names tried, in order, as the join column.
var DefaultCandidates = []string{"id", "uid", "acteurRef", "id_an", "identifiant_an", "depute_id"}

var (
	// ErrEnrichmentUnavailable marks every enrichment failure. Callers report
	// it next to the primary result instead of failing the query.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
	// ErrNotConfigured is returned when no statistics endpoint is set.
	ErrNotConfigured = errors.New("enrichment endpoint not configured")
	// ErrNoJoinColumn is returned when the resource header has no usable key.
	ErrNoJoinColumn = errors.New("no join column in resource header")
	// ErrNoRows is returned when the join matched nothing.
	ErrNoRows = errors.New("no rows for member")
)

// EnrichmentError wraps a failed probe or lookup.
type EnrichmentError struct {
	Op  string
	Err error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s: %v", e.Op, e.Err)
}

func (e *EnrichmentError) Unwrap() []error { return []error{ErrEnrichmentUnavailable, e.Err} }

// Doer is the subset of *http.Client used by Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes the remote resource.
type Config struct {
	BaseURL    string
	Resource   string
	Candidates []string
	Timeout    time.Duration
	Backoff    time.Duration
	// Rate is the outbound request budget per second; zero disables limiting.
	Rate  float64
	Burst int
}

// Result is the set of rows matching one member.
type Result struct {
	Resource string           `json:"resource"`
	Column   string           `json:"column"`
	Rows     []map[string]any `json:"rows"`
}

// Client queries the statistics API. The join column is discovered once and
// cached; a failed discovery is cached for the back-off window.
type Client struct {
	http       Doer
	base       string
	resource   string
	candidates []string
	timeout    time.Duration
	backoff    time.Duration
	limiter    *rate.Limiter
	now        func() time.Time
	logger     *slog.Logger

	probes singleflight.Group

	mu       sync.Mutex
	column   string
	probeErr error
	failedAt time.Time
}

// Option configures Client.
type Option func(*Client)

// WithClient overrides the HTTP client.
func WithClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Client. An empty BaseURL yields a client whose lookups
// all fail with ErrNotConfigured.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		http:       http.DefaultClient,
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		resource:   cfg.Resource,
		candidates: cfg.Candidates,
		timeout:    cfg.Timeout,
		backoff:    cfg.Backoff,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		now:        time.Now,
		logger:     obs.Component("enrich"),
	}
	if len(c.candidates) == 0 {
		c.candidates = DefaultCandidates
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoff
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.base != "" && c.resource != ""
}

// JoinColumn returns the cached join column, probing the resource header on
// first use. Concurrent callers share one probe.
func (c *Client) JoinColumn(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", &EnrichmentError{Op: "probe", Err: ErrNotConfigured}
	}
	if col, ok, err := c.cached(); ok {
		return col, err
	}
	ch := c.probes.DoChan("probe", func() (any, error) {
		if col, ok, err := c.cached(); ok {
			return col, err
		}
		// The probe outlives any single caller; its result is shared.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		col, err := c.probe(pctx)
		c.mu.Lock()
		if err != nil {
			c.probeErr = err
			c.failedAt = c.now()
		} else {
			c.column = col
			c.probeErr = nil
		}
		c.mu.Unlock()
		return col, err
	})
	select {
	case <-ctx.Done():
		return "", &EnrichmentError{Op: "probe", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// cached reports a settled probe outcome, if any.
func (c *Client) cached() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.column != "" {
		return c.column, true, nil
	}
	if c.probeErr != nil && c.now().Sub(c.failedAt) < c.backoff {
		return "", true, c.probeErr
	}
	return "", false, nil
}

func (c *Client) probe(ctx context.Context) (string, error) {
	var body struct {
		Profile struct {
			Header []string `json:"header"`
		} `json:"profile"`
	}
	endpoint := c.base + "/api/resources/" + url.PathEscape(c.resource) + "/profile/"
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		obs.CountEnrichment("probe_error")
		c.logger.Warn("join column probe failed", "resource", c.resource, "error", err)
		return "", &EnrichmentError{Op: "probe", Err: err}
	}
	col, ok := pickColumn(body.Profile.Header, c.candidates)
	if !ok {
		obs.CountEnrichment("probe_error")
		c.logger.Warn("join column probe failed", "resource", c.resource, "header", body.Profile.Header)
		return "", &EnrichmentError{Op: "probe", Err: ErrNoJoinColumn}
	}
	c.logger.Info("join column discovered", "resource", c.resource, "column", col)
	return col, nil
}

// pickColumn returns the first candidate present in header, or else the first
// header whose name contains "id".
func pickColumn(header, candidates []string) (string, bool) {
	for _, cand := range candidates {
		for _, h := range header {
			if strings.EqualFold(h, cand) {
				return h, true
			}
		}
	}
	for _, h := range header {
		if strings.Contains(strings.ToLower(h), "id") {
			return h, true
		}
	}
	return "", false
}

// Lookup returns the rows whose join column equals memberID. An empty match
// is reported as ErrNoRows.
func (c *Client) Lookup(ctx context.Context, memberID string) (Result, error) {
	col, err := c.JoinColumn(ctx)
	if err != nil {
		return Result{}, err
	}
	q := url.Values{}
	q.Set(col+"__exact", memberID)
	q.Set("page_size", fmt.Sprint(DefaultPageSize))
	endpoint := c.base + "/api/resources/" + url.PathEscape(c.resource) + "/data/?" + q.Encode()

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var body struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.getJSON(lctx, endpoint, &body); err != nil {
		obs.CountEnrichment("error")
		return Result{}, &EnrichmentError{Op: "lookup", Err: err}
	}
	if len(body.Data) == 0 {
		obs.CountEnrichment("empty")
		return Result{}, &EnrichmentError{Op: "lookup", Err: ErrNoRows}
	}
	obs.CountEnrichment("ok")
	return Result{Resource: c.resource, Column: col, Rows: body.Data}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
