package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pipewatch/pipewatch/pipeline/internal/config"
	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
)

const maxResponseBody = 64 << 20

// Client calls the quote source.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a Client for cfg. The HTTP client is built once and reused.
func New(cfg config.QuoteSourceConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("quotes: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("quotes: url %q: %w", cfg.URL, err)
	}
	return &Client{
		endpoint: cfg.URL,
		http: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: cfg.Auth},
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Key())
	}
	return t.base.RoundTrip(req)
}

type ticksResponse struct {
	Ticks []partition.Tick `json:"ticks"`
}

// Fetch returns the ticks for date restricted to symbols, ordered by symbol
// then time. Ticks for symbols that were not requested are discarded.
func (c *Client) Fetch(ctx context.Context, date string, symbols []string) ([]partition.Tick, error) {
	u, _ := url.Parse(c.endpoint)
	q := u.Query()
	q.Set("date", date)
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("quotes: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quotes: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("quotes: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body ticksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("quotes: decode response: %w", err)
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := body.Ticks[:0]
	for _, t := range body.Ticks {
		if !want[t.Symbol] {
			continue
		}
		if t.At.IsZero() || !t.Price.IsPositive() || t.Volume < 0 {
			return nil, fmt.Errorf("quotes: invalid tick %s at %v: price=%s volume=%d", t.Symbol, t.At, t.Price, t.Volume)
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}
