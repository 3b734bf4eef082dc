// Package upstream implements a client for the de-facto SMM panel
// provider API. Providers expose a single endpoint that multiplexes
// operations through an action parameter; the concrete parameter names,
// HTTP method, and wire formats vary per provider and are configured on
// the provider record rather than hard-coded here.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
)

// maxResponseBytes caps how much of an upstream response is read.
// Provider catalogs run to a few megabytes; anything past this is a
// misbehaving upstream.
const maxResponseBytes = 32 << 20

// Client talks to upstream SMM providers. It paces requests per
// provider according to each provider's configured rate limit.
type Client struct {
	httpClient *http.Client

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewClient creates a new upstream client. Per-request timeouts come
// from the caller's context, not the http.Client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
		limiters:   make(map[int64]*rate.Limiter),
	}
}

// limiter returns the pacing limiter for a provider, creating it on
// first use. A changed rate limit takes effect on the next lookup.
func (c *Client) limiter(p *models.Provider) *rate.Limiter {
	perMin := p.RateLimitPerMin
	if perMin <= 0 {
		perMin = 60
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lim, ok := c.limiters[p.ID]
	limit := rate.Limit(float64(perMin) / 60.0)
	if !ok {
		lim = rate.NewLimiter(limit, 1)
		c.limiters[p.ID] = lim
	} else if lim.Limit() != limit {
		lim.SetLimit(limit)
	}

	return lim
}

// Service is one entry of an upstream provider's service catalog.
// Providers are loose with types (numbers as strings and vice versa),
// so the flexible field types absorb both encodings.
type Service struct {
	ID       FlexString `json:"service"`
	Name     string     `json:"name"`
	Category string     `json:"category"`
	Type     string     `json:"type"`
	Rate     FlexString `json:"rate"`
	Min      FlexInt    `json:"min"`
	Max      FlexInt    `json:"max"`
	Status   FlexString `json:"status"`
}

// FetchServices retrieves the provider's full service catalog.
func (c *Client) FetchServices(ctx context.Context, p *models.Provider) ([]Service, error) {
	body, err := c.call(ctx, p, p.ServicesAction, p.ServicesEndpoint, nil)
	if err != nil {
		return nil, err
	}

	// Most providers return a bare array; some wrap it in an object.
	var services []Service
	if err := json.Unmarshal(body, &services); err == nil {
		return services, nil
	}

	var wrapped struct {
		Services []Service `json:"services"`
		Error    string    `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, NewError(KindUpstream, "Invalid response from provider", err)
	}
	if wrapped.Error != "" {
		return nil, NewError(KindUpstream, wrapped.Error, nil)
	}

	return wrapped.Services, nil
}

// FetchBalance retrieves the provider's account balance.
func (c *Client) FetchBalance(ctx context.Context, p *models.Provider) (decimal.Decimal, error) {
	body, err := c.call(ctx, p, p.BalanceAction, p.BalanceEndpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		Balance FlexString `json:"balance"`
		Error   string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, NewError(KindUpstream, "Invalid response from provider", err)
	}
	if resp.Error != "" {
		return decimal.Zero, NewError(KindUpstream, resp.Error, nil)
	}

	balance, err := decimal.NewFromString(strings.TrimSpace(string(resp.Balance)))
	if err != nil {
		return decimal.Zero, NewError(KindUpstream, "Provider returned an unparsable balance", err)
	}

	return balance, nil
}

// Probe issues a balance request to verify the provider is reachable
// and the key is accepted. The caller bounds it with a short context.
func (c *Client) Probe(ctx context.Context, p *models.Provider) error {
	_, err := c.FetchBalance(ctx, p)
	return err
}

// call issues one upstream request for the given action and returns the
// raw response body. extra params are merged after the key and action.
func (c *Client) call(ctx context.Context, p *models.Provider, action, endpoint string, extra map[string]string) ([]byte, error) {
	if !p.Configured() {
		return nil, NewError(KindValidation, "Provider is not configured", nil)
	}

	if err := c.limiter(p).Wait(ctx); err != nil {
		return nil, classify(err, "Provider request timed out", "Provider request cancelled")
	}

	params := map[string]string{
		p.APIKeyParam: p.APIKey,
		p.ActionParam: action,
	}
	for k, v := range extra {
		params[k] = v
	}

	req, err := c.buildRequest(ctx, p, endpoint, params)
	if err != nil {
		return nil, NewError(KindValidation, "Invalid provider configuration", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, "Provider request timed out", "Unable to connect to provider")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(err, "Provider request timed out", "Unable to read provider response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindUpstream,
			fmt.Sprintf("Provider returned HTTP %d", resp.StatusCode), nil)
	}

	return body, nil
}

// buildRequest assembles the HTTP request per the provider's configured
// method and request format.
func (c *Client) buildRequest(ctx context.Context, p *models.Provider, endpoint string, params map[string]string) (*http.Request, error) {
	target := strings.TrimRight(p.APIURL, "/")
	if endpoint != "" {
		target += "/" + strings.TrimLeft(endpoint, "/")
	}

	if p.HTTPMethod == models.MethodGet {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid api url: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}

	if p.RequestFormat == models.FormatJSON {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// WithTimeout derives a context bounded by the provider's configured
// timeout.
func WithTimeout(ctx context.Context, p *models.Provider) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.Timeout())
}
