package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	GraphBaseURL = "https://graph.microsoft.com"
	GraphScope   = "https://graph.microsoft.com/.default"

	DefenderBaseURL = "https://api.securitycenter.microsoft.com"
	DefenderScope   = "https://api.securitycenter.microsoft.com/.default"
)

// Options configures a Client. Zero values fall back to the Graph v1.0/beta
// surface with the default retry policy.
type Options struct {
	BaseURL           string
	Scope             string
	Retry             *RetryPolicy
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is a minimal REST client for Microsoft Graph and the Defender for
// Endpoint API. It retries throttled requests with bounded backoff and
// propagates every other failure immediately.
type Client struct {
	httpClient *http.Client
	cred       azcore.TokenCredential
	baseURL    string
	scope      string
	retry      RetryPolicy
	limiter    *rate.Limiter

	mu    sync.Mutex
	token azcore.AccessToken
}

func NewClient(cred azcore.TokenCredential, opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		cred:       cred,
		baseURL:    opts.BaseURL,
		scope:      opts.Scope,
		retry:      DefaultRetryPolicy(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = GraphBaseURL
	}
	if c.scope == "" {
		c.scope = GraphScope
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// Get issues a GET and decodes the JSON response body.
func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body. Used only for idempotent report
// export jobs where the server assigns the job ID.
func (c *Client) Post(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var out map[string]any
	bo := &throttleBackOff{policy: c.retry}

	op := func() error {
		resp, err := c.attempt(ctx, method, path, body)
		if err != nil {
			var te *throttleError
			if errors.As(err, &te) {
				bo.hint = te.retryAfter
				slog.Debug("request throttled, backing off", "method", method, "path", path)
				return err
			}
			return backoff.Permanent(err)
		}
		out = resp
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		var te *throttleError
		if errors.As(err, &te) {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.retry.MaxRetries+1, te.apiErr)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body any) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.baseURL + path
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cred != nil {
		token, err := c.bearer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	apiErr := &APIError{Status: resp.StatusCode, Body: string(raw)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 400 && isThrottleBody(string(raw)):
		return nil, &throttleError{
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			apiErr:     apiErr,
		}
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= 400 && isPermissionBody(string(raw)):
		return nil, fmt.Errorf("%w: %v", ErrPermission, apiErr)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apiErr
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return decoded, nil
}

// bearer returns a cached access token, refreshing when it is within two
// minutes of expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Token != "" && time.Until(c.token.ExpiresOn) > 2*time.Minute {
		return c.token.Token, nil
	}
	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{c.scope}})
	if err != nil {
		return "", err
	}
	c.token = token
	return token.Token, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
