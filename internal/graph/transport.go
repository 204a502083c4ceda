// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxRetryDelay caps both exponential backoff and Retry-After.
const maxRetryDelay = 30 * time.Second

// APIError is a non-2xx response from the Graph API. Body carries the
// service's error payload for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// NewTokenHTTPClient returns an HTTP client that sends a delegated access
// token as bearer credential.
func NewTokenHTTPClient(ctx context.Context, accessToken string) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	return oauth2.NewClient(ctx, ts)
}

// NewAppHTTPClient returns an HTTP client authenticated with the
// client-credentials flow of an Entra ID app registration.
func NewAppHTTPClient(ctx context.Context, tenantID, clientID, clientSecret string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return creds.Client(ctx)
}

// requestHeader builds extra request headers from key/value pairs.
func requestHeader(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// preferHTML asks Graph for HTML message bodies.
var preferHTML = requestHeader("Prefer", `outlook.body-content-type="html"`)

// get performs a GET and returns the body of a 200 response. Throttling and
// gateway errors are retried with exponential backoff, honouring Retry-After.
func (c *Client) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.getOnce(ctx, rawURL, header)
		if err == nil {
			return body, nil
		}
		if retryAfter < 0 || attempt >= c.maxRetries || ctx.Err() != nil {
			return nil, err
		}

		delay := c.backoff(attempt)
		if retryAfter > 0 {
			delay = min(retryAfter, maxRetryDelay)
		}

		slog.Warn("graph request failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// getOnce performs a single request. retryAfter is negative when the error
// must not be retried, zero for the default backoff, or the server's hint.
func (c *Client) getOnce(ctx context.Context, rawURL string, header http.Header) (body []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, 0, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	if !retryable(resp.StatusCode) {
		slog.Error("graph API error", "status", resp.StatusCode, "body", string(body))
		return nil, -1, apiErr
	}
	return nil, parseRetryAfter(resp.Header.Get("Retry-After")), apiErr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryDelay << attempt
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
