// Package httpfetch provides a concrete linkval.HttpClient built on
// net/http, reusing the transport tuning and User-Agent convention of
// a hand-rolled link checker but leaving retry/backoff entirely to the
// engine that calls it.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"linkval"
)

const userAgent = "linkval/0.1.0 (Link Validator)"

// Client wraps *http.Client with connection-reuse tuning and a bounded
// redirect policy. It issues exactly one HTTP request per Do call: the
// linkval engine owns retry scheduling, so retrying here too would
// double-count attempts against a group's retryAttempts budget.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with the given overall per-request
// timeout and a 10-redirect cap.
func NewClient(timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
}

// Do implements linkval.HttpClient.
func (c *Client) Do(ctx context.Context, method, uri string, headers http.Header) (*linkval.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: building request for %s: %w", uri, err)
	}
	req.Header.Set("User-Agent", userAgent)
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: reading response body from %s: %w", uri, err)
	}

	return &linkval.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
