// internal/common/http/client.go

// Package http wraps the standard client with a hard request timeout. The
// remote admin API backing the application directory has no SLA tighter than
// this timeout, so every outbound call goes through here rather than a bare
// http.DefaultClient.
package http

import (
	"context"
	"net/http"
	"time"
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// DoWithContext issues req under ctx so a caller deadline tighter than the
// client timeout still applies (the disbursement call relies on this).
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}
