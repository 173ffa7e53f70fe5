// Package rest is a small shared helper for the component kinds that talk
// to a plain JSON REST API over a bearer token (GitHub, Gmail/Outlook's
// REST surfaces, Spotify) instead of a dedicated SDK. It builds one
// worldline-go/klient client per call, with klient's default retry policy
// (backed by hashicorp/go-retryablehttp under the hood) left enabled so
// transient 5xx/network failures are retried automatically.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/worldline-go/klient"
)

// DefaultTimeout bounds every request issued through Do.
const DefaultTimeout = 30 * time.Second

// Client wraps a klient.Client with a bearer token applied to every request.
type Client struct {
	http  *http.Client
	token string
	base  string
}

// New builds a Client. base is prefixed to every relative path passed to
// Do; an already-absolute path is used as-is.
func New(base, token string) (*Client, error) {
	k, err := klient.New(
		klient.WithBaseURL(base),
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("rest: build client: %w", err)
	}

	return &Client{http: k.HTTP, token: token, base: base}, nil
}

// Do issues method/path with an optional JSON body and decodes the JSON
// response into out (out may be nil to discard the body).
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	url := path
	if len(path) > 0 && path[0] == '/' {
		url = c.base + path
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("rest: marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("rest: build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rest: do request: %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("rest: decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("rest: %s %s returned %d", method, url, resp.StatusCode)
	}

	return resp.StatusCode, nil
}
