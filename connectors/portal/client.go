// Package portal fetches cycle snapshots from the observation portal over
// HTTP, authenticating with OAuth2 client credentials when configured.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/obsched/auth"
	"github.com/kilianp07/obsched/core/snapshot"
	"github.com/kilianp07/obsched/infra/logger"
)

// Client is a snapshot.Source backed by the portal's snapshot endpoint.
type Client struct {
	url    string
	format string
	cred   *auth.ClientCred
	http   *http.Client
	log    logger.Logger
}

var _ snapshot.Source = (*Client)(nil)

// New returns a client for url. cred may be nil for unauthenticated portals.
func New(url, format string, timeout time.Duration, cred *auth.ClientCred) *Client {
	return &Client{
		url:    url,
		format: format,
		cred:   cred,
		http:   &http.Client{Timeout: timeout},
		log:    logger.New("portal"),
	}
}

// Fetch retrieves and decodes the current snapshot. A 401 answer triggers one
// retry with a freshly issued token.
func (c *Client) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	resp, err := c.get(ctx, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.cred != nil {
		resp.Body.Close()
		c.log.Warnf("portal rejected token, refreshing")
		if resp, err = c.get(ctx, true); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}
	snap, err := snapshot.Decode(resp.Body, c.formatOf(resp))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	c.log.Debugf("fetched snapshot now=%d with %d groups", snap.Now, len(snap.Groups))
	return snap, nil
}

func (c *Client) get(ctx context.Context, refresh bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml")
	if c.cred != nil {
		if refresh {
			if _, err := c.cred.ForceRefresh(ctx); err != nil {
				return nil, err
			}
		}
		if err := c.cred.SetAuthHeader(req); err != nil {
			return nil, fmt.Errorf("failed to set auth header: %w", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func (c *Client) formatOf(resp *http.Response) string {
	if c.format != "" {
		return c.format
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "yaml") {
		return "yaml"
	}
	return "json"
}
