package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/obsched/auth"
)

// SnapshotConfig locates the cycle snapshot: a local file or the
// observation portal.
type SnapshotConfig struct {
	// Source is "file" or "portal". It defaults to "portal" when a URL is set.
	Source string `json:"source"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	// Format forces "json" or "yaml" decoding of portal responses; empty
	// follows the Content-Type header.
	Format         string    `json:"format"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Auth           auth.Conf `json:"auth"`
}

// SetDefaults picks the source and the request timeout.
func (c *SnapshotConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = "file"
		if c.URL != "" {
			c.Source = "portal"
		}
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks the fields the selected source needs. A file source
// without a path is accepted; the service then requires a source override.
func (c SnapshotConfig) Validate() error {
	switch c.Source {
	case "file":
	case "portal":
		if c.URL == "" {
			return fmt.Errorf("url is required for the portal source")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	switch c.Format {
	case "", "json", "yaml", "yml":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return c.Auth.Validate()
}

// Timeout returns the portal request timeout.
func (c SnapshotConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIConfig exposes the read-only schedule API. An empty Addr disables it.
type APIConfig struct {
	Addr string `json:"addr"`
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string `json:"token"`
}
