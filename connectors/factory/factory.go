// Package factory builds the snapshot source named by the configuration.
package factory

import (
	"fmt"

	"github.com/kilianp07/obsched/auth"
	"github.com/kilianp07/obsched/config"
	"github.com/kilianp07/obsched/connectors/portal"
	"github.com/kilianp07/obsched/core/snapshot"
)

const (
	IDFile   = "file"
	IDPortal = "portal"
)

var (
	errUnknownSource = "unknown snapshot source: %s"
)

// NewSource returns the snapshot source cfg selects.
func NewSource(cfg config.SnapshotConfig) (snapshot.Source, error) {
	switch cfg.Source {
	case IDFile, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("snapshot.path is required")
		}
		return snapshot.FileSource{Path: cfg.Path}, nil
	case IDPortal:
		if cfg.URL == "" {
			return nil, fmt.Errorf("snapshot.url is required")
		}
		var cred *auth.ClientCred
		if cfg.Auth.Enabled() {
			cred = auth.NewClientCred(cfg.Auth)
		}
		return portal.New(cfg.URL, cfg.Format, cfg.Timeout(), cred), nil
	default:
		return nil, fmt.Errorf(errUnknownSource, cfg.Source)
	}
}
