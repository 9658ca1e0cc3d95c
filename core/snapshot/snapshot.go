// Package snapshot holds the consistent, already fetched input of one
// scheduling cycle and loads it from JSON or YAML documents.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/request"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/slicing"
)

// ErrInvalid reports a snapshot that fails validation.
var ErrInvalid = errors.New("snapshot: invalid")

// Resource is one schedulable telescope.
type Resource struct {
	Name    string        `json:"name" yaml:"name"`
	Windows *interval.Set `json:"windows" yaml:"windows"`
	// SliceAlignment and SliceLength override the global slice grid.
	SliceAlignment int64 `json:"slice_alignment,omitempty" yaml:"slice_alignment,omitempty"`
	SliceLength    int64 `json:"slice_length,omitempty" yaml:"slice_length,omitempty"`
}

// Snapshot is everything one cycle needs.
type Snapshot struct {
	Now int64 `json:"now" yaml:"now"`
	// Horizon limits scheduling to [Now, Now+Horizon); zero means unlimited.
	Horizon   int64                            `json:"horizon" yaml:"horizon"`
	Resources []Resource                       `json:"resources" yaml:"resources"`
	Groups    []request.Group                  `json:"groups" yaml:"groups"`
	Running   []preemption.RunningRequestGroup `json:"running" yaml:"running"`
	Blocks    map[string]*interval.Set         `json:"blocks" yaml:"blocks"`
	// PreviousSchedule maps request ids to their last placement.
	PreviousSchedule map[string]reservation.Placement `json:"previous_schedule" yaml:"previous_schedule"`
}

// Validate checks resource names and the horizon.
func (s *Snapshot) Validate() error {
	if s.Horizon < 0 {
		return fmt.Errorf("%w: negative horizon %d", ErrInvalid, s.Horizon)
	}
	seen := make(map[string]bool, len(s.Resources))
	for _, r := range s.Resources {
		if r.Name == "" {
			return fmt.Errorf("%w: resource without name", ErrInvalid)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate resource %s", ErrInvalid, r.Name)
		}
		if r.SliceLength < 0 {
			return fmt.Errorf("%w: resource %s has negative slice length", ErrInvalid, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// Possible returns the globally possible windows per resource, clipped to the
// horizon.
func (s *Snapshot) Possible() map[string]*interval.Set {
	out := make(map[string]*interval.Set, len(s.Resources))
	for _, r := range s.Resources {
		w := r.Windows.Clone()
		if s.Horizon > 0 {
			w = w.Intersect(interval.MustSet(interval.Range{Start: s.Now, End: s.Now + s.Horizon}))
		}
		out[r.Name] = w
	}
	return out
}

// SliceConfig overlays the per-resource slice grids on base.
func (s *Snapshot) SliceConfig(base slicing.Config) slicing.Config {
	out := slicing.Config{SliceSize: base.SliceSize, Resources: make(map[string]slicing.Spec)}
	for k, v := range base.Resources {
		out.Resources[k] = v
	}
	for _, r := range s.Resources {
		if r.SliceLength > 0 {
			out.Resources[r.Name] = slicing.Spec{Alignment: r.SliceAlignment, Length: r.SliceLength}
		}
	}
	return out
}

// Input translates the groups with tr and assembles the cycle input. Groups
// that fail translation are skipped; their errors are returned alongside a
// usable input.
func (s *Snapshot) Input(tr *request.Translator) (preemption.CycleInput, error) {
	tr.Hints = s.PreviousSchedule
	urgent, normal, err := tr.TranslateAll(s.Groups)
	return preemption.CycleInput{
		Now:      s.Now,
		Possible: s.Possible(),
		Urgent:   urgent,
		Normal:   normal,
		Running:  s.Running,
		Blocks:   s.Blocks,
	}, err
}

// Load reads a snapshot from a .json, .yaml or .yml file.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Decode(f, ext)
}

// Decode reads a snapshot in the given format ("json", "yaml" or "yml").
func Decode(r io.Reader, format string) (*Snapshot, error) {
	var s Snapshot
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&s); err != nil {
			return nil, fmt.Errorf("snapshot: decode yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&s); err != nil {
			return nil, fmt.Errorf("snapshot: decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported snapshot format: %s", format)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Source provides the snapshot of the next cycle.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// FileSource re-reads a snapshot file on every fetch.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (f FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(f.Path)
}
