package interval

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// MarshalJSON encodes the set as a list of [start,end] pairs.
func (s *Set) MarshalJSON() ([]byte, error) {
	pairs := make([][2]int64, 0, s.Len())
	for _, r := range s.Ranges() {
		pairs = append(pairs, [2]int64{r.Start, r.End})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes a list of [start,end] pairs.
func (s *Set) UnmarshalJSON(b []byte) error {
	var pairs [][2]int64
	if err := json.Unmarshal(b, &pairs); err != nil {
		return fmt.Errorf("interval: decode json: %w", err)
	}
	return s.setPairs(pairs)
}

// MarshalYAML encodes the set as a sequence of [start, end] pairs.
func (s *Set) MarshalYAML() (any, error) {
	pairs := make([][2]int64, 0, s.Len())
	for _, r := range s.Ranges() {
		pairs = append(pairs, [2]int64{r.Start, r.End})
	}
	return pairs, nil
}

// UnmarshalYAML decodes a sequence of [start, end] pairs.
func (s *Set) UnmarshalYAML(node *yaml.Node) error {
	var pairs [][2]int64
	if err := node.Decode(&pairs); err != nil {
		return fmt.Errorf("interval: decode yaml: %w", err)
	}
	return s.setPairs(pairs)
}

func (s *Set) setPairs(pairs [][2]int64) error {
	ranges := make([]Range, len(pairs))
	for i, p := range pairs {
		ranges[i] = Range{Start: p[0], End: p[1]}
	}
	built, err := FromRanges(ranges...)
	if err != nil {
		return err
	}
	s.points = built.points
	return nil
}
