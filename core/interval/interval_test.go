package interval

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func r(s, e int64) Range { return Range{Start: s, End: e} }

func TestCleanUpMergesTouchingAndOverlapping(t *testing.T) {
	s := MustSet(r(5, 7), r(1, 2), r(2, 3), r(6, 9), r(4, 4))
	want := []Range{r(1, 3), r(5, 9)}
	assert.Equal(t, want, s.Ranges())
}

func TestCleanUpNested(t *testing.T) {
	s := MustSet(r(1, 10), r(2, 3), r(4, 8), r(10, 12))
	assert.Equal(t, []Range{r(1, 12)}, s.Ranges())
}

func TestFromRangesReversed(t *testing.T) {
	_, err := FromRanges(r(3, 1))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed got %v", err)
	}
}

func TestFromTimepointsMalformed(t *testing.T) {
	_, err := FromTimepoints([]Timepoint{{Time: 1, Kind: Start}})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("odd count: expected ErrMalformed got %v", err)
	}
	_, err = FromTimepoints([]Timepoint{{Time: 1, Kind: End}, {Time: 2, Kind: Start}})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("unmatched: expected ErrMalformed got %v", err)
	}
	s, err := FromTimepoints([]Timepoint{{Time: 1, Kind: Start}, {Time: 4, Kind: End}})
	require.NoError(t, err)
	assert.Equal(t, []Range{r(1, 4)}, s.Ranges())
}

func TestUnion(t *testing.T) {
	s := MustSet(r(1, 3))
	s.Union(MustSet(r(3, 5), r(8, 9)))
	assert.Equal(t, []Range{r(1, 5), r(8, 9)}, s.Ranges())
	s.Union(nil)
	assert.Equal(t, 2, s.Len())
}

func TestIntersect(t *testing.T) {
	a := MustSet(r(0, 10), r(20, 30))
	b := MustSet(r(5, 25))
	c := MustSet(r(0, 6), r(22, 40))
	got := a.Intersect(b, c)
	assert.Equal(t, []Range{r(5, 6), r(22, 25)}, got.Ranges())

	touching := MustSet(r(1, 2)).Intersect(MustSet(r(2, 3)))
	if touching == nil || !touching.IsEmpty() {
		t.Fatalf("expected empty non-nil set got %v", touching)
	}
	if !a.Intersect(Empty()).IsEmpty() {
		t.Fatalf("intersection with empty must be empty")
	}
}

func TestSubtract(t *testing.T) {
	a := MustSet(r(0, 10), r(20, 30))
	got := a.Subtract(MustSet(r(5, 22), r(29, 35)))
	assert.Equal(t, []Range{r(0, 5), r(22, 29)}, got.Ranges())
	assert.True(t, a.Subtract(Empty()).Equal(a))
	assert.True(t, a.Subtract(nil).Equal(a))
	assert.True(t, a.Subtract(a).IsEmpty())
	assert.True(t, Empty().Subtract(a).IsEmpty())
}

func TestComplement(t *testing.T) {
	s := MustSet(r(2, 4), r(6, 8), r(15, 20))
	s.Complement(0, 10)
	assert.Equal(t, []Range{r(0, 2), r(4, 6), r(8, 10)}, s.Ranges())

	e := Empty()
	e.Complement(3, 7)
	assert.Equal(t, []Range{r(3, 7)}, e.Ranges())
}

func TestRemoveShorterThan(t *testing.T) {
	s := MustSet(r(0, 2), r(5, 10), r(12, 15))
	s.RemoveShorterThan(3)
	assert.Equal(t, []Range{r(5, 10), r(12, 15)}, s.Ranges())
}

func TestTrimToTotal(t *testing.T) {
	s := MustSet(r(0, 4), r(10, 20), r(30, 40))
	s.TrimToTotal(7)
	assert.Equal(t, []Range{r(0, 4), r(10, 13)}, s.Ranges())
	assert.EqualValues(t, 7, s.TotalDuration())
}

func TestFindFirstRunOfLength(t *testing.T) {
	s := MustSet(r(0, 2), r(5, 10), r(12, 30))
	start, ok := s.FindFirstRunOfLength(5)
	if !ok || start != 5 {
		t.Fatalf("expected 5 got %d %v", start, ok)
	}
	if _, ok := s.FindFirstRunOfLength(100); ok {
		t.Fatalf("expected none")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	s := MustSet(r(1, 5), r(7, 9))
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,5],[7,9]]`, string(b))

	var back Set
	require.NoError(t, json.Unmarshal([]byte(`[[7,9],[1,3],[3,5]]`), &back))
	assert.True(t, back.Equal(s))

	var y struct {
		W *Set `yaml:"w"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("w: [[1, 5], [7, 9]]"), &y))
	assert.True(t, y.W.Equal(s))

	var bad Set
	assert.Error(t, json.Unmarshal([]byte(`[[5,1]]`), &bad))
}

func randomSet(rng *rand.Rand, lo, hi int64) *Set {
	n := rng.Intn(6)
	ranges := make([]Range, n)
	for i := range ranges {
		a := lo + rng.Int63n(hi-lo)
		b := a + rng.Int63n(hi-a+1)
		ranges[i] = r(a, b)
	}
	return MustSet(ranges...)
}

func covered(s *Set, t int64) bool {
	for _, run := range s.Ranges() {
		if run.Start <= t && t < run.End {
			return true
		}
	}
	return false
}

func TestSetAlgebraProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		a := randomSet(rng, 0, 50)
		b := randomSet(rng, 0, 50)

		comp := a.Clone()
		comp.Complement(0, 50)
		comp.Complement(0, 50)
		if !comp.Equal(a) {
			t.Fatalf("complement round trip: %v -> %v", a, comp)
		}

		inter := a.Intersect(b)
		diff := a.Subtract(b)
		union := a.Clone()
		union.Union(b)
		for x := int64(0); x < 50; x++ {
			inA, inB := covered(a, x), covered(b, x)
			if covered(inter, x) != (inA && inB) {
				t.Fatalf("intersect mismatch at %d: %v %v", x, a, b)
			}
			if covered(diff, x) != (inA && !inB) {
				t.Fatalf("subtract mismatch at %d: %v %v", x, a, b)
			}
			if covered(union, x) != (inA || inB) {
				t.Fatalf("union mismatch at %d: %v %v", x, a, b)
			}
		}
	}
}
