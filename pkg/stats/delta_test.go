package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDiffCounterChange(t *testing.T) {
	x := Mapping{"caughtCount": Counter(5)}
	y := Mapping{"caughtCount": Counter(9)}

	delta := Diff(x, y)
	assert.Equal(t, Mapping{"caughtCount": Counter(4)}, delta)

	merged := CloneMapping(x)
	require.NoError(t, Merge(merged, delta))
	assert.Equal(t, y, merged)
}

func TestDiffOmitsUnchangedCounter(t *testing.T) {
	x := Mapping{"caughtCount": Counter(5), "clicks": Counter(7)}
	y := Mapping{"caughtCount": Counter(5), "clicks": Counter(8)}

	delta := Diff(x, y)
	assert.Equal(t, Mapping{"clicks": Counter(1)}, delta)
}

func TestDiffSequencePartialChange(t *testing.T) {
	x := Mapping{"hits": Sequence{1, 2, 3}}
	y := Mapping{"hits": Sequence{1, 5, 3}}

	// The key is retained with a full-length positional delta because
	// at least one element changed.
	assert.Equal(t, Mapping{"hits": Sequence{0, 3, 0}}, Diff(x, y))
}

func TestDiffSequenceNoChange(t *testing.T) {
	x := Mapping{"hits": Sequence{1, 2, 3}}
	y := Mapping{"hits": Sequence{1, 2, 3}}

	delta := Diff(x, y)
	assert.NotContains(t, delta, "hits")
	assert.Empty(t, delta)
}

func TestDiffTreatsMissingOldKeysAsZero(t *testing.T) {
	x := Mapping{}
	y := Mapping{
		"clicks": Counter(3),
		"hits":   Sequence{0, 4},
		"routeKills": Mapping{
			"Kanto": Mapping{"1": Counter(2)},
		},
	}

	assert.Equal(t, y, Diff(x, y))
}

func TestDiffNestedRouteKills(t *testing.T) {
	x := Mapping{"routeKills": Mapping{"Kanto": Mapping{"1": Counter(10)}}}
	y := Mapping{"routeKills": Mapping{
		"Kanto": Mapping{"1": Counter(12)},
		"Johto": Mapping{"3": Counter(1)},
	}}

	delta := Diff(x, y)
	assert.Equal(t, Mapping{"routeKills": Mapping{
		"Kanto": Mapping{"1": Counter(2)},
		"Johto": Mapping{"3": Counter(1)},
	}}, delta)

	// Merging onto x lazily creates the Johto branch.
	merged := CloneMapping(x)
	require.NoError(t, Merge(merged, delta))
	assert.Equal(t, y, merged)
}

func TestMergeLazilyInitializesCounters(t *testing.T) {
	stored := Mapping{}
	require.NoError(t, Merge(stored, Mapping{"clicks": Counter(4)}))
	assert.Equal(t, Mapping{"clicks": Counter(4)}, stored)
}

func TestMergeExtendsShortSequences(t *testing.T) {
	stored := Mapping{"hits": Sequence{1}}
	require.NoError(t, Merge(stored, Mapping{"hits": Sequence{2, 0, 5}}))
	assert.Equal(t, Mapping{"hits": Sequence{3, 0, 5}}, stored)
}

func TestMergeLeavesAbsentKeysUntouched(t *testing.T) {
	stored := Mapping{"clicks": Counter(1), "hits": Sequence{9}}
	require.NoError(t, Merge(stored, Mapping{"clicks": Counter(1)}))
	assert.Equal(t, Counter(2), stored["clicks"])
	assert.Equal(t, Sequence{9}, stored["hits"])
}

func TestMergeRejectsRetypedNodes(t *testing.T) {
	stored := Mapping{"clicks": Counter(1)}
	assert.Error(t, Merge(stored, Mapping{"clicks": Sequence{1}}))
	assert.Error(t, Merge(stored, Mapping{"clicks": Mapping{"a": Counter(1)}}))

	stored = Mapping{"hits": Sequence{1}}
	assert.Error(t, Merge(stored, Mapping{"hits": Counter(1)}))
}

// drawTree generates a random statistics tree with lowercase keys.
func drawTree(t *rapid.T, label string, depth int) Mapping {
	n := rapid.IntRange(0, 4).Draw(t, label+"_size")
	m := Mapping{}
	for i := 0; i < n; i++ {
		key := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, fmt.Sprintf("%s_key%d", label, i))
		maxKind := 1
		if depth > 0 {
			maxKind = 2
		}
		switch rapid.IntRange(0, maxKind).Draw(t, fmt.Sprintf("%s_kind%d", label, i)) {
		case 0:
			m[key] = Counter(rapid.Int64Range(0, 1_000_000).Draw(t, fmt.Sprintf("%s_c%d", label, i)))
		case 1:
			m[key] = Sequence(rapid.SliceOfN(rapid.Int64Range(0, 1000), 0, 5).Draw(t, fmt.Sprintf("%s_s%d", label, i)))
		default:
			m[key] = drawTree(t, fmt.Sprintf("%s_m%d", label, i), depth-1)
		}
	}
	return m
}

// drawExtension generates a tree whose shape is a superset-extension of
// base: every existing node keeps its kind and grows by a non-negative
// amount, and fresh uppercase keys may be added so they never collide
// with base's lowercase keys.
func drawExtension(t *rapid.T, label string, base Mapping, depth int) Mapping {
	out := Mapping{}
	i := 0
	for key, node := range base {
		name := fmt.Sprintf("%s_grow%d", label, i)
		i++
		switch n := node.(type) {
		case Counter:
			out[key] = n + Counter(rapid.Int64Range(0, 100).Draw(t, name))
		case Sequence:
			grown := make(Sequence, len(n))
			for j, v := range n {
				grown[j] = v + rapid.Int64Range(0, 100).Draw(t, fmt.Sprintf("%s_e%d", name, j))
			}
			out[key] = grown
		case Mapping:
			out[key] = drawExtension(t, name, n, depth-1)
		}
	}
	if rapid.Bool().Draw(t, label+"_extend") {
		fresh := drawTree(t, label+"_fresh", depth)
		for key, node := range fresh {
			// Keep only the non-zero projection of the fresh subtree so
			// zero-valued leaves do not distinguish y from merge(x, diff).
			if projected, ok := diffNode(nil, node); ok {
				out["X"+key] = projected
			}
		}
	}
	return out
}

func TestDiffOfIdenticalTreesIsEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := drawTree(t, "x", 2)
		assert.Empty(t, Diff(x, x))
	})
}

func TestDiffMergeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := drawTree(t, "x", 2)
		y := drawExtension(t, "y", x, 2)

		merged := CloneMapping(x)
		require.NoError(t, Merge(merged, Diff(x, y)))
		assert.Equal(t, y, merged)
	})
}
