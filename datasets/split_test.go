package datasets

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIndicesIsPartition(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10, 101} {
		split, err := SplitIndices(n, 0.8, rand.New(rand.NewSource(int64(n))))
		require.NoError(t, err)

		assert.Len(t, split.Train, int(float64(n)*0.8+0.5), "n=%d", n)

		all := append(append([]int(nil), split.Train...), split.Validation...)
		sort.Ints(all)
		want := make([]int, n)
		for i := range want {
			want[i] = i
		}
		if diff := cmp.Diff(want, all); diff != "" {
			t.Fatalf("n=%d: split is not a partition (-want +got):\n%s", n, diff)
		}
	}
}

func TestSplitIndicesDeterministic(t *testing.T) {
	a, err := SplitIndices(50, 0.8, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := SplitIndices(50, 0.8, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a.Validation, 10)
}

func TestSplitIndicesAppendDoesNotAlias(t *testing.T) {
	split, err := SplitIndices(10, 0.8, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	first := split.Validation[0]
	_ = append(split.Train, -1)
	assert.Equal(t, first, split.Validation[0])
}

func TestSplitIndicesErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := SplitIndices(0, 0.8, rng)
	assert.Error(t, err)
	_, err = SplitIndices(10, 0, rng)
	assert.Error(t, err)
	_, err = SplitIndices(10, 1, rng)
	assert.Error(t, err)
}
