package datasets

import (
	"fmt"
	"math"
	"math/rand"
)

// Split partitions record indices into training and validation subsets.
type Split struct {
	Train      []int
	Validation []int
}

// SplitIndices shuffles 0..n-1 and keeps the first round(n*trainFraction)
// indices for training.
func SplitIndices(n int, trainFraction float64, rng *rand.Rand) (Split, error) {
	if n <= 0 {
		return Split{}, fmt.Errorf("cannot split %d records", n)
	}
	if trainFraction <= 0 || trainFraction >= 1 {
		return Split{}, fmt.Errorf("train fraction must be in (0, 1), got %v", trainFraction)
	}

	ix := rng.Perm(n)
	trainN := int(math.Round(float64(n) * trainFraction))
	return Split{Train: ix[:trainN:trainN], Validation: ix[trainN:]}, nil
}
