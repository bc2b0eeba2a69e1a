package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// SampleIndices draws k distinct indices from [0, n) uniformly without
// replacement, in draw order. When k >= n it returns every index in order.
func SampleIndices(n, k int, rng *rand.Rand) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if k >= n {
		return perm
	}
	// Partial Fisher-Yates: the first k slots end up holding the sample.
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}

// Split shuffles [0, n) and returns disjoint train and test index sets with
// ceil(testFrac*n) test rows. Both sets must be non-empty.
func Split(n int, testFrac float64, rng *rand.Rand) (train, test []int, err error) {
	nTest := int(math.Ceil(testFrac * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split into train and test sets", domain.ErrModelFit, n)
	}
	perm := rng.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}
