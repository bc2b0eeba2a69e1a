package model

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// maxBins bounds the number of distinct split positions per feature. Features
// with at most maxBins distinct training values are split exactly.
const maxBins = 256

// Params are the forest hyperparameters.
type Params struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            uint64
	Workers         int
}

// DefaultParams returns the production configuration.
func DefaultParams() Params {
	return Params{
		Trees:           100,
		MaxDepth:        15,
		MinSamplesSplit: 10,
		MinSamplesLeaf:  5,
		Seed:            42,
		Workers:         1,
	}
}

// Node is one tree node. Leaves have Left == -1; internal nodes send rows
// with x[Feature] <= Threshold left.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int32   `json:"l"`
	Right     int32   `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a bagged ensemble of regression trees whose predictions are averaged.
type Forest struct {
	Trees []Tree `json:"trees"`
	// Importances is the mean decrease in squared error per feature,
	// normalised to sum to 1.
	Importances []float64 `json:"importances"`
}

// Predict returns the ensemble prediction for one feature vector.
func (f *Forest) Predict(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees))
}

// PredictAll predicts every row of X.
func (f *Forest) PredictAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.Predict(x)
	}
	return out
}

// Fit trains a forest on X (row-major, no missing values) and y. Each tree
// sees a bootstrap sample drawn from its own generator seeded by (p.Seed,
// tree index), so the result does not depend on p.Workers.
func Fit(ctx context.Context, X [][]float64, y []float64, p Params) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("%w: empty training set", domain.ErrModelFit)
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d feature rows but %d labels", domain.ErrModelFit, len(X), len(y))
	}
	if p.Trees < 1 {
		return nil, fmt.Errorf("%w: need at least one tree", domain.ErrModelFit)
	}
	nFeatures := len(X[0])
	bins := newBinning(X, nFeatures)

	forest := &Forest{Trees: make([]Tree, p.Trees)}
	importances := make([][]float64, p.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for t := 0; t < p.Trees; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(p.Seed, uint64(t)))
			b := &builder{
				p:          p,
				bins:       bins,
				y:          y,
				importance: make([]float64, nFeatures),
			}
			b.build(bootstrap(len(y), rng), 0)
			forest.Trees[t] = Tree{Nodes: b.nodes}
			importances[t] = b.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	forest.Importances = averageImportances(importances, nFeatures)
	return forest, nil
}

func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return idx
}

// averageImportances normalises each tree's raw importances, averages across
// trees that split at least once, and renormalises.
func averageImportances(perTree [][]float64, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, imp := range perTree {
		total := floats.Sum(imp)
		if total <= 0 {
			continue
		}
		floats.AddScaled(out, 1/total, imp)
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// binning maps every training value to a bin index per feature. edges[f] is
// ascending; a value v falls in the first bin b with v <= edges[f][b], or in
// bin len(edges[f]) above the last edge.
type binning struct {
	edges [][]float64
	cols  [][]uint8
}

func newBinning(X [][]float64, nFeatures int) *binning {
	b := &binning{
		edges: make([][]float64, nFeatures),
		cols:  make([][]uint8, nFeatures),
	}
	vals := make([]float64, len(X))
	for f := 0; f < nFeatures; f++ {
		for i, row := range X {
			vals[i] = row[f]
		}
		sorted := slices.Clone(vals)
		sort.Float64s(sorted)
		edges := cutPoints(sorted)

		col := make([]uint8, len(X))
		for i, v := range vals {
			col[i] = uint8(sort.SearchFloat64s(edges, v))
		}
		b.edges[f] = edges
		b.cols[f] = col
	}
	return b
}

// cutPoints returns at most maxBins-1 split thresholds for sorted values:
// every midpoint between distinct values when they fit, otherwise midpoints
// at evenly spaced quantiles.
func cutPoints(sorted []float64) []float64 {
	uniq := slices.Compact(slices.Clone(sorted))
	var edges []float64
	if len(uniq) <= maxBins {
		for i := 1; i < len(uniq); i++ {
			edges = append(edges, uniq[i-1]+(uniq[i]-uniq[i-1])/2)
		}
		return edges
	}
	n := len(sorted)
	for q := 1; q < maxBins; q++ {
		pos := q * n / maxBins
		lo, hi := sorted[pos-1], sorted[pos]
		if lo == hi {
			continue
		}
		e := lo + (hi-lo)/2
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

type builder struct {
	p          Params
	bins       *binning
	y          []float64
	nodes      []Node
	importance []float64
}

type split struct {
	feature int
	bin     uint8
	gain    float64
}

// build grows the subtree for the rows in idx, reordering idx in place, and
// returns the index of its root node.
func (b *builder) build(idx []int, depth int) int32 {
	n := len(idx)
	var sum float64
	lo, hi := b.y[idx[0]], b.y[idx[0]]
	for _, i := range idx {
		v := b.y[i]
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}

	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Value: sum / float64(n)})

	if depth >= b.p.MaxDepth || n < b.p.MinSamplesSplit || n < 2*b.p.MinSamplesLeaf || lo == hi {
		return self
	}
	s, ok := b.bestSplit(idx, sum)
	if !ok {
		return self
	}

	col := b.bins.cols[s.feature]
	l := 0
	for r := range idx {
		if col[idx[r]] <= s.bin {
			idx[l], idx[r] = idx[r], idx[l]
			l++
		}
	}
	b.importance[s.feature] += s.gain

	left := b.build(idx[:l], depth+1)
	right := b.build(idx[l:], depth+1)
	b.nodes[self].Feature = s.feature
	b.nodes[self].Threshold = b.bins.edges[s.feature][s.bin]
	b.nodes[self].Left = left
	b.nodes[self].Right = right
	return self
}

// bestSplit finds the split maximising the reduction in squared error,
// subject to the minimum leaf size. The gain of a split is
// sumL²/nL + sumR²/nR - sum²/n.
func (b *builder) bestSplit(idx []int, sum float64) (split, bool) {
	n := len(idx)
	minLeaf := max(b.p.MinSamplesLeaf, 1)
	parent := sum * sum / float64(n)

	var (
		best   split
		found  bool
		counts [maxBins]int
		sums   [maxBins]float64
	)
	for f, col := range b.bins.cols {
		nEdges := len(b.bins.edges[f])
		if nEdges == 0 {
			continue
		}
		clear(counts[:nEdges+1])
		clear(sums[:nEdges+1])
		for _, i := range idx {
			bin := col[i]
			counts[bin]++
			sums[bin] += b.y[i]
		}

		nl, sl := 0, 0.0
		for bin := 0; bin < nEdges; bin++ {
			if counts[bin] == 0 {
				continue
			}
			nl += counts[bin]
			sl += sums[bin]
			nr := n - nl
			if nr < minLeaf {
				break
			}
			if nl < minLeaf {
				continue
			}
			sr := sum - sl
			gain := sl*sl/float64(nl) + sr*sr/float64(nr) - parent
			if gain > best.gain {
				best = split{feature: f, bin: uint8(bin), gain: gain}
				found = true
			}
		}
	}
	return best, found
}
