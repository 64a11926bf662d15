package detect

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
)

// rngSeed fixes the forest's randomness so Detect stays a pure function
// of its inputs.
const rngSeed = 42

// isolationTree is a single tree in the isolation forest.
type isolationTree struct {
	splitValue float64
	left       *isolationTree
	right      *isolationTree
	size       int
	isLeaf     bool
}

// IsolationForest scores points by how quickly random axis-aligned
// splits isolate them: outliers sit alone after few splits, so their
// average path length is short and their score 2^(-avgPath/c(n)) is
// close to 1.
type IsolationForest struct {
	NumTrees      int
	SubSampleSize int
	MaxDepth      int
	Threshold     float64
}

// NewIsolationForest returns an isolation-forest detector.
func NewIsolationForest(numTrees, subSampleSize, maxDepth int, threshold float64) *IsolationForest {
	return &IsolationForest{
		NumTrees:      numTrees,
		SubSampleSize: subSampleSize,
		MaxDepth:      maxDepth,
		Threshold:     threshold,
	}
}

func (f *IsolationForest) Name() string { return "isolation_forest" }

// Detect fits a forest on the series and scores every point against it.
func (f *IsolationForest) Detect(values []float64, timestamps []time.Time) []models.Detection {
	if len(values) < 10 {
		return nil
	}

	rng := rand.New(rand.NewSource(rngSeed))
	trees := make([]*isolationTree, 0, f.NumTrees)
	for i := 0; i < f.NumTrees; i++ {
		sample := sampleValues(rng, values, f.SubSampleSize)
		trees = append(trees, buildIsolationTree(rng, sample, 0, f.MaxDepth))
	}

	sampleSize := f.SubSampleSize
	if sampleSize > len(values) {
		sampleSize = len(values)
	}
	c := averagePathLength(sampleSize)
	if c == 0 {
		return nil
	}

	var out []models.Detection
	for i, v := range values {
		total := 0.0
		for _, tree := range trees {
			total += pathLength(tree, v, 0)
		}
		avgPath := total / float64(len(trees))
		s := math.Pow(2, -avgPath/c)
		if s <= f.Threshold {
			continue
		}
		out = append(out, models.Detection{
			Index:      i,
			Value:      v,
			Timestamp:  tsAt(timestamps, i),
			Confidence: math.Min(1.0, s),
			Method:     "isolation_forest",
			Deviation:  s,
		})
	}
	return out
}

// sampleValues takes a Fisher-Yates shuffled prefix of the data.
func sampleValues(rng *rand.Rand, values []float64, sampleSize int) []float64 {
	if sampleSize > len(values) {
		sampleSize = len(values)
	}
	shuffled := make([]float64, len(values))
	copy(shuffled, values)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:sampleSize]
}

// buildIsolationTree recursively partitions the sample at uniformly
// random split values.
func buildIsolationTree(rng *rand.Rand, data []float64, depth, maxDepth int) *isolationTree {
	if len(data) <= 1 || depth >= maxDepth || allEqual(data) {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right []float64
	for _, v := range data {
		if v < splitValue {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	return &isolationTree{
		splitValue: splitValue,
		left:       buildIsolationTree(rng, left, depth+1, maxDepth),
		right:      buildIsolationTree(rng, right, depth+1, maxDepth),
		size:       len(data),
	}
}

func pathLength(tree *isolationTree, v float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if v < tree.splitValue {
		return pathLength(tree.left, v, depth+1)
	}
	return pathLength(tree.right, v, depth+1)
}

// averagePathLength is c(n), the expected path length of an
// unsuccessful BST search: 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	harmonic := math.Log(float64(n-1)) + 0.5772156649
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

func allEqual(data []float64) bool {
	for i := 1; i < len(data); i++ {
		if math.Abs(data[i]-data[0]) > 1e-10 {
			return false
		}
	}
	return true
}

// LOF scores each point by the local outlier factor: the ratio of its
// neighbors' local reachability density to its own. A point in a
// sparser region than its neighbors scores above 1; Threshold (default
// 1.5) separates outliers.
type LOF struct {
	Neighbors int
	Threshold float64
}

// NewLOF returns a local-outlier-factor detector.
func NewLOF(neighbors int, threshold float64) *LOF {
	return &LOF{Neighbors: neighbors, Threshold: threshold}
}

func (l *LOF) Name() string { return "lof" }

func (l *LOF) Detect(values []float64, timestamps []time.Time) []models.Detection {
	n := len(values)
	k := l.Neighbors
	if k >= n {
		k = n - 1
	}
	if n < 5 || k < 1 {
		return nil
	}

	// k nearest neighbors per point, by absolute distance.
	neighbors := make([][]int, n)
	kDist := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				idx = append(idx, j)
			}
		}
		sort.Slice(idx, func(a, b int) bool {
			da := math.Abs(values[idx[a]] - values[i])
			db := math.Abs(values[idx[b]] - values[i])
			if da == db {
				return idx[a] < idx[b]
			}
			return da < db
		})
		neighbors[i] = idx[:k]
		kDist[i] = math.Abs(values[idx[k-1]] - values[i])
	}

	// Local reachability density.
	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, j := range neighbors[i] {
			reach := math.Max(kDist[j], math.Abs(values[i]-values[j]))
			sum += reach
		}
		if sum == 0 {
			lrd[i] = math.Inf(1)
		} else {
			lrd[i] = float64(k) / sum
		}
	}

	var out []models.Detection
	for i := 0; i < n; i++ {
		if math.IsInf(lrd[i], 1) {
			continue
		}
		sum := 0.0
		finite := 0
		for _, j := range neighbors[i] {
			if math.IsInf(lrd[j], 1) {
				continue
			}
			sum += lrd[j] / lrd[i]
			finite++
		}
		if finite == 0 {
			continue
		}
		lof := sum / float64(finite)
		if lof <= l.Threshold {
			continue
		}
		// Map the factor to [0,1]; a LOF of 2*threshold saturates.
		confidence := math.Min(1.0, (lof-1)/(2*l.Threshold-1))
		out = append(out, models.Detection{
			Index:      i,
			Value:      values[i],
			Timestamp:  tsAt(timestamps, i),
			Confidence: confidence,
			Method:     "lof",
			Deviation:  lof,
		})
	}
	return out
}
