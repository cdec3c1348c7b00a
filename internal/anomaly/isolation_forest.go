package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

// isolationTree is a single randomized partition tree.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// isolationForest scores multi-dimensional points by how quickly random
// splits isolate them. Shorter average path means more anomalous.
type isolationForest struct {
	trees         []*isolationTree
	numTrees      int
	subSampleSize int
	maxDepth      int
	rng           *rand.Rand
}

func newIsolationForest(numTrees, subSampleSize int, seed int64) *isolationForest {
	// ceil(log2(subsample)) is the depth at which further splits stop
	// discriminating.
	maxDepth := int(math.Ceil(math.Log2(float64(subSampleSize))))
	return &isolationForest{
		trees:         make([]*isolationTree, 0, numTrees),
		numTrees:      numTrees,
		subSampleSize: subSampleSize,
		maxDepth:      maxDepth,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// fit builds the forest over the sample rows.
func (f *isolationForest) fit(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	for i := 0; i < f.numTrees; i++ {
		sample := f.sample(rows)
		f.trees = append(f.trees, f.buildTree(sample, 0))
	}
}

// score returns the anomaly score in (0,1]; higher is more anomalous.
func (f *isolationForest) score(row []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	c := averagePathLength(f.subSampleSize)
	return math.Pow(2, -avg/c)
}

// scoreAll scores every row.
func (f *isolationForest) scoreAll(rows [][]float64) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.score(row)
	}
	return scores
}

// thresholdFor picks the score cutoff that marks the top `contamination`
// fraction of the sample as anomalous.
func thresholdFor(scores []float64, contamination float64) float64 {
	if len(scores) == 0 {
		return 1
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	// Scores strictly above the cutoff are anomalous, so the cutoff sits one
	// rank below the top contamination fraction.
	idx := int(float64(len(sorted))*(1-contamination)) - 1
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func (f *isolationForest) sample(rows [][]float64) [][]float64 {
	size := f.subSampleSize
	if size > len(rows) {
		size = len(rows)
	}
	shuffled := make([][]float64, len(rows))
	copy(shuffled, rows)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:size]
}

func (f *isolationForest) buildTree(rows [][]float64, depth int) *isolationTree {
	if len(rows) <= 1 || depth >= f.maxDepth || allIdentical(rows) {
		return &isolationTree{size: len(rows), isLeaf: true}
	}

	numFeatures := len(rows[0])
	splitFeature := f.rng.Intn(numFeatures)
	minVal, maxVal := featureRange(rows, splitFeature)
	if minVal == maxVal {
		return &isolationTree{size: len(rows), isLeaf: true}
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range rows {
		if row[splitFeature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(rows), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(rows),
	}
}

func (f *isolationForest) pathLength(tree *isolationTree, row []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if row[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, row, depth+1)
	}
	return f.pathLength(tree.right, row, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful BST
// search: 2H(n-1) - 2(n-1)/n.
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

func allIdentical(rows [][]float64) bool {
	if len(rows) <= 1 {
		return true
	}
	first := rows[0]
	for _, row := range rows[1:] {
		for j := range first {
			if math.Abs(row[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(rows [][]float64, feature int) (float64, float64) {
	minVal := rows[0][feature]
	maxVal := rows[0][feature]
	for _, row := range rows {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
