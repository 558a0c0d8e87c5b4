// Package forest implements CART decision trees and a random forest
// classifier over dense float64 features.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"mltrack/internal/errors"
)

// Criterion measures node impurity
type Criterion string

const (
	Gini    Criterion = "gini"
	Entropy Criterion = "entropy"
)

const leafFeature = -1

// Node is one entry of a fitted tree. Internal nodes send x[Feature] <=
// Threshold to Left; leaves have Feature == -1.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left,omitempty"`
	Right     int       `json:"right,omitempty"`
	Samples   int       `json:"samples"`
	Impurity  float64   `json:"impurity"`
	Value     []float64 `json:"value"` // class probabilities at the node
}

// IsLeaf reports whether the node has no children
func (n Node) IsLeaf() bool {
	return n.Feature == leafFeature
}

// MaxFeatures values besides a positive count
const (
	MaxFeaturesAll  = 0
	MaxFeaturesSqrt = -1
)

// Params are the growing options shared by trees and forests. NEstimators
// and Bootstrap only apply to forests.
type Params struct {
	NEstimators     int       `json:"n_estimators,omitempty"`
	MaxDepth        int       `json:"max_depth"`         // 0 = unlimited
	MinSamplesSplit int       `json:"min_samples_split"` // default 2
	MinSamplesLeaf  int       `json:"min_samples_leaf"`  // default 1
	MaxFeatures     int       `json:"max_features"`      // features tried per split
	Criterion       Criterion `json:"criterion"`
	Bootstrap       bool      `json:"bootstrap,omitempty"`
	RandomState     int64     `json:"random_state"`
	// Workers bounds parallel tree fitting, 0 = GOMAXPROCS
	Workers int `json:"-"`
}

// Option configures a tree or forest
type Option func(*Params)

func WithMaxDepth(d int) Option         { return func(p *Params) { p.MaxDepth = d } }
func WithMinSamplesSplit(n int) Option  { return func(p *Params) { p.MinSamplesSplit = n } }
func WithMinSamplesLeaf(n int) Option   { return func(p *Params) { p.MinSamplesLeaf = n } }
func WithMaxFeatures(k int) Option      { return func(p *Params) { p.MaxFeatures = k } }
func WithCriterion(c Criterion) Option  { return func(p *Params) { p.Criterion = c } }
func WithRandomState(seed int64) Option { return func(p *Params) { p.RandomState = seed } }

func WithNEstimators(n int) Option { return func(p *Params) { p.NEstimators = n } }
func WithBootstrap(b bool) Option  { return func(p *Params) { p.Bootstrap = b } }
func WithWorkers(n int) Option     { return func(p *Params) { p.Workers = n } }

func defaultTreeParams() Params {
	return Params{MinSamplesSplit: 2, MinSamplesLeaf: 1, MaxFeatures: MaxFeaturesAll, Criterion: Gini}
}

// featuresPerSplit resolves MaxFeatures against p features
func (p Params) featuresPerSplit(nFeatures int) int {
	switch {
	case p.MaxFeatures == MaxFeaturesSqrt:
		return max(1, int(math.Sqrt(float64(nFeatures))))
	case p.MaxFeatures <= 0 || p.MaxFeatures > nFeatures:
		return nFeatures
	default:
		return p.MaxFeatures
	}
}

// DecisionTree is a CART classifier
type DecisionTree struct {
	Params    Params     `json:"params"`
	Classes   []int      `json:"classes"`
	NFeatures int        `json:"n_features"`
	Nodes     []Node     `json:"nodes"`

	// unnormalised impurity decrease per feature, filled by fit
	importances []float64
}

// NewDecisionTree creates an unfitted tree
func NewDecisionTree(opts ...Option) *DecisionTree {
	p := defaultTreeParams()
	for _, o := range opts {
		o(&p)
	}
	return &DecisionTree{Params: p}
}

func validateXY(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, errors.InvalidInput("empty X")
	}
	if len(y) != len(X) {
		return 0, errors.InvalidInput(fmt.Sprintf("X has %d rows but y has %d labels", len(X), len(y)))
	}
	p := len(X[0])
	if p == 0 {
		return 0, errors.InvalidInput("X has no features")
	}
	for i, row := range X {
		if len(row) != p {
			return 0, errors.InvalidInput(fmt.Sprintf("row %d has %d features, expected %d", i, len(row), p))
		}
	}
	return p, nil
}

func (p Params) validate() error {
	if p.MinSamplesSplit < 2 {
		return errors.InvalidParameter("min_samples_split must be at least 2")
	}
	if p.MinSamplesLeaf < 1 {
		return errors.InvalidParameter("min_samples_leaf must be at least 1")
	}
	if p.MaxDepth < 0 {
		return errors.InvalidParameter("max_depth must not be negative")
	}
	if p.MaxFeatures < MaxFeaturesSqrt {
		return errors.InvalidParameter(fmt.Sprintf("invalid max_features %d", p.MaxFeatures))
	}
	if p.Criterion != Gini && p.Criterion != Entropy {
		return errors.InvalidParameter(fmt.Sprintf("unknown criterion %q", p.Criterion))
	}
	return nil
}

// encodeLabels maps labels onto 0..k-1 in sorted order
func encodeLabels(y []int) (classes, encoded []int) {
	seen := make(map[int]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Ints(classes)
	index := make(map[int]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded = make([]int, len(y))
	for i, v := range y {
		encoded[i] = index[v]
	}
	return classes, encoded
}

// Fit grows the tree on every sample of X
func (t *DecisionTree) Fit(X [][]float64, y []int) error {
	p, err := validateXY(X, y)
	if err != nil {
		return err
	}
	if err := t.Params.validate(); err != nil {
		return err
	}
	classes, encoded := encodeLabels(y)
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.Classes = classes
	t.grow(X, encoded, idx, p, len(classes))
	return nil
}

// grow builds the tree over the samples at idx. Labels are already encoded
// into 0..nClasses-1 and idx may repeat samples (bootstrap).
func (t *DecisionTree) grow(X [][]float64, y []int, idx []int, p, nClasses int) {
	t.NFeatures = p
	t.Nodes = t.Nodes[:0]
	t.importances = make([]float64, p)
	b := &builder{
		tree:     t,
		X:        X,
		y:        y,
		nClasses: nClasses,
		rng:      rand.New(rand.NewSource(t.Params.RandomState)),
		total:    float64(len(idx)),
	}
	b.build(idx, 0)
}

type builder struct {
	tree     *DecisionTree
	X        [][]float64
	y        []int
	nClasses int
	rng      *rand.Rand
	total    float64
}

func (b *builder) impurity(counts []int, n int) float64 {
	if b.tree.Params.Criterion == Entropy {
		return entropy(counts, n)
	}
	return gini(counts, n)
}

func (b *builder) counts(idx []int) []int {
	c := make([]int, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

// build appends the subtree for idx and returns its node index
func (b *builder) build(idx []int, depth int) int {
	params := b.tree.Params
	counts := b.counts(idx)
	n := len(idx)
	imp := b.impurity(counts, n)

	node := Node{Feature: leafFeature, Samples: n, Impurity: imp, Value: probabilities(counts, n)}
	self := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, node)

	if imp == 0 || n < params.MinSamplesSplit || n < 2*params.MinSamplesLeaf ||
		(params.MaxDepth > 0 && depth >= params.MaxDepth) {
		return self
	}

	best, ok := b.bestSplit(idx, counts, imp)
	if !ok {
		return self
	}

	left := make([]int, 0, best.nLeft)
	right := make([]int, 0, n-best.nLeft)
	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.tree.importances[best.feature] += float64(n)/b.total*imp - best.weightedChildImpurity*float64(n)/b.total

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[self].Feature = best.feature
	b.tree.Nodes[self].Threshold = best.threshold
	b.tree.Nodes[self].Left = l
	b.tree.Nodes[self].Right = r
	return self
}

type split struct {
	feature               int
	threshold             float64
	nLeft                 int
	weightedChildImpurity float64
}

// candidateFeatures draws the features tried at one split without
// replacement
func (b *builder) candidateFeatures() []int {
	p := b.tree.NFeatures
	feats := make([]int, p)
	for i := range feats {
		feats[i] = i
	}
	k := b.tree.Params.featuresPerSplit(p)
	if k >= p {
		return feats
	}
	for i := 0; i < k; i++ {
		j := i + b.rng.Intn(p-i)
		feats[i], feats[j] = feats[j], feats[i]
	}
	return feats[:k]
}

// bestSplit scans sorted values of each candidate feature, moving one
// sample at a time from right to left, and keeps the split with the lowest
// weighted child impurity
func (b *builder) bestSplit(idx []int, parentCounts []int, parentImpurity float64) (split, bool) {
	n := len(idx)
	minLeaf := b.tree.Params.MinSamplesLeaf
	best := split{weightedChildImpurity: math.Inf(1)}
	found := false

	sorted := make([]int, n)
	left := make([]int, b.nClasses)
	right := make([]int, b.nClasses)

	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })
		if b.X[sorted[0]][f] == b.X[sorted[n-1]][f] {
			continue
		}

		for k := range left {
			left[k] = 0
		}
		copy(right, parentCounts)

		for s := 1; s < n; s++ {
			cls := b.y[sorted[s-1]]
			left[cls]++
			right[cls]--

			lo, hi := b.X[sorted[s-1]][f], b.X[sorted[s]][f]
			if lo == hi || s < minLeaf || n-s < minLeaf {
				continue
			}
			w := (float64(s)*b.impurity(left, s) + float64(n-s)*b.impurity(right, n-s)) / float64(n)
			if w < best.weightedChildImpurity {
				threshold := lo + (hi-lo)/2
				if threshold == hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, nLeft: s, weightedChildImpurity: w}
				found = true
			}
		}
	}
	if !found || parentImpurity-best.weightedChildImpurity <= 1e-12 {
		return split{}, false
	}
	return best, true
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

func entropy(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

func probabilities(counts []int, n int) []float64 {
	out := make([]float64, len(counts))
	if n == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(n)
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func (t *DecisionTree) checkPredict(X [][]float64) error {
	if len(t.Nodes) == 0 {
		return errors.InvalidState("tree is not fitted")
	}
	for i, row := range X {
		if len(row) != t.NFeatures {
			return errors.InvalidInput(fmt.Sprintf("row %d has %d features, the model expects %d", i, len(row), t.NFeatures))
		}
	}
	return nil
}

func (t *DecisionTree) leaf(x []float64) *Node {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		if x[t.Nodes[i].Feature] <= t.Nodes[i].Threshold {
			i = t.Nodes[i].Left
		} else {
			i = t.Nodes[i].Right
		}
	}
	return &t.Nodes[i]
}

// PredictProba returns class probabilities aligned with Classes
func (t *DecisionTree) PredictProba(X [][]float64) ([][]float64, error) {
	if err := t.checkPredict(X); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = append([]float64(nil), t.leaf(x).Value...)
	}
	return out, nil
}

// Predict returns the most probable class label per row
func (t *DecisionTree) Predict(X [][]float64) ([]int, error) {
	proba, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(X))
	for i, p := range proba {
		out[i] = t.Classes[argmax(p)]
	}
	return out, nil
}

// Depth returns the length of the longest root-to-leaf path
func (t *DecisionTree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		if t.Nodes[i].IsLeaf() {
			return 0
		}
		return 1 + max(walk(t.Nodes[i].Left), walk(t.Nodes[i].Right))
	}
	return walk(0)
}

// FeatureImportances returns the normalised total impurity decrease per
// feature
func (t *DecisionTree) FeatureImportances() []float64 {
	imp := t.importances
	if imp == nil {
		imp = t.recomputeImportances()
	}
	return normalise(imp)
}

// recomputeImportances derives importances from the node table, for trees
// loaded from disk
func (t *DecisionTree) recomputeImportances() []float64 {
	out := make([]float64, t.NFeatures)
	if len(t.Nodes) == 0 {
		return out
	}
	total := float64(t.Nodes[0].Samples)
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			continue
		}
		l, r := t.Nodes[n.Left], t.Nodes[n.Right]
		out[n.Feature] += (float64(n.Samples)*n.Impurity - float64(l.Samples)*l.Impurity - float64(r.Samples)*r.Impurity) / total
	}
	t.importances = out
	return out
}

func normalise(v []float64) []float64 {
	out := make([]float64, len(v))
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
