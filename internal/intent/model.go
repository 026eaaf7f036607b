package intent

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Model is one trained classifier version: vectorizer state plus a
// multinomial logistic regression over its features.
type Model struct {
	Version      string
	TrainedAt    time.Time
	Labels       []string
	Vectorizer   Vectorizer
	Weights      [][]float64 // [label][feature]
	Bias         []float64
	Accuracy     float64
	ExampleCount int
}

// TrainOptions tunes the optimizer. The zero value uses the defaults.
type TrainOptions struct {
	MaxFeatures  int
	Epochs       int
	LearningRate float64
	L2           float64
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = defaultMaxFeatures
	}
	if o.Epochs <= 0 {
		o.Epochs = 300
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 2.0
	}
	if o.L2 <= 0 {
		o.L2 = 1e-4
	}
	return o
}

// fit trains with full-batch gradient descent from zero weights, so the
// same corpus always yields the same model.
func fit(texts, labels []string, opts TrainOptions) *Model {
	opts = opts.withDefaults()

	docs := make([]string, len(texts))
	for i, t := range texts {
		docs[i] = Normalize(t)
	}

	labelSet := make(map[string]int)
	for _, l := range labels {
		labelSet[l] = 0
	}
	names := make([]string, 0, len(labelSet))
	for l := range labelSet {
		names = append(names, l)
	}
	sort.Strings(names)
	for i, l := range names {
		labelSet[l] = i
	}

	m := &Model{
		Version:      ulid.Make().String(),
		TrainedAt:    time.Now().UTC(),
		Labels:       names,
		Vectorizer:   fitVectorizer(docs, opts.MaxFeatures),
		ExampleCount: len(texts),
	}
	k, d := len(names), m.Vectorizer.size()
	m.Weights = make([][]float64, k)
	for i := range m.Weights {
		m.Weights[i] = make([]float64, d)
	}
	m.Bias = make([]float64, k)

	xs := make([]sparse, len(docs))
	ys := make([]int, len(docs))
	for i, doc := range docs {
		xs[i] = m.Vectorizer.transform(doc)
		ys[i] = labelSet[labels[i]]
	}

	if k > 1 {
		n := float64(len(xs))
		gradW := make([][]float64, k)
		for i := range gradW {
			gradW[i] = make([]float64, d)
		}
		gradB := make([]float64, k)
		probs := make([]float64, k)

		for epoch := 0; epoch < opts.Epochs; epoch++ {
			for c := 0; c < k; c++ {
				clear(gradW[c])
			}
			clear(gradB)

			for i, x := range xs {
				m.probabilities(x, probs)
				for c := 0; c < k; c++ {
					g := probs[c]
					if c == ys[i] {
						g -= 1
					}
					gradB[c] += g
					row := gradW[c]
					for j, idx := range x.idx {
						row[idx] += g * x.val[j]
					}
				}
			}

			for c := 0; c < k; c++ {
				w := m.Weights[c]
				for j := range w {
					w[j] -= opts.LearningRate * (gradW[c][j]/n + opts.L2*w[j])
				}
				m.Bias[c] -= opts.LearningRate * gradB[c] / n
			}
		}
	}

	correct := 0
	probs := make([]float64, k)
	for i, x := range xs {
		m.probabilities(x, probs)
		if argmax(probs) == ys[i] {
			correct++
		}
	}
	if len(xs) > 0 {
		m.Accuracy = float64(correct) / float64(len(xs))
	}
	return m
}

// probabilities writes the softmax distribution for x into out.
func (m *Model) probabilities(x sparse, out []float64) {
	maxLogit := math.Inf(-1)
	for c := range m.Labels {
		z := m.Bias[c]
		w := m.Weights[c]
		for j, idx := range x.idx {
			z += w[idx] * x.val[j]
		}
		out[c] = z
		if z > maxLogit {
			maxLogit = z
		}
	}
	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - maxLogit)
		sum += out[c]
	}
	for c := range out {
		out[c] /= sum
	}
}

// predict returns the distribution over m.Labels for a raw utterance.
func (m *Model) predict(text string) []float64 {
	probs := make([]float64, len(m.Labels))
	m.probabilities(m.Vectorizer.transform(Normalize(text)), probs)
	return probs
}

func (m *Model) validate() error {
	k := len(m.Labels)
	if k == 0 {
		return fmt.Errorf("model has no labels")
	}
	if len(m.Weights) != k || len(m.Bias) != k {
		return fmt.Errorf("model has %d labels but %d weight rows and %d biases", k, len(m.Weights), len(m.Bias))
	}
	d := len(m.Vectorizer.IDF)
	if len(m.Vectorizer.Vocabulary) != d {
		return fmt.Errorf("vocabulary size %d does not match idf size %d", len(m.Vectorizer.Vocabulary), d)
	}
	for i, row := range m.Weights {
		if len(row) != d {
			return fmt.Errorf("weight row %d has %d features, want %d", i, len(row), d)
		}
	}
	for term, idx := range m.Vectorizer.Vocabulary {
		if idx < 0 || idx >= d {
			return fmt.Errorf("term %q maps outside the feature range", term)
		}
	}
	return nil
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
