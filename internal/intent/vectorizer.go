package intent

import (
	"math"
	"sort"
	"strings"
)

const (
	defaultMaxFeatures = 500
	// terms present in more than this share of documents carry no signal
	maxDocFrequency = 0.85
	// below this corpus size the max-df cut removes too much
	minDocsForDFCut = 20
)

// Vectorizer is a TF-IDF transformer over word unigrams and bigrams.
type Vectorizer struct {
	Vocabulary map[string]int
	IDF        []float64
}

type sparse struct {
	idx []int
	val []float64
}

// terms returns unigrams and bigrams of an already-normalized text.
func terms(normalized string) []string {
	words := strings.Fields(normalized)
	out := make([]string, 0, 2*len(words))
	out = append(out, words...)
	for i := 0; i+1 < len(words); i++ {
		out = append(out, words[i]+" "+words[i+1])
	}
	return out
}

func fitVectorizer(docs []string, maxFeatures int) Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = defaultMaxFeatures
	}
	df := make(map[string]int)
	for _, d := range docs {
		seen := make(map[string]struct{})
		for _, t := range terms(d) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}

	n := len(docs)
	candidates := make([]string, 0, len(df))
	for t, c := range df {
		if n >= minDocsForDFCut && float64(c)/float64(n) > maxDocFrequency {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		for t := range df {
			candidates = append(candidates, t)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if df[candidates[i]] != df[candidates[j]] {
			return df[candidates[i]] > df[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > maxFeatures {
		candidates = candidates[:maxFeatures]
	}
	sort.Strings(candidates)

	v := Vectorizer{
		Vocabulary: make(map[string]int, len(candidates)),
		IDF:        make([]float64, len(candidates)),
	}
	for i, t := range candidates {
		v.Vocabulary[t] = i
		v.IDF[i] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}
	return v
}

// transform maps a normalized text to an L2-normalized TF-IDF vector.
// Out-of-vocabulary terms are ignored; a text with none yields a zero vector.
func (v *Vectorizer) transform(normalized string) sparse {
	counts := make(map[int]float64)
	for _, t := range terms(normalized) {
		if i, ok := v.Vocabulary[t]; ok {
			counts[i]++
		}
	}
	if len(counts) == 0 {
		return sparse{}
	}

	s := sparse{idx: make([]int, 0, len(counts))}
	for i := range counts {
		s.idx = append(s.idx, i)
	}
	sort.Ints(s.idx)

	s.val = make([]float64, len(s.idx))
	var norm float64
	for k, i := range s.idx {
		w := counts[i] * v.IDF[i]
		s.val[k] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for k := range s.val {
		s.val[k] /= norm
	}
	return s
}

func (v *Vectorizer) size() int { return len(v.IDF) }
