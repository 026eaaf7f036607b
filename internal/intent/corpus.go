package intent

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Corpus is the seed training file: intent label to example utterances.
type Corpus struct {
	Intents map[string][]string `yaml:"intents"`
}

func LoadCorpus(path string) (texts, labels []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return ParseCorpus(f)
}

// ParseCorpus flattens the corpus into parallel slices, labels sorted.
func ParseCorpus(r io.Reader) (texts, labels []string, err error) {
	var c Corpus
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, nil, fmt.Errorf("decode corpus: %w", err)
	}
	names := make([]string, 0, len(c.Intents))
	for name := range c.Intents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, ex := range c.Intents[name] {
			texts = append(texts, ex)
			labels = append(labels, name)
		}
	}
	if len(texts) == 0 {
		return nil, nil, fmt.Errorf("%w: corpus has no examples", ErrInvalidTrainingData)
	}
	return texts, labels, nil
}
