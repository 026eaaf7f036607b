package intent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallCorpus() ([]string, []string) {
	texts := []string{
		"hola", "hola buenos dias", "buenas tardes", "buenas noches", "hola que tal",
		"me duele la cabeza", "tengo dolor de estomago", "me duele la espalda", "tengo fiebre", "me duele mucho",
		"cuanto cuesta", "que precio tiene", "cuanto vale", "cual es el costo", "cuanto cuesta la moringa",
	}
	labels := []string{
		Greeting, Greeting, Greeting, Greeting, Greeting,
		Symptom, Symptom, Symptom, Symptom, Symptom,
		Price, Price, Price, Price, Price,
	}
	return texts, labels
}

func newTrained(t *testing.T, store ModelStore) *Classifier {
	t.Helper()
	c := NewClassifier(store, TrainOptions{}, zerolog.Nop())
	texts, labels := smallCorpus()
	_, err := c.Train(texts, labels)
	require.NoError(t, err)
	return c
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"¿Me DUELE la cabeza?", "me duele la cabeza"},
		{"  en las   mañanas ", "en las mananas"},
		{"Estrés, ansiedad... ¡y más!", "estres ansiedad y mas"},
		{"un 7/10", "un 7 10"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestUntrainedClassifierFails(t *testing.T) {
	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())
	assert.False(t, c.Ready())

	_, err := c.Classify("hola")
	assert.ErrorIs(t, err, ErrModelNotTrained)

	_, _, err = c.ClassifyWithThreshold("hola", 0.6)
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestTrainAndClassify(t *testing.T) {
	c := newTrained(t, nil)
	labels := c.Active().Labels

	for _, text := range []string{"hola buenos dias", "me duele la cabeza", "cuanto cuesta", "algo totalmente nuevo"} {
		p, err := c.Classify(text)
		require.NoError(t, err)
		assert.Contains(t, labels, p.Intent)
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)

		var sum float64
		for _, v := range p.Distribution {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	p, err := c.Classify("hola que tal")
	require.NoError(t, err)
	assert.Equal(t, Greeting, p.Intent)

	p, err = c.Classify("me duele la cabeza")
	require.NoError(t, err)
	assert.Equal(t, Symptom, p.Intent)
}

func TestClassifyWithThresholdReturnsUnknown(t *testing.T) {
	c := newTrained(t, nil)

	// no known terms: the distribution falls back to the class priors
	intent, conf, err := c.ClassifyWithThreshold("zzz qqq", DefaultMinConfidence)
	require.NoError(t, err)
	assert.Equal(t, Unknown, intent)
	assert.Less(t, conf, DefaultMinConfidence)

	intent, _, err = c.ClassifyWithThreshold("cuanto cuesta", 0)
	require.NoError(t, err)
	assert.Equal(t, Price, intent)
}

func TestTrainRejectsMismatchedLengths(t *testing.T) {
	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())

	_, err := c.Train([]string{"hola", "adios"}, []string{Greeting})
	assert.ErrorIs(t, err, ErrInvalidTrainingData)

	_, err = c.Train(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTrainingData)

	assert.False(t, c.Ready())
}

func TestTrainWarnsOnFewExamples(t *testing.T) {
	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())

	m, err := c.Train([]string{"hola", "buenas", "me duele", "tengo dolor"}, []string{Greeting, Greeting, Symptom, Symptom})
	require.NoError(t, err)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "4 training examples")
	assert.Equal(t, 4, m.ExampleCount)
	assert.Equal(t, 2, m.LabelCount)
	assert.Positive(t, m.VocabularySize)
	assert.True(t, c.Ready())
}

func TestTrainingMetricsForFullCorpus(t *testing.T) {
	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())
	m, err := c.Train(smallCorpus())
	require.NoError(t, err)

	assert.Empty(t, m.Warnings)
	assert.Equal(t, 15, m.ExampleCount)
	assert.Equal(t, 3, m.LabelCount)
	assert.Equal(t, 1.0, m.Accuracy)
	assert.NotEmpty(t, m.Version)
}

func TestSingleLabelModel(t *testing.T) {
	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())
	_, err := c.Train([]string{"hola", "buenas"}, []string{Greeting, Greeting})
	require.NoError(t, err)

	p, err := c.Classify("cualquier cosa")
	require.NoError(t, err)
	assert.Equal(t, Greeting, p.Intent)
	assert.Equal(t, 1.0, p.Confidence)
}

func TestTrainingIsDeterministic(t *testing.T) {
	a := newTrained(t, nil).Active()
	b := newTrained(t, nil).Active()

	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Accuracy, b.Accuracy)
	assert.Equal(t, a.Vectorizer.Vocabulary, b.Vectorizer.Vocabulary)
	assert.Equal(t, a.Weights, b.Weights)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "models", "classifier.bin"))
	trained := newTrained(t, store)

	loaded := NewClassifier(store, TrainOptions{}, zerolog.Nop())
	require.NoError(t, loaded.Load())
	assert.Equal(t, trained.Active().Version, loaded.Active().Version)

	for _, text := range []string{"hola", "me duele la cabeza", "precio", "nada que ver"} {
		want, err := trained.Classify(text)
		require.NoError(t, err)
		got, err := loaded.Classify(text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
}

func TestSaveWithoutModelOrStore(t *testing.T) {
	c := NewClassifier(NewFileStore(filepath.Join(t.TempDir(), "m.bin")), TrainOptions{}, zerolog.Nop())
	assert.ErrorIs(t, c.Save(), ErrModelNotTrained)

	noStore := newTrained(t, nil)
	assert.ErrorIs(t, noStore.Save(), ErrNoModelStore)
	assert.ErrorIs(t, noStore.Load(), ErrNoModelStore)
}

func TestLoadCorruptBlobKeepsCurrentModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifier.bin")
	store := NewFileStore(path)
	c := newTrained(t, store)
	version := c.Active().Version

	require.NoError(t, os.WriteFile(path, []byte("definitely not a model"), 0o644))
	err := c.Load()
	assert.ErrorIs(t, err, ErrCorruptModel)
	assert.Equal(t, version, c.Active().Version)

	_, err = c.Classify("hola")
	assert.NoError(t, err)
}

func TestDecodeRejectsTamperedBlobs(t *testing.T) {
	blob, err := Encode(newTrained(t, nil).Active())
	require.NoError(t, err)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)-1] ^= 0xff
	_, err = Decode(flipped)
	assert.ErrorIs(t, err, ErrCorruptModel)

	future := append([]byte(nil), blob...)
	future[5] = 9
	_, err = Decode(future)
	assert.ErrorIs(t, err, ErrIncompatibleModel)

	_, err = Decode(blob[:3])
	assert.ErrorIs(t, err, ErrCorruptModel)
}

type failingStore struct{}

func (failingStore) Save(*Model) error     { return errors.New("disk full") }
func (failingStore) Load() (*Model, error) { return nil, errors.New("disk gone") }

func TestPersistFailureKeepsPreviousModel(t *testing.T) {
	c := newTrained(t, nil)
	version := c.Active().Version
	c.store = failingStore{}

	_, err := c.Train([]string{"a", "b"}, []string{"x", "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, version, c.Active().Version)
}

func TestClassifyDuringRetrain(t *testing.T) {
	c := newTrained(t, nil)
	texts, labels := smallCorpus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p, err := c.Classify("me duele la cabeza")
				if assert.NoError(t, err) {
					assert.Len(t, p.Distribution, 3)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := c.Train(texts, labels)
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestDetectRules(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Hola, buenos días", Greeting},
		{"¿Quién te creó?", Creator},
		{"¿Quién eres?", Identity},
		{"¿Qué puedes hacer?", Capabilities},
		{"me duele la cabeza", Symptom},
		{"siento mucho cansancio", Symptom},
		{"¿Cuánto cuesta?", Price},
		{"la moringa", Product},
		{"sí", Confirmation},
		{"no", Negation},
		{"adiós", Farewell},
		{"hace tres dias", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		got, conf := DetectRules(tt.text)
		assert.Equal(t, tt.want, got, tt.text)
		if tt.want == Unknown {
			assert.Zero(t, conf)
		} else {
			assert.Equal(t, RuleConfidence, conf)
		}
	}
}

func TestParseCorpus(t *testing.T) {
	texts, labels, err := ParseCorpus(strings.NewReader(`
intents:
  symptom: [me duele, tengo fiebre]
  greeting: [hola]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"hola", "me duele", "tengo fiebre"}, texts)
	assert.Equal(t, []string{Greeting, Symptom, Symptom}, labels)

	_, _, err = ParseCorpus(strings.NewReader("intents: {}"))
	assert.ErrorIs(t, err, ErrInvalidTrainingData)
}

func TestSeedCorpusTrains(t *testing.T) {
	texts, labels, err := LoadCorpus(filepath.Join("..", "..", "data", "intents.yaml"))
	require.NoError(t, err)

	c := NewClassifier(nil, TrainOptions{}, zerolog.Nop())
	m, err := c.Train(texts, labels)
	require.NoError(t, err)
	assert.Equal(t, 12, m.LabelCount)
	assert.Greater(t, m.Accuracy, 0.8)
}
