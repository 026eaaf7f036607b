// Package catalog answers product lookups for recommendation bundles.
package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kairos-intake/internal/intent"
)

type Item struct {
	ID          int      `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases" json:"-"`
	Benefits    []string `yaml:"benefits" json:"benefits"`
	Symptoms    []string `yaml:"symptoms" json:"-"`
	Dosage      string   `yaml:"dosage" json:"dosage"`
	EffectWeeks string   `yaml:"effect_weeks" json:"effect_weeks"`
}

// Catalog is the query contract the resolver depends on.
type Catalog interface {
	ForSymptom(symptom string) []Item
	ByNames(names []string) []Item
	ByIDs(ids []int) []Item
	Summary() string
}

type file struct {
	Items []Item `yaml:"items"`
}

// Static is an in-memory catalog.
type Static struct {
	items []Item
}

func New(items []Item) *Static {
	return &Static{items: items}
}

// Default is the catalog shipped with the stand.
func Default() *Static {
	return New([]Item{
		{
			ID: 1, Name: "Moringa", Aliases: []string{"moringa"},
			Benefits:    []string{"antiinflamatorio", "equilibrio hormonal", "energía"},
			Symptoms:    []string{"dolor de cabeza", "cansancio", "dolor muscular", "dolor de espalda", "gripe"},
			Dosage:      "2 cápsulas al día con el desayuno",
			EffectWeeks: "2-3 semanas",
		},
		{
			ID: 2, Name: "Ganoderma Reishi", Aliases: []string{"ganoderma", "reishi"},
			Benefits:    []string{"manejo del estrés", "inmunidad", "calidad del sueño"},
			Symptoms:    []string{"estres", "ansiedad", "insomnio", "depresion", "dolor de cabeza", "gripe", "tos", "fiebre"},
			Dosage:      "1 cápsula en la noche",
			EffectWeeks: "3-4 semanas",
		},
		{
			ID: 3, Name: "Aceite de Moringa", Aliases: []string{"aceite"},
			Benefits:    []string{"digestión", "cuidado de la piel"},
			Symptoms:    []string{"gastritis", "dolor de estomago"},
			Dosage:      "1 cucharadita en ayunas",
			EffectWeeks: "1-2 semanas",
		},
	})
}

func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Items) == 0 {
		return nil, fmt.Errorf("catalog %s has no items", path)
	}
	return New(f.Items), nil
}

func (s *Static) Items() []Item { return append([]Item(nil), s.items...) }

// ForSymptom returns items listing the symptom, in catalog order.
func (s *Static) ForSymptom(symptom string) []Item {
	key := intent.Normalize(symptom)
	if key == "" {
		return nil
	}
	var out []Item
	for _, it := range s.items {
		for _, sym := range it.Symptoms {
			n := intent.Normalize(sym)
			if n == key || intent.ContainsPhrase(key, n) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// ByNames resolves free-text product names. Aliases are checked in order,
// and an item whose name has more tokens wins over a shorter one, so
// "aceite de moringa" maps to the oil and not to Moringa.
func (s *Static) ByNames(names []string) []Item {
	var out []Item
	seen := make(map[int]bool)
	for _, name := range names {
		it, ok := s.match(intent.Normalize(name))
		if !ok || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func (s *Static) ByIDs(ids []int) []Item {
	var out []Item
	for _, id := range ids {
		for _, it := range s.items {
			if it.ID == id {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

func (s *Static) match(n string) (Item, bool) {
	if n == "" {
		return Item{}, false
	}
	var best Item
	bestScore := 0
	for _, it := range s.items {
		score := 0
		if intent.ContainsPhrase(n, intent.Normalize(it.Name)) {
			score = 10 + len(strings.Fields(it.Name))
		}
		for _, a := range it.Aliases {
			if intent.ContainsPhrase(n, intent.Normalize(a)) && score < 5 {
				score = 5
			}
		}
		if score > bestScore {
			best, bestScore = it, score
		}
	}
	return best, bestScore > 0
}

// Summary lists the catalog for the oracle prompt.
func (s *Static) Summary() string {
	var b strings.Builder
	for _, it := range s.items {
		fmt.Fprintf(&b, "- %s: %s\n", it.Name, strings.Join(it.Benefits, ", "))
	}
	return b.String()
}

var weeksRe = regexp.MustCompile(`\d+`)

// MaxWeeks returns the largest week count mentioned in the items' effect
// windows, or 0 when none is given.
func MaxWeeks(items []Item) int {
	max := 0
	for _, it := range items {
		for _, m := range weeksRe.FindAllString(it.EffectWeeks, -1) {
			if n, err := strconv.Atoi(m); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}
