package resolver

import (
	"fmt"
	"slices"
	"strings"

	"kairos-intake/internal/catalog"
	"kairos-intake/internal/knowledge"
	"kairos-intake/internal/oracle"
)

// Tier names the strategy that produced a bundle.
type Tier string

const (
	TierCache    Tier = "cache"
	TierOracle   Tier = "oracle"
	TierFallback Tier = "fallback"
)

// Bundle is the resolved recommendation for one session. It is not
// modified after it is attached to a session.
type Bundle struct {
	Condition         string         `json:"condition"`
	Confidence        float64        `json:"confidence"`
	Causes            []string       `json:"causes"`
	Treatment         []string       `json:"treatment"`
	FoodsToIncrease   []string       `json:"foods_to_increase"`
	FoodsToAvoid      []string       `json:"foods_to_avoid"`
	Habits            []string       `json:"habits"`
	Items             []catalog.Item `json:"items"`
	ImprovementWindow string         `json:"improvement_window"`
	Warnings          []string       `json:"warnings"`
	Tier              Tier           `json:"tier"`
}

const (
	FallbackConfidence = 0.5
	DefaultWindow      = "2-3 semanas"

	professionalWarning = "Esta orientación es general. Consulta a un profesional de la salud calificado para un diagnóstico preciso."
	lowConfidenceNote   = "La información disponible es limitada; confirma esta orientación con un profesional de la salud."
	dosageNote          = "Sigue la dosis indicada de cada producto y no la excedas."
	doctorNotePrefix    = "Cuándo ver a un médico: "
)

// ImprovementWindow estimates when the patient should notice an effect,
// from the slowest item.
func ImprovementWindow(items []catalog.Item) string {
	switch weeks := catalog.MaxWeeks(items); {
	case weeks == 0:
		return DefaultWindow
	case weeks == 1:
		return "1-2 semanas"
	case weeks == 2:
		return "2-3 semanas"
	case weeks == 3:
		return "3-4 semanas"
	default:
		return fmt.Sprintf("%d semanas", weeks)
	}
}

// sourceWarnings are the warnings worth caching with a draft.
func sourceWarnings(d *oracle.Draft) []string {
	out := slices.Clone(d.Warnings)
	if note := strings.TrimSpace(d.WhenToSeeDoctor); note != "" {
		out = append(out, doctorNotePrefix+note)
	}
	return out
}

func (r *Resolver) fromDraft(d *oracle.Draft, complaint string) *Bundle {
	items := r.catalog.ByNames(d.RecommendedItems)
	if len(items) == 0 {
		items = r.catalog.ForSymptom(complaint)
	}
	return r.assemble(&Bundle{
		Condition:       d.Condition,
		Confidence:      d.Confidence,
		Causes:          d.Causes,
		Treatment:       d.Treatment,
		FoodsToIncrease: d.FoodsToIncrease,
		FoodsToAvoid:    d.FoodsToAvoid,
		Habits:          d.Habits,
		Items:           items,
		Warnings:        sourceWarnings(d),
		Tier:            TierOracle,
	})
}

func (r *Resolver) fromEntry(e *knowledge.Entry, complaint string) *Bundle {
	items := r.catalog.ByIDs(e.Items)
	if len(items) == 0 {
		items = r.catalog.ForSymptom(complaint)
	}
	return r.assemble(&Bundle{
		Condition:       e.Condition,
		Confidence:      e.Confidence,
		Causes:          e.Causes,
		Treatment:       e.Treatment,
		FoodsToIncrease: e.FoodsIncrease,
		FoodsToAvoid:    e.FoodsAvoid,
		Habits:          e.Habits,
		Items:           items,
		Warnings:        slices.Clone(e.Warnings),
		Tier:            TierCache,
	})
}

func (r *Resolver) assemble(b *Bundle) *Bundle {
	b.ImprovementWindow = ImprovementWindow(b.Items)
	if b.Confidence < r.opts.CacheMinConfidence {
		b.Warnings = appendUnique(b.Warnings, lowConfidenceNote)
	}
	if len(b.Items) > 0 {
		b.Warnings = appendUnique(b.Warnings, dosageNote)
	}
	return b
}

func (r *Resolver) fallback(complaint string) *Bundle {
	label := strings.TrimSpace(complaint)
	if label == "" {
		label = "no especificada"
	}
	items := r.catalog.ForSymptom(complaint)
	return &Bundle{
		Condition:  "Molestia: " + label,
		Confidence: FallbackConfidence,
		Causes:     []string{"No fue posible determinar la causa con la información disponible"},
		Treatment: []string{
			"Descansa lo suficiente",
			"Mantente bien hidratado durante el día",
		},
		FoodsToIncrease:   []string{"agua", "frutas y verduras frescas"},
		FoodsToAvoid:      []string{"alimentos ultraprocesados", "exceso de azúcar", "alcohol"},
		Habits:            []string{"dormir de 7 a 8 horas", "caminar 30 minutos al día"},
		Items:             items,
		ImprovementWindow: ImprovementWindow(items),
		Warnings:          []string{professionalWarning},
		Tier:              TierFallback,
	}
}

// entryFor converts an accepted draft into a cache entry.
func entryFor(d *oracle.Draft, fingerprint string, b *Bundle) *knowledge.Entry {
	ids := make([]int, 0, len(b.Items))
	for _, it := range b.Items {
		ids = append(ids, it.ID)
	}
	return &knowledge.Entry{
		Condition:     d.Condition,
		Keywords:      fingerprint,
		Confidence:    d.Confidence,
		Causes:        d.Causes,
		Treatment:     d.Treatment,
		FoodsIncrease: d.FoodsToIncrease,
		FoodsAvoid:    d.FoodsToAvoid,
		Habits:        d.Habits,
		Items:         ids,
		Warnings:      sourceWarnings(d),
		Origin:        knowledge.OriginOracle,
	}
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
