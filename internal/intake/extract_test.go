package intake

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	seven, eight := 7, 8
	tests := []struct {
		name string
		text string
		hint Field
		want Entities
	}{
		{"headache", "me duele la cabeza", FieldComplaint, Entities{Symptoms: []string{"dolor de cabeza"}}},
		{"migraine synonym", "Tengo migraña", FieldComplaint, Entities{Symptoms: []string{"dolor de cabeza"}}},
		{"unknown body part", "me duele la rodilla", FieldComplaint, Entities{Symptoms: []string{"dolor de rodilla"}}},
		{"spelled duration", "hace tres dias", FieldDuration, Entities{Duration: "3 dias"}},
		{"digit duration", "desde hace 2 semanas", FieldDuration, Entities{Duration: "2 semanas"}},
		{"singular duration", "una semana", FieldDuration, Entities{Duration: "1 semana"}},
		{"months", "hace 3 meses", FieldNone, Entities{Duration: "3 meses"}},
		{"yesterday", "desde ayer", FieldDuration, Entities{Duration: "1 dia"}},
		{"marked intensity", "un 7", FieldIntensity, Entities{Intensity: &seven}},
		{"out of ten", "como 8 de 10", FieldNone, Entities{Intensity: &eight}},
		{"spelled intensity", "ocho", FieldIntensity, Entities{Intensity: &eight}},
		{"daily", "todos los días", FieldFrequency, Entities{Frequency: "diario"}},
		{"times per day", "3 veces al dia", FieldFrequency, Entities{Frequency: "3 veces al dia"}},
		{"sometimes", "solo a veces", FieldFrequency, Entities{Frequency: "ocasional"}},
		{"mornings", "en las mañanas", FieldFrequency, Entities{TimeOfDay: "mañana"}},
		{"night", "antes de dormir", FieldTimeOfDay, Entities{TimeOfDay: "noche"}},
		{"rest relieves by default", "descanso", FieldFrequency, Entities{Relieving: []string{"descanso"}}},
		{"aggravating markers carry", "empeora con el ruido y la luz", FieldNone, Entities{Aggravating: []string{"ruido", "luz"}}},
		{"relieving marker", "me alivia tomar agua", FieldNone, Entities{Relieving: []string{"agua"}}},
		{"neutral follows hint", "la comida", FieldAggravating, Entities{Aggravating: []string{"comida"}}},
		{"negated factor", "nada", FieldRelieving, Entities{Relieving: []string{"ninguno"}}},
		{"free text duration", "desde hace rato", FieldDuration, Entities{Duration: "desde hace rato"}},
		{"greeting is not time of day", "buenas tardes", FieldNone, Entities{}},
		{"no hint keeps nothing", "quizas", FieldNone, Entities{}},
		{
			"several facts at once", "no puedo dormir por las noches desde hace 2 semanas", FieldComplaint,
			Entities{Symptoms: []string{"insomnio"}, Duration: "2 semanas", TimeOfDay: "noche"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, tt.hint))
		})
	}
}

func TestExtractDurationDigitsAreNotIntensity(t *testing.T) {
	e := Extract("hace 3 dias", FieldIntensity)
	assert.Equal(t, "3 dias", e.Duration)
	assert.Nil(t, e.Intensity)
}

func TestEntitiesEmpty(t *testing.T) {
	assert.True(t, Entities{}.Empty())
	assert.False(t, Entities{Frequency: "diario"}.Empty())
}

func TestClipKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "a diario", clip("a diario"))

	words := strings.Repeat("palabra ", 10)
	got := clip(words)
	assert.Equal(t, strings.TrimSpace(strings.Repeat("palabra ", 7)), got)

	cyrillic := strings.Repeat("ж", 70)
	got = clip(cyrillic)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 60, utf8.RuneCountInString(got))

	mixed := "a" + strings.Repeat("ж", 70)
	got = clip(mixed)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 60, utf8.RuneCountInString(got))
}
