package intake

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"kairos-intake/internal/intent"
)

// Entities are the facts found in one utterance.
type Entities struct {
	Symptoms    []string
	Duration    string
	Intensity   *int
	Frequency   string
	TimeOfDay   string
	Aggravating []string
	Relieving   []string
}

func (e Entities) Empty() bool {
	return len(e.Symptoms) == 0 && e.Duration == "" && e.Intensity == nil && e.Frequency == "" &&
		e.TimeOfDay == "" && len(e.Aggravating) == 0 && len(e.Relieving) == 0
}

type lexeme struct {
	label   string
	phrases []string
}

var symptomLexicon = []lexeme{
	{"dolor de cabeza", []string{"dolor de cabeza", "cabeza", "cefalea", "migrana", "migranas", "jaqueca"}},
	{"dolor de estomago", []string{"dolor de estomago", "estomago", "barriga", "panza", "abdomen", "abdominal"}},
	{"gastritis", []string{"gastritis", "acidez", "agruras", "reflujo"}},
	{"dolor de espalda", []string{"espalda", "lumbar", "cintura"}},
	{"dolor muscular", []string{"muscular", "musculos", "contractura"}},
	{"cansancio", []string{"cansancio", "cansado", "cansada", "fatiga", "agotamiento", "agotado", "agotada", "sin energia"}},
	{"estres", []string{"estres", "estresado", "estresada"}},
	{"ansiedad", []string{"ansiedad", "ansioso", "ansiosa", "nervios", "nervioso", "nerviosa"}},
	{"insomnio", []string{"insomnio", "no puedo dormir", "duermo mal", "no duermo"}},
	{"depresion", []string{"depresion", "deprimido", "deprimida"}},
	{"gripe", []string{"gripe", "resfriado", "resfrio", "congestion"}},
	{"tos", []string{"tos"}},
	{"fiebre", []string{"fiebre", "calentura"}},
}

// greetings are stripped first so "buenas tardes" is not a time of day.
var greetings = []string{"buenos dias", "buenas tardes", "buenas noches"}

var timeOfDayLexicon = []lexeme{
	{"todo el dia", []string{"todo el dia", "todo el santo dia"}},
	{"mañana", []string{"por la manana", "en la manana", "en las mananas", "las mananas", "manana", "mananas", "al despertar", "al levantarme", "madrugada", "matutino"}},
	{"tarde", []string{"por la tarde", "en la tarde", "en las tardes", "tarde", "tardes", "mediodia", "despues de almorzar"}},
	{"noche", []string{"por la noche", "en la noche", "en las noches", "noche", "noches", "nocturno", "antes de dormir", "al acostarme"}},
}

var frequencyLexicon = []lexeme{
	{"diario", []string{"todos los dias", "diario", "diariamente", "a diario", "cada dia", "todo los dias"}},
	{"semanal", []string{"todas las semanas", "cada semana", "semanal", "una vez por semana"}},
	{"constante", []string{"siempre", "constante", "constantemente", "todo el tiempo", "sin parar"}},
	{"ocasional", []string{"a veces", "solo a veces", "algunas veces", "de vez en cuando", "ocasionalmente", "ocasional", "rara vez"}},
}

type polarity int

const (
	neutral polarity = iota
	relieves
	aggravates
)

type factor struct {
	label   string
	phrases []string
	def     polarity
}

var factorLexicon = []factor{
	{"descanso", []string{"descanso", "descansar", "descansando", "reposo", "acostarme"}, relieves},
	{"dormir", []string{"dormir", "durmiendo", "siesta"}, relieves},
	{"agua", []string{"agua", "tomar agua", "hidratarme"}, relieves},
	{"medicamento", []string{"medicamento", "medicamentos", "pastilla", "pastillas", "paracetamol", "ibuprofeno", "analgesico", "aspirina"}, relieves},
	{"masaje", []string{"masaje", "masajes"}, relieves},
	{"infusiones", []string{"infusion", "infusiones", "manzanilla", "te caliente"}, relieves},
	{"oscuridad", []string{"oscuridad", "oscuro"}, relieves},
	{"silencio", []string{"silencio"}, relieves},
	{"relajacion", []string{"relajarme", "relajacion", "respirar"}, relieves},
	{"estres", []string{"estres", "preocupaciones", "tension", "discusiones"}, aggravates},
	{"ruido", []string{"ruido", "ruidos", "bulla"}, aggravates},
	{"luz", []string{"luz", "sol", "luces"}, aggravates},
	{"trabajo", []string{"trabajo", "trabajar", "oficina"}, aggravates},
	{"pantallas", []string{"computadora", "pantalla", "pantallas", "celular"}, aggravates},
	{"ejercicio", []string{"ejercicio", "esfuerzo", "correr", "cargar peso"}, aggravates},
	{"alcohol", []string{"alcohol", "cerveza", "trago"}, aggravates},
	{"cafe", []string{"cafe", "cafeina"}, aggravates},
	{"comida picante", []string{"picante", "aji"}, aggravates},
	{"comida grasosa", []string{"grasa", "frituras", "fritura", "grasosa"}, aggravates},
	{"ayuno", []string{"ayuno", "no comer", "sin comer"}, aggravates},
	{"comida", []string{"comida", "comer", "comidas"}, neutral},
	{"frio", []string{"frio"}, neutral},
	{"calor", []string{"calor"}, neutral},
	{"movimiento", []string{"movimiento", "moverme", "caminar"}, neutral},
}

var (
	relievingMarkers   = []string{"mejora", "mejoro", "mejoran", "alivia", "me alivia", "ayuda", "me ayuda", "calma", "se me pasa", "se pasa", "se quita", "se me quita", "disminuye"}
	aggravatingMarkers = []string{"empeora", "empeoran", "peor", "aumenta", "agrava", "se intensifica", "me molesta mas"}
	negations          = []string{"no", "nada", "ninguno", "ninguna", "no se", "nada en especial", "no nada", "no hay", "nada me ayuda", "nada lo empeora"}
	clauseSplitter     = regexp.MustCompile(` (?:pero|aunque|y|mientras que) `)
)

// vagueWords are not body parts: "me duele mucho" names no location.
var vagueWords = map[string]bool{"mucho": true, "poco": true, "bastante": true, "demasiado": true, "todo": true, "siempre": true, "cuando": true, "aqui": true}

var numberWords = map[string]int{
	"un": 1, "una": 1, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10, "once": 11, "doce": 12,
	"quince": 15, "veinte": 20, "treinta": 30,
}

const numberPattern = `(\d+|un|una|uno|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez|once|doce|quince|veinte|treinta)`

var (
	durationRe       = regexp.MustCompile(`(?:\b(?:desde hace|hace|por|durante|desde) )?\b` + numberPattern + ` (dias?|semanas?|mes|meses|anos?|horas?)\b`)
	vagueDurationRe  = regexp.MustCompile(`\b(varios|unos|unas|algunos|algunas|muchos|muchas) (dias|semanas|meses|anos)\b`)
	timesRe          = regexp.MustCompile(`\b` + numberPattern + ` (?:vez|veces)(?: (al|por|a la|en la) (dia|semana|mes))?\b`)
	outOfTenRe       = regexp.MustCompile(`\b(10|[0-9]) (?:de|sobre) 10\b`)
	markedIntensity  = regexp.MustCompile(`\b(?:un|una|como un|como una|nivel|intensidad|es|esta en|de) (10|[0-9])\b`)
	painLocationRe   = regexp.MustCompile(`\b(?:me duelen?|dolor (?:de|en)) (?:el |la |los |las |mi |mis )?([a-z]+)`)
	bareNumber       = regexp.MustCompile(`\b(10|[0-9])\b`)
	spelledIntensity = map[string]int{"cero": 0, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5, "seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10}
	qualitative      = []struct {
		phrase string
		value  int
	}{
		{"insoportable", 10}, {"terrible", 9}, {"muy fuerte", 9}, {"fuerte", 7}, {"intenso", 7}, {"intensa", 7},
		{"moderado", 5}, {"moderada", 5}, {"regular", 5}, {"leve", 3}, {"poco", 2}, {"suave", 2},
	}
)

var durationUnits = map[string][2]string{
	"dia":    {"dia", "dias"},
	"semana": {"semana", "semanas"},
	"mes":    {"mes", "meses"},
	"ano":    {"año", "años"},
	"hora":   {"hora", "horas"},
}

// Extract finds entities in a raw utterance. hint is the field the engine
// just asked about; it decides ambiguous numbers and factor polarity and
// lets a free-text answer fill that field. Pass FieldNone for utterances
// that are not answers.
func Extract(text string, hint Field) Entities {
	var e Entities
	work := intent.Normalize(text)
	if work == "" {
		return e
	}
	original := work

	for _, g := range greetings {
		work = removePhrase(work, g)
	}

	hasMarker := containsAny(work, relievingMarkers) || containsAny(work, aggravatingMarkers)
	if !hasMarker || hint == FieldComplaint {
		for _, lx := range symptomLexicon {
			for _, p := range lx.phrases {
				if intent.ContainsPhrase(work, p) {
					e.Symptoms = appendUnique(e.Symptoms, lx.label)
					work = removePhrase(work, p)
				}
			}
		}
		if len(e.Symptoms) == 0 {
			if m := painLocationRe.FindStringSubmatch(work); m != nil && !vagueWords[m[1]] {
				e.Symptoms = []string{"dolor de " + m[1]}
				work = removePhrase(work, m[0])
			}
		}
	}

	if m := durationRe.FindStringSubmatch(work); m != nil {
		if n, ok := parseNumber(m[1]); ok {
			e.Duration = formatDuration(n, m[2])
			work = removePhrase(work, m[0])
		}
	} else if m := vagueDurationRe.FindStringSubmatch(work); m != nil {
		e.Duration = "varios " + m[2]
		if m[2] == "semanas" {
			e.Duration = "varias semanas"
		}
		work = removePhrase(work, m[0])
	} else if intent.ContainsPhrase(work, "ayer") || intent.ContainsPhrase(work, "anoche") || intent.ContainsPhrase(work, "desde ayer") {
		e.Duration = "1 dia"
		work = removePhrase(removePhrase(removePhrase(work, "desde ayer"), "ayer"), "anoche")
	}

	if m := timesRe.FindStringSubmatch(work); m != nil {
		if n, ok := parseNumber(m[1]); ok {
			e.Frequency = formatTimes(n, m[2], m[3])
			work = removePhrase(work, m[0])
		}
	}
	if e.Frequency == "" {
		if label, p := matchLexicon(work, frequencyLexicon); label != "" {
			e.Frequency = label
			work = removePhrase(work, p)
		}
	}

	if label, p := matchLexicon(work, timeOfDayLexicon); label != "" {
		e.TimeOfDay = label
		work = removePhrase(work, p)
	}

	e.Intensity = extractIntensity(work, hint)

	e.Relieving, e.Aggravating = extractFactors(work, hint)

	if e.Empty() {
		fillFromAnswer(&e, original, hint)
	}
	return e
}

func extractIntensity(work string, hint Field) *int {
	if m := outOfTenRe.FindStringSubmatch(work); m != nil {
		return intPtr(atoi(m[1]))
	}
	if m := markedIntensity.FindStringSubmatch(work); m != nil {
		return intPtr(atoi(m[1]))
	}
	if hint != FieldIntensity {
		return nil
	}
	if m := bareNumber.FindStringSubmatch(work); m != nil {
		return intPtr(atoi(m[1]))
	}
	for _, w := range strings.Fields(work) {
		if v, ok := spelledIntensity[w]; ok {
			return intPtr(v)
		}
	}
	for _, q := range qualitative {
		if intent.ContainsPhrase(work, q.phrase) {
			return intPtr(q.value)
		}
	}
	return nil
}

// extractFactors sorts factor words by the nearest polarity marker. A
// clause without a marker inherits the previous clause's polarity.
func extractFactors(work string, hint Field) (relieving, aggravating []string) {
	var rel, agg bool
	for _, clause := range clauseSplitter.Split(work, -1) {
		r, a := containsAny(clause, relievingMarkers), containsAny(clause, aggravatingMarkers)
		if r || a {
			rel, agg = r, a
		}
		for _, f := range factorLexicon {
			if !containsAny(clause, f.phrases) {
				continue
			}
			side := f.def
			switch {
			case agg && !rel:
				side = aggravates
			case rel && !agg:
				side = relieves
			case hint == FieldRelieving:
				side = relieves
			case hint == FieldAggravating:
				side = aggravates
			}
			switch side {
			case relieves:
				relieving = appendUnique(relieving, f.label)
			case aggravates:
				aggravating = appendUnique(aggravating, f.label)
			}
		}
	}
	return relieving, aggravating
}

// fillFromAnswer keeps a free-text answer for the field that was asked.
func fillFromAnswer(e *Entities, normalized string, hint Field) {
	isNegation := false
	for _, n := range negations {
		if normalized == n {
			isNegation = true
			break
		}
	}

	switch hint {
	case FieldRelieving, FieldAggravating:
		value := clip(normalized)
		if isNegation {
			value = "ninguno"
		}
		if hint == FieldRelieving {
			e.Relieving = []string{value}
		} else {
			e.Aggravating = []string{value}
		}
	case FieldDuration:
		if !isNegation {
			e.Duration = clip(normalized)
		}
	case FieldFrequency:
		if !isNegation {
			e.Frequency = clip(normalized)
		}
	case FieldTimeOfDay:
		if !isNegation {
			e.TimeOfDay = clip(normalized)
		}
	}
}

// clip keeps at most 60 letters, cutting at a word boundary when one exists.
func clip(s string) string {
	const limit = 60
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	end, n := 0, 0
	for i := range s {
		if n == limit {
			end = i
			break
		}
		n++
	}
	cut := strings.LastIndex(s[:end], " ")
	if cut <= 0 {
		cut = end
	}
	return s[:cut]
}

func matchLexicon(work string, lexicon []lexeme) (label, phrase string) {
	for _, lx := range lexicon {
		for _, p := range lx.phrases {
			if intent.ContainsPhrase(work, p) {
				return lx.label, p
			}
		}
	}
	return "", ""
}

func containsAny(work string, phrases []string) bool {
	for _, p := range phrases {
		if intent.ContainsPhrase(work, p) {
			return true
		}
	}
	return false
}

// removePhrase drops every whole-token occurrence of phrase.
func removePhrase(work, phrase string) string {
	padded := " " + work + " "
	padded = strings.ReplaceAll(padded, " "+strings.TrimSpace(phrase)+" ", " ")
	return strings.Join(strings.Fields(padded), " ")
}

func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := numberWords[s]
	return n, ok
}

func formatDuration(n int, unit string) string {
	var forms [2]string
	for base, f := range durationUnits {
		if strings.HasPrefix(unit, base) {
			forms = f
			break
		}
	}
	if forms[0] == "" {
		return strconv.Itoa(n) + " " + unit
	}
	if n == 1 {
		return "1 " + forms[0]
	}
	return strconv.Itoa(n) + " " + forms[1]
}

func formatTimes(n int, prep, unit string) string {
	s := strconv.Itoa(n) + " veces"
	if n == 1 {
		s = "1 vez"
	}
	if unit != "" {
		s += " " + prep + " " + unit
	}
	return s
}

func appendUnique(dst []string, v string) []string {
	for _, x := range dst {
		if x == v {
			return dst
		}
	}
	return append(dst, v)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func intPtr(v int) *int { return &v }
