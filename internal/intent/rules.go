package intent

// RuleConfidence is reported for keyword matches.
const RuleConfidence = 0.75

type rule struct {
	intent  string
	phrases []string
}

// First match wins, so specific intents come before broad ones.
var rules = []rule{
	{Creator, []string{"quien te creo", "quien te hizo", "quien te programo", "quien te desarrollo"}},
	{Identity, []string{"quien eres", "que eres", "como te llamas", "eres un robot", "eres humano"}},
	{Capabilities, []string{"que puedes hacer", "que haces", "en que me ayudas", "como me ayudas", "para que sirves"}},
	{Price, []string{"precio", "precios", "cuesta", "cuanto vale", "costo", "cuanto sale"}},
	{Usage, []string{"como se toma", "como se usa", "como lo tomo", "dosis", "modo de uso", "cuantas veces al dia"}},
	{Product, []string{"moringa", "ganoderma", "reishi", "aceite", "producto", "productos", "capsulas"}},
	{Symptom, []string{
		"me duele", "dolor", "duele", "molestia", "tengo", "siento", "sufro", "padezco",
		"cabeza", "estomago", "gastritis", "cansancio", "cansado", "cansada", "estres", "estresado",
		"ansiedad", "insomnio", "no puedo dormir", "depresion", "gripe", "tos", "fiebre", "mareo",
	}},
	{HealthStatus, []string{"estoy bien", "me siento bien", "me siento mal", "estoy mal", "mas o menos"}},
	{Farewell, []string{"adios", "chau", "chao", "hasta luego", "nos vemos", "hasta pronto"}},
	{Greeting, []string{"hola", "buenos dias", "buenas tardes", "buenas noches", "buenas", "saludos", "que tal"}},
	{Confirmation, []string{"si", "claro", "correcto", "ok", "de acuerdo", "exacto", "asi es", "afirmativo"}},
	{Negation, []string{"no", "nada", "ninguno", "ninguna", "tampoco", "negativo"}},
}

// DetectRules is the keyword fallback used while no model is loaded.
func DetectRules(text string) (string, float64) {
	n := Normalize(text)
	if n == "" {
		return Unknown, 0
	}
	for _, r := range rules {
		for _, p := range r.phrases {
			if ContainsPhrase(n, p) {
				return r.intent, RuleConfidence
			}
		}
	}
	return Unknown, 0
}
