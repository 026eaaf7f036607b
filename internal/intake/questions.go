package intake

import (
	"fmt"
	"strings"
)

// QuestionStrategy selects how follow-up questions are phrased.
type QuestionStrategy string

const (
	// Static asks the fixed question for each field.
	Static QuestionStrategy = "static"
	// Personalized addresses the patient by first name and names the complaint.
	Personalized QuestionStrategy = "personalized"
)

func ParseQuestionStrategy(s string) (QuestionStrategy, error) {
	switch QuestionStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Static:
		return Static, nil
	case Personalized:
		return Personalized, nil
	}
	return "", fmt.Errorf("unknown question strategy %q", s)
}

var staticQuestions = map[Field]string{
	FieldComplaint:   "Cuéntame, ¿qué molestia tienes?",
	FieldDuration:    "¿Desde hace cuánto tiempo tienes esta molestia?",
	FieldIntensity:   "Del 1 al 10, ¿qué tan fuerte es la molestia?",
	FieldFrequency:   "¿Esto te pasa todos los días o solo a veces?",
	FieldTimeOfDay:   "¿En qué momento del día te molesta más?",
	FieldAggravating: "¿Hay algo que haga que empeore?",
	FieldRelieving:   "¿Hay algo que hagas que te ayude a sentirte mejor?",
}

var personalizedQuestions = map[Field]string{
	FieldComplaint:   "%s, cuéntame, ¿qué molestia tienes?",
	FieldDuration:    "%s, ¿desde hace cuánto tiempo tienes %s?",
	FieldIntensity:   "%s, del 1 al 10, ¿qué tan fuerte es %s?",
	FieldFrequency:   "%s, ¿%s te pasa todos los días o solo a veces?",
	FieldTimeOfDay:   "%s, ¿en qué momento del día te molesta más %s?",
	FieldAggravating: "%s, ¿hay algo que haga que %s empeore?",
	FieldRelieving:   "%s, ¿hay algo que te alivie %s?",
}

// Question phrases the follow-up for field.
func Question(strategy QuestionStrategy, field Field, firstName, complaint string) string {
	if strategy != Personalized || firstName == "" {
		return staticQuestions[field]
	}
	tmpl := personalizedQuestions[field]
	if field == FieldComplaint {
		return fmt.Sprintf(tmpl, firstName)
	}
	subject := "la molestia"
	if complaint != "" {
		subject = "el " + complaint
		if !strings.HasPrefix(complaint, "dolor") {
			subject = "lo de " + complaint
		}
	}
	return fmt.Sprintf(tmpl, firstName, subject)
}
