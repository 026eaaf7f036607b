package oracle

import (
	"fmt"
	"strings"
)

// Prompt is what the oracle is told about one consultation.
type Prompt struct {
	SessionID      string
	Complaint      string
	ContextSummary string
	// Turns are the prior patient utterances, oldest first.
	Turns          []string
	CatalogSummary string
}

const maxPromptTurns = 12

const systemPrompt = `Eres Kairos, un asesor de medicina natural y holística.
Eres empático y profesional. Recomiendas plantas, productos naturales y hábitos saludables.
Nunca sustituyes la opinión de un médico en casos graves y siempre lo indicas.
Respondes únicamente con un objeto JSON válido, sin texto adicional.`

const replyShape = `{
  "condition": "nombre de la condición",
  "confidence": 0.85,
  "causes": ["causa 1", "causa 2"],
  "treatment": ["indicación 1", "indicación 2"],
  "foods_to_increase": ["alimento 1"],
  "foods_to_avoid": ["alimento 1"],
  "habits": ["hábito 1"],
  "warnings": ["advertencia si aplica"],
  "recommended_items": ["nombre exacto del producto del catálogo"],
  "when_to_see_doctor": "cuándo consultar a un médico"
}`

// System returns the fixed system message.
func (p Prompt) System() string { return systemPrompt }

// User renders the user message.
func (p Prompt) User() string {
	var b strings.Builder
	complaint := p.Complaint
	if complaint == "" {
		complaint = "no especificada"
	}
	fmt.Fprintf(&b, "Analiza el caso y genera un diagnóstico natural.\n\nMOLESTIA PRINCIPAL: %s\n", complaint)

	if s := strings.TrimSpace(p.ContextSummary); s != "" {
		fmt.Fprintf(&b, "\nRESUMEN CLÍNICO:\n%s\n", s)
	}

	turns := p.Turns
	if len(turns) > maxPromptTurns {
		turns = turns[len(turns)-maxPromptTurns:]
	}
	if len(turns) > 0 {
		b.WriteString("\nLO QUE DIJO EL PACIENTE:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}

	if s := strings.TrimSpace(p.CatalogSummary); s != "" {
		fmt.Fprintf(&b, "\nPRODUCTOS DISPONIBLES (recomienda solo de esta lista):\n%s\n", s)
	}

	b.WriteString("\nResponde SOLO con JSON con esta forma:\n")
	b.WriteString(replyShape)
	return b.String()
}
