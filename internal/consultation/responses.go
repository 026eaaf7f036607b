package consultation

import (
	"fmt"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/intent"
)

const (
	replyIdentity     = "Soy Kairos, tu médico de cabecera virtual en el que puedes confiar."
	replyCreator      = "Me creó un equipo que quiere acercar la salud natural a más personas."
	replyCapabilities = "Puedo escuchar tus molestias, hacerte algunas preguntas y recomendarte productos naturales de nuestra botica."
	replyOpenEnded    = "¿Puedes explicarme un poco más?"
	replyResolving    = "Perfecto, ya tengo toda la información necesaria. Dame un momento para analizar tu caso..."
)

// fixedReplies answer questions about the assistant itself.
var fixedReplies = map[string]string{
	intent.Identity:     replyIdentity,
	intent.Creator:      replyCreator,
	intent.Capabilities: replyCapabilities,
}

func greetingReply(firstName string) string {
	if firstName == "" {
		return "¡Hola! Soy Kairos."
	}
	return fmt.Sprintf("¡Hola %s! Soy Kairos.", firstName)
}

func ackReply(firstName string) string {
	if firstName == "" {
		return "Entiendo."
	}
	return fmt.Sprintf("Entiendo, %s.", firstName)
}

func captureGreeting(p Patient, returning bool) string {
	name := p.FirstName()
	if returning {
		return fmt.Sprintf("Hola de nuevo %s, qué bien verte otra vez. ¿Cómo te sientes hoy?", name)
	}
	return fmt.Sprintf("¡Hola %s! Soy Kairos, tu médico de cabecera virtual. ¿En qué puedo ayudarte hoy?", name)
}

// composeReply picks the answer to one message. changed lists the context
// fields the message filled.
func composeReply(in string, changed []intake.Field, next intake.Field, sufficient bool, q func(intake.Field) string, firstName string) string {
	if sufficient {
		return replyResolving
	}
	if r, ok := fixedReplies[in]; ok {
		return r
	}
	question := ""
	if next != intake.FieldNone {
		question = q(next)
	}
	switch {
	case in == intent.Greeting && len(changed) == 0:
		return joinReply(greetingReply(firstName), question)
	case len(changed) > 0:
		return joinReply(ackReply(firstName), question)
	default:
		return replyOpenEnded
	}
}

func joinReply(head, question string) string {
	if question == "" {
		return head
	}
	return head + " " + question
}
