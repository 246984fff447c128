package session

import "strings"

// ActivationNudge is injected as a user text turn right after a session
// opens, prompting the model to greet instead of waiting silently for the
// first customer utterance.
const ActivationNudge = "system online"

// DefaultPersona is the fallback system instruction when the config does
// not supply one.
const DefaultPersona = "You are the friendly voice greeter of a small " +
	"neighbourhood store. Welcome customers, answer questions about " +
	"products and where to find them, and keep replies short and warm. " +
	"Answer in the language the customer speaks."

// BuildInstructions assembles the session system instructions from the
// persona text and the current product catalog.
func BuildInstructions(persona string, catalogLines []string) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	if len(catalogLines) == 0 {
		return persona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nThe store currently stocks:\n")
	for _, line := range catalogLines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nIf a customer asks about a product that is not on the " +
		"list, say so politely and suggest something similar from the list.")
	return b.String()
}
