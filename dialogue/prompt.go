package dialogue

import (
	"fmt"
	"strings"

	"github.com/personabench/personabench/model"
)

const openingSystemPrompt = `You are role-playing a human user talking to a customer-facing AI agent. Stay fully in character.

Write the FIRST message this user would send to start the conversation described below. Output only the message text itself: no quotes, no stage directions, no explanations.`

const nextSystemPrompt = `You are role-playing a human user talking to a customer-facing AI agent. Stay fully in character.

Given the conversation so far, write the NEXT message this user would send. Then, on a new final line, state whether the user's goal has been reached using exactly this format:
COMPLETE: true
or
COMPLETE: false

Output only the message text followed by the COMPLETE line. No quotes, no stage directions, no explanations.`

func buildPersonaBlock(persona model.Persona, scenario model.Scenario, userDescription string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "User persona: %s\n", persona.Name)
	if persona.Description != "" {
		fmt.Fprintf(&b, "Persona description: %s\n", persona.Description)
	}
	if len(persona.Traits) > 0 {
		fmt.Fprintf(&b, "Persona traits: %s\n", strings.Join(persona.Traits, ", "))
	}
	if userDescription != "" {
		fmt.Fprintf(&b, "User background: %s\n", userDescription)
	}
	fmt.Fprintf(&b, "\nScenario: %s\n", scenario.Description)
	fmt.Fprintf(&b, "Goal the user wants to reach: %s\n", scenario.ExpectedOutcome)

	return b.String()
}

func buildOpeningPrompt(persona model.Persona, scenario model.Scenario, userDescription string) string {
	return buildPersonaBlock(persona, scenario, userDescription)
}

func buildNextPrompt(persona model.Persona, scenario model.Scenario, userDescription string, history []model.Message) string {
	var b strings.Builder

	b.WriteString(buildPersonaBlock(persona, scenario, userDescription))
	b.WriteString("\nConversation so far (user is you):\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	return b.String()
}
