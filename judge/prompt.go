package judge

import (
	"fmt"
	"strings"

	"github.com/personabench/personabench/model"
)

const hallucinationSystemPrompt = `You are a hallucination detector for conversational AI agents.

Given the capability description of an agent, the conversation so far, and the agent's latest reply, decide whether the reply contains hallucinated content. A reply is a hallucination when it shows any of:
1. Fabricated facts: concrete claims (names, prices, dates, policies) that cannot follow from the conversation or the agent's stated capabilities.
2. Unrequested specificity: precise details the user never asked for and the agent cannot actually know.
3. Topic drift: content unrelated to the user's request.
4. Scope violation: the agent claims abilities outside its capability description.

Respond with ONLY a JSON object with exactly two fields:
{"isHallucination": true or false, "reason": "one short sentence"}`

const outcomeSystemPrompt = `You are a strict evaluator of conversations between a simulated user and an AI agent.

Judge whether the conversation reached the expected outcome. Return ONLY a JSON object of the form {"isCorrect": true or false, "explanation": "..."} with no surrounding text.`

const metricSystemPrompt = `You are a conversation quality evaluator.

Score the conversation against each listed metric. Every score must be a number between 0 and 1. Return ONLY a JSON object of the form:
{"isCorrect": true or false, "explanation": "...", "metrics": [{"id": "...", "score": 0.0, "reason": "..."}]}`

func buildHallucinationPrompt(history []model.Message, userMessage, reply, agentDescription string) string {
	var b strings.Builder

	b.WriteString("Agent capability description:\n")
	if agentDescription == "" {
		b.WriteString("(none provided)\n")
	} else {
		b.WriteString(agentDescription + "\n")
	}

	b.WriteString("\nConversation so far:\n")
	b.WriteString(renderTranscript(history))

	fmt.Fprintf(&b, "\nLatest user message:\n%s\n", userMessage)
	fmt.Fprintf(&b, "\nAgent reply to judge:\n%s\n", reply)

	return b.String()
}

func buildOutcomePrompt(transcript []model.Message, scenario model.Scenario) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scenario:\n%s\n", scenario.Description)
	fmt.Fprintf(&b, "\nExpected outcome:\n%s\n", scenario.ExpectedOutcome)
	b.WriteString("\nFull conversation transcript:\n")
	b.WriteString(renderTranscript(transcript))
	b.WriteString("\nDid the agent's side of the conversation achieve the expected outcome?")

	return b.String()
}

func buildMetricPrompt(transcript []model.Message, scenario model.Scenario, metrics []model.Metric) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scenario:\n%s\n", scenario.Description)
	fmt.Fprintf(&b, "\nExpected outcome:\n%s\n", scenario.ExpectedOutcome)

	b.WriteString("\nMetrics to score:\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "- id: %s (type: %s): %s\n", m.ID, m.Type, m.Criteria)
	}

	b.WriteString("\nFull conversation transcript:\n")
	b.WriteString(renderTranscript(transcript))

	return b.String()
}

func renderTranscript(messages []model.Message) string {
	if len(messages) == 0 {
		return "(empty)\n"
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
