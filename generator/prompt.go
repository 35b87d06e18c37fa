package generator

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const systemPrompt = `You are a test design expert for conversational AI agents.

Your task is to generate a complete, valid YAML document containing a "scenarios" block and a "personas" block for testing the described agent.

OUTPUT RULES (strictly enforced):
1. Output ONLY valid YAML. No markdown, no explanations, no code fences.
2. Start your output with the line: scenarios:
3. Every scenario must have: id, description, expected_outcome, enabled: true.
4. Every persona must have: id, name, description, and a traits list.
5. IDs are lowercase alphanumeric with hyphens and must be unique.
6. Descriptions must be concrete situations a real user of this agent would be in.
7. expected_outcome must be observable from the conversation alone.
8. Persona traits must meaningfully change how the simulated user writes.`

// BuildGenerationPrompt builds the system+user message pair for the LLM.
func BuildGenerationPrompt(cfg *GeneratorConfig, attempt int, prevErrors []string) []llms.MessageContent {
	var sb strings.Builder

	sb.WriteString("AGENT UNDER TEST\n================\n")
	if cfg.Agent.AgentDescription != "" {
		sb.WriteString(cfg.Agent.AgentDescription + "\n")
	} else {
		sb.WriteString("(no description provided; generate generic customer-service scenarios)\n")
	}
	if cfg.Agent.UserDescription != "" {
		sb.WriteString("\nTypical users: " + cfg.Agent.UserDescription + "\n")
	}

	sb.WriteString("\nGENERATION CONSTRAINTS\n======================\n")
	fmt.Fprintf(&sb, "scenario_count: %d\n", cfg.Generator.ScenarioCount)
	fmt.Fprintf(&sb, "persona_count: %d\n", cfg.Generator.PersonaCount)
	fmt.Fprintf(&sb, "complexity: %s\n", cfg.Generator.Complexity)
	if cfg.Generator.IncludeEdgeCases {
		sb.WriteString("include_edge_cases: true. Include scenarios for error cases, out-of-scope requests, and users testing the agent's limits.\n")
	}

	complexityGuide := map[string]string{
		"simple":  "Single-goal scenarios resolvable in one or two turns.",
		"medium":  "Scenarios requiring a short back-and-forth with one clarification.",
		"complex": "Multi-constraint scenarios where the user changes their mind or adds conditions mid-conversation.",
	}
	if guide, ok := complexityGuide[cfg.Generator.Complexity]; ok {
		fmt.Fprintf(&sb, "complexity guide: %s\n", guide)
	}

	if attempt > 1 && len(prevErrors) > 0 {
		fmt.Fprintf(&sb, "\nPREVIOUS ATTEMPT %d FAILED WITH ERRORS\n", attempt-1)
		sb.WriteString("Fix all of the following issues in your new output:\n")
		for _, e := range prevErrors {
			fmt.Fprintf(&sb, "  - %s\n", e)
		}
	}

	sb.WriteString("\nNow generate the scenarios and personas YAML:\n")

	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: sb.String()}},
		},
	}
}

// ExtractYAMLFromResponse strips markdown code fences from an LLM response,
// returning only the raw YAML content.
func ExtractYAMLFromResponse(content string) string {
	content = strings.TrimSpace(content)

	for _, fence := range []string{"```yaml", "```yml", "```"} {
		if strings.HasPrefix(content, fence) {
			content = strings.TrimPrefix(content, fence)
			if idx := strings.LastIndex(content, "```"); idx >= 0 {
				content = content[:idx]
			}
			break
		}
	}

	return strings.TrimSpace(content)
}
