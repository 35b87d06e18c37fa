// Package judge contains the model-backed judgments over agent output: the
// per-turn hallucination classifier and the end-of-conversation validator.
// Both treat model output as untrusted text and decode it through
// ParseLenient.
package judge

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
)

const classifierTimeout = 60 * time.Second

// Classifier judges a single agent turn for fabricated, off-topic, or
// over-specific content.
type Classifier struct {
	llm llms.Model
}

func NewClassifier(llm llms.Model) *Classifier {
	return &Classifier{llm: llm}
}

type hallucinationVerdict struct {
	IsHallucination bool   `json:"isHallucination"`
	Reason          string `json:"reason"`
}

// Classify returns whether the reply hallucinates, or nil when the
// classification could not be performed. Callers must treat nil as "not
// evaluated", never as false.
func (c *Classifier) Classify(
	ctx context.Context,
	history []model.Message,
	userMessage, reply, agentDescription string,
) *bool {
	if c == nil || c.llm == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, classifierTimeout)
	defer cancel()

	msgs := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: hallucinationSystemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: buildHallucinationPrompt(history, userMessage, reply, agentDescription)}},
		},
	}

	resp, err := c.llm.GenerateContent(callCtx, msgs)
	if err != nil {
		logger.Logger.Warn("Hallucination classification failed", "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		logger.Logger.Warn("Hallucination classifier returned no choices")
		return nil
	}

	var verdict hallucinationVerdict
	if err := ParseLenient(resp.Choices[0].Content, &verdict); err != nil {
		logger.Logger.Warn("Hallucination verdict unparseable",
			"error", err,
			"output_preview", preview(resp.Choices[0].Content, 200))
		return nil
	}

	logger.Logger.Debug("Hallucination verdict",
		"is_hallucination", verdict.IsHallucination,
		"reason", verdict.Reason)

	result := verdict.IsHallucination
	return &result
}

func preview(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
