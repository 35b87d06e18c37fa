package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
)

const validatorTimeout = 90 * time.Second

// parseFailedExplanation is the deterministic explanation used when model
// output could not be decoded even after brace extraction.
const parseFailedExplanation = "parsing failed"

// Validator judges a finished transcript against the expected outcome and
// against the configured metric set, combining both into one verdict.
type Validator struct {
	llm     llms.Model
	metrics []model.Metric
}

func NewValidator(llm llms.Model, metrics []model.Metric) *Validator {
	if len(metrics) == 0 {
		metrics = model.DefaultMetrics
	}
	return &Validator{llm: llm, metrics: metrics}
}

type outcomeJudgment struct {
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation"`
}

type metricJudgment struct {
	IsCorrect   bool                `json:"isCorrect"`
	Explanation string              `json:"explanation"`
	Metrics     []model.MetricScore `json:"metrics"`
}

// Validate performs the outcome judgment and the metric judgment and combines
// them: the final verdict is the logical AND of both isCorrect fields, and the
// explanation concatenates both, tagged by source. It never returns an error;
// unparseable model output degrades to a failed, zero-scored validation.
func (v *Validator) Validate(
	ctx context.Context,
	transcript []model.Message,
	scenario model.Scenario,
) *model.ConversationValidation {
	outcome := v.judgeOutcome(ctx, transcript, scenario)
	metrics := v.judgeMetrics(ctx, transcript, scenario)

	return &model.ConversationValidation{
		IsCorrect: outcome.IsCorrect && metrics.IsCorrect,
		Explanation: fmt.Sprintf("outcome: %s\nmetrics: %s",
			outcome.Explanation, metrics.Explanation),
		Metrics: metrics.Metrics,
	}
}

func (v *Validator) judgeOutcome(ctx context.Context, transcript []model.Message, scenario model.Scenario) outcomeJudgment {
	raw, err := v.call(ctx, outcomeSystemPrompt, buildOutcomePrompt(transcript, scenario))
	if err != nil {
		logger.Logger.Warn("Outcome judgment call failed", "scenario", scenario.ID, "error", err)
		return outcomeJudgment{IsCorrect: false, Explanation: err.Error()}
	}

	var judgment outcomeJudgment
	if err := ParseLenient(raw, &judgment); err != nil {
		logger.Logger.Warn("Outcome judgment unparseable",
			"scenario", scenario.ID,
			"error", err,
			"output_preview", preview(raw, 200))
		return outcomeJudgment{IsCorrect: false, Explanation: parseFailedExplanation}
	}
	return judgment
}

func (v *Validator) judgeMetrics(ctx context.Context, transcript []model.Message, scenario model.Scenario) metricJudgment {
	raw, err := v.call(ctx, metricSystemPrompt, buildMetricPrompt(transcript, scenario, v.metrics))
	if err != nil {
		logger.Logger.Warn("Metric judgment call failed", "scenario", scenario.ID, "error", err)
		return metricJudgment{
			IsCorrect:   false,
			Explanation: err.Error(),
			Metrics:     v.zeroScores(err.Error()),
		}
	}

	var judgment metricJudgment
	if err := ParseLenient(raw, &judgment); err != nil {
		logger.Logger.Warn("Metric judgment unparseable",
			"scenario", scenario.ID,
			"error", err,
			"output_preview", preview(raw, 200))
		return metricJudgment{
			IsCorrect:   false,
			Explanation: parseFailedExplanation,
			Metrics:     v.zeroScores(parseFailedExplanation),
		}
	}

	for i := range judgment.Metrics {
		judgment.Metrics[i].Score = NormalizeScore(judgment.Metrics[i].Score)
	}
	return judgment
}

func (v *Validator) call(ctx context.Context, system, user string) (string, error) {
	if v.llm == nil {
		return "", fmt.Errorf("validator LLM is not initialized")
	}

	callCtx, cancel := context.WithTimeout(ctx, validatorTimeout)
	defer cancel()

	msgs := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: system}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: user}},
		},
	}

	resp, err := v.llm.GenerateContent(callCtx, msgs)
	if err != nil {
		return "", fmt.Errorf("validation call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("validation call returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func (v *Validator) zeroScores(reason string) []model.MetricScore {
	scores := make([]model.MetricScore, 0, len(v.metrics))
	for _, m := range v.metrics {
		scores = append(scores, model.MetricScore{ID: m.ID, Score: 0, Reason: reason})
	}
	return scores
}

// NormalizeScore maps a reported score into [0,1]. Judges sometimes answer on
// a 0–100 scale; anything above 1 is divided by 100 by contract, then clamped.
func NormalizeScore(score float64) float64 {
	if score > 1 {
		score = score / 100
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
