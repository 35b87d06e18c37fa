package report

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRun() *model.TestRun {
	hallucinated := true
	return &model.TestRun{
		ID:     "run-42",
		Status: model.RunCompleted,
		Metrics: model.RunMetrics{
			Total:  2,
			Passed: 1,
			Failed: 1,
		},
		StartTime: time.Now().Add(-time.Minute),
		EndTime:   time.Now(),
		Conversations: []*model.Conversation{
			{
				ID:         "conv-1",
				RunID:      "run-42",
				ScenarioID: "refund",
				PersonaID:  "impatient",
				Status:     model.ConversationPassed,
				Messages: []model.Message{
					{Role: model.RoleUser, Content: "I want a refund"},
					{Role: model.RoleAssistant, Content: "Refund started"},
				},
				Validation: &model.ConversationValidation{
					IsCorrect:   true,
					Explanation: "outcome: refund initiated\nmetrics: polite throughout",
					Metrics: []model.MetricScore{
						{ID: "goal_completion", Score: 0.95, Reason: "refund confirmed"},
					},
				},
			},
			{
				ID:         "conv-2",
				RunID:      "run-42",
				ScenarioID: "upgrade",
				PersonaID:  "confused",
				Status:     model.ConversationFailed,
				Error:      "turn 2 failed: target request timed out",
				Messages: []model.Message{
					{Role: model.RoleUser, Content: "Can I upgrade?"},
					{
						Role:    model.RoleAssistant,
						Content: "You already have our premium-plus-ultra plan",
						Metrics: model.MessageMetrics{IsHallucination: &hallucinated},
					},
				},
			},
		},
	}
}

func TestGenerateJSONReport(t *testing.T) {
	g := NewGenerator()
	g.TestFile = "tests/config.yaml"

	out, err := g.GenerateJSONReport(sampleRun())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, sonic.UnmarshalString(out, &decoded))
	assert.Equal(t, "tests/config.yaml", decoded["testFile"])
	run, ok := decoded["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-42", run["id"])
	assert.Equal(t, "completed", run["status"])
}

func TestGenerateMarkdownReport(t *testing.T) {
	md := NewGenerator().GenerateMarkdownReport(sampleRun())

	assert.Contains(t, md, "# Conversation Test Results")
	assert.Contains(t, md, "| 2 | 1 | 1 | 50.0% |")
	assert.Contains(t, md, "refund × impatient: PASSED")
	assert.Contains(t, md, "upgrade × confused: FAILED")
	assert.Contains(t, md, "target request timed out")
	assert.Contains(t, md, "goal_completion | 0.95")
	assert.Contains(t, md, "hallucination")
}

func TestGenerate_WritesFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "report.md")

	require.NoError(t, Generate(sampleRun(), "md", out, "config.yaml"))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Conversation Test Results")
}

func TestGenerate_UnknownType(t *testing.T) {
	assert.Error(t, Generate(sampleRun(), "pdf", "x", ""))
	assert.Error(t, ValidateReportType("html"))
	assert.NoError(t, ValidateReportType("json"))
	assert.NoError(t, ValidateReportType("md"))
}
