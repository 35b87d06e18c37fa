package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/personabench/personabench/store"
	"github.com/personabench/personabench/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func init() {
	logger.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// routedLLM answers according to which prompt it receives, so a single
// instance can play driver, classifier and validator concurrently.
type routedLLM struct{}

func (r *routedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	system := ""
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			system = text.Text
		}
	}

	var content string
	switch {
	case strings.Contains(system, "hallucination detector"):
		content = `{"isHallucination": false, "reason": "grounded"}`
	case strings.Contains(system, "strict evaluator"):
		content = `{"isCorrect": true, "explanation": "outcome reached"}`
	case strings.Contains(system, "quality evaluator"):
		content = `{"isCorrect": true, "explanation": "fine", "metrics": [{"id": "goal_completion", "score": 0.8, "reason": "done"}]}`
	default:
		content = "Hello, I need some help.\nCOMPLETE: true"
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (r *routedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := r.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func matrixConfig(endpoint string) *model.TestConfiguration {
	return &model.TestConfiguration{
		Agent: model.AgentUnderTest{
			EndpointURL: endpoint,
			FieldRules: []model.Rule{
				{Path: "text", Condition: model.ConditionChat},
			},
		},
		Scenarios: []model.Scenario{
			{ID: "refund", Description: "refund request", ExpectedOutcome: "refund initiated", Enabled: true},
			{ID: "upgrade", Description: "plan upgrade", ExpectedOutcome: "upgrade done", Enabled: true},
			{ID: "disabled", Description: "never runs", ExpectedOutcome: "n/a", Enabled: false},
		},
		Personas: []model.Persona{
			{ID: "impatient", Name: "Impatient Ivan", Description: "wants it now"},
			{ID: "confused", Name: "Confused Carol", Description: "needs guidance"},
		},
		Settings: model.Settings{Concurrency: 2, MaxTurns: 3},
	}
}

func TestExecuteRun_FullMatrix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"happy to help"}`))
	}))
	defer server.Close()

	cfg := matrixConfig(server.URL)
	providers := map[string]llms.Model{"main": &routedLLM{}}
	st := store.NewMemoryStore()

	run, err := ExecuteRun(context.Background(), cfg, providers, st, map[string]string{"RUN_ID": "run-test"})
	require.NoError(t, err)

	assert.Equal(t, "run-test", run.ID)
	assert.Equal(t, model.RunCompleted, run.Status)
	// Disabled scenario excluded: 2 enabled scenarios × 2 personas
	assert.Equal(t, 4, run.Metrics.Total)
	assert.Equal(t, 4, run.Metrics.Passed)
	assert.Equal(t, 0, run.Metrics.Failed)
	assert.Len(t, run.Conversations, 4)
	for _, conv := range run.Conversations {
		assert.Equal(t, model.ConversationPassed, conv.Status)
		require.NotNil(t, conv.Validation)
		assert.True(t, conv.Validation.IsCorrect)
	}
}

func TestExecuteRun_BrokenTargetIsolatesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := matrixConfig(server.URL)
	providers := map[string]llms.Model{"main": &routedLLM{}}
	st := store.NewMemoryStore()

	run, err := ExecuteRun(context.Background(), cfg, providers, st, map[string]string{})
	require.NoError(t, err)

	// Every pair fails individually yet the run still completes
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 4, run.Metrics.Total)
	assert.Equal(t, 0, run.Metrics.Passed)
	assert.Equal(t, 4, run.Metrics.Failed)
	for _, conv := range run.Conversations {
		assert.Equal(t, model.ConversationFailed, conv.Status)
		assert.Contains(t, conv.Error, "503")
		assert.Nil(t, conv.Validation)
	}
}

func TestExecuteRun_FieldRuleMismatchFailsPairs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"happy to help","status":"error"}`))
	}))
	defer server.Close()

	cfg := matrixConfig(server.URL)
	cfg.Agent.FieldRules = append(cfg.Agent.FieldRules,
		model.Rule{Path: "status", Condition: model.ConditionEquals, Value: "ok"})
	providers := map[string]llms.Model{"main": &routedLLM{}}
	st := store.NewMemoryStore()

	run, err := ExecuteRun(context.Background(), cfg, providers, st, map[string]string{})
	require.NoError(t, err)

	// The judged content passes but the status assertion fails every pair
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 4, run.Metrics.Total)
	assert.Equal(t, 0, run.Metrics.Passed)
	assert.Equal(t, 4, run.Metrics.Failed)
	for _, conv := range run.Conversations {
		assert.Equal(t, model.ConversationFailed, conv.Status)
		assert.Contains(t, conv.Error, "field rules")
	}
}

func TestExecuteRun_NoEnabledScenarios(t *testing.T) {
	cfg := matrixConfig("http://unused")
	for i := range cfg.Scenarios {
		cfg.Scenarios[i].Enabled = false
	}

	_, err := ExecuteRun(context.Background(), cfg, map[string]llms.Model{"main": &routedLLM{}}, store.NewMemoryStore(), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled scenarios")
}

func TestResolveProvider(t *testing.T) {
	single := map[string]llms.Model{"only": &routedLLM{}}
	multi := map[string]llms.Model{"a": &routedLLM{}, "b": &routedLLM{}}

	p, err := resolveProvider(single, "")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = resolveProvider(multi, "")
	assert.Error(t, err)

	p, err = resolveProvider(multi, "b")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = resolveProvider(multi, "missing")
	assert.Error(t, err)
}

func TestParseTimeoutAndDelay(t *testing.T) {
	assert.Equal(t, target.DefaultTimeout, ParseTimeout(""))
	assert.Equal(t, target.DefaultTimeout, ParseTimeout("garbage"))
	assert.Equal(t, 5*time.Second, ParseTimeout("5s"))

	assert.Equal(t, DefaultPairDelay, ParseDelay(""))
	assert.Equal(t, DefaultPairDelay, ParseDelay("-3s"))
	assert.Equal(t, 250*time.Millisecond, ParseDelay("250ms"))
}

func TestCreateStaticTemplateContext(t *testing.T) {
	t.Setenv("PB_TEST_TOKEN", "secret-token")

	ctx := CreateStaticTemplateContext("testdata/config.yaml", map[string]string{
		"AUTH": "Bearer {{PB_TEST_TOKEN}}",
	})

	assert.NotEmpty(t, ctx["RUN_ID"])
	assert.NotEmpty(t, ctx["TEMP_DIR"])
	assert.NotEmpty(t, ctx["TEST_DIR"])
	assert.Equal(t, "secret-token", ctx["PB_TEST_TOKEN"])
	assert.Equal(t, "Bearer secret-token", ctx["AUTH"])
}

func TestExitCode(t *testing.T) {
	run := &model.TestRun{Metrics: model.RunMetrics{Total: 4, Passed: 3, Failed: 1}}

	// Without criteria any failure is a failing exit
	assert.Equal(t, 1, exitCode(run, model.Criteria{}))
	clean := &model.TestRun{Metrics: model.RunMetrics{Total: 2, Passed: 2}}
	assert.Equal(t, 0, exitCode(clean, model.Criteria{}))

	// With criteria the pass rate decides
	assert.Equal(t, 0, exitCode(run, model.Criteria{SuccessRate: "0.75"}))
	assert.Equal(t, 1, exitCode(run, model.Criteria{SuccessRate: "0.9"}))
	assert.Equal(t, 1, exitCode(run, model.Criteria{SuccessRate: "not-a-number"}))
}
