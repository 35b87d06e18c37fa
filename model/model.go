package model

import (
	"fmt"
	"time"

	"github.com/life4/genesis/slices"
)

// ============================================================================
// TEST SUBJECTS
// ============================================================================

// Scenario describes one situation to play out against the agent under test
// and the outcome the conversation is expected to reach.
type Scenario struct {
	ID              string `yaml:"id" json:"id"`
	Description     string `yaml:"description" json:"description"`
	ExpectedOutcome string `yaml:"expected_outcome" json:"expectedOutcome"`
	Enabled         bool   `yaml:"enabled" json:"enabled"`
}

// Persona is a behavioral profile used to generate human-like messages.
// Personas are read-only catalog entries; the engine never mutates them.
type Persona struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Traits      []string `yaml:"traits,omitempty" json:"traits,omitempty"`
}

// ============================================================================
// AGENT UNDER TEST
// ============================================================================

// AgentUnderTest describes the external conversational agent being exercised:
// where to reach it, how to shape requests, and how to read replies.
type AgentUnderTest struct {
	EndpointURL      string            `yaml:"endpoint_url" json:"endpointUrl"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	RequestTemplate  map[string]any    `yaml:"request_template" json:"requestTemplate"`
	FieldRules       []Rule            `yaml:"field_rules,omitempty" json:"fieldRules,omitempty"`
	AgentDescription string            `yaml:"agent_description" json:"agentDescription"`
	UserDescription  string            `yaml:"user_description,omitempty" json:"userDescription,omitempty"`
}

// Rule is a declarative path+predicate over a JSON payload. The single rule
// with Condition "chat" is authoritative for reply extraction; all other
// rules act as pass/fail predicates combined with AND.
type Rule struct {
	Path        string `yaml:"path" json:"path"`
	Condition   string `yaml:"condition" json:"condition"`
	Value       string `yaml:"value,omitempty" json:"value,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Rule conditions. "chat" and "boolean" are contract predicates; the rest are
// comparison, string, and structural predicates.
const (
	ConditionChat          = "chat"
	ConditionBoolean       = "boolean"
	ConditionEquals        = "="
	ConditionEqualsAlt     = "=="
	ConditionNotEquals     = "!="
	ConditionGreater       = ">"
	ConditionLess          = "<"
	ConditionGreaterEquals = ">="
	ConditionLessEquals    = "<="
	ConditionContains      = "contains"
	ConditionNotContains   = "not_contains"
	ConditionStartsWith    = "starts_with"
	ConditionEndsWith      = "ends_with"
	ConditionMatches       = "matches"
	ConditionHasKey        = "has_key"
	ConditionArrayContains = "array_contains"
	ConditionArrayLength   = "array_length"
	ConditionNull          = "null"
	ConditionNotNull       = "not_null"
)

// ============================================================================
// CONVERSATION
// ============================================================================

type ConversationStatus string

const (
	ConversationRunning ConversationStatus = "running"
	ConversationPassed  ConversationStatus = "passed"
	ConversationFailed  ConversationStatus = "failed"
)

// Conversation is the unit of one scenario×persona test. It is created with
// status running before any model call, and transitions terminally exactly
// once to passed or failed.
type Conversation struct {
	ID         string                  `json:"id"`
	RunID      string                  `json:"runId"`
	ScenarioID string                  `json:"scenarioId"`
	PersonaID  string                  `json:"personaId"`
	Status     ConversationStatus      `json:"status"`
	Error      string                  `json:"error,omitempty"`
	Messages   []Message               `json:"messages"`
	Validation *ConversationValidation `json:"validation,omitempty"`
	StartTime  time.Time               `json:"startTime"`
	EndTime    time.Time               `json:"endTime"`
}

// MessageMetrics carries per-message measurements. IsHallucination is nil
// when detection was skipped or failed; that is distinct from false.
// RulesPassed is nil when no predicate rules are configured, otherwise the
// AND of all of them against this message's raw response payload.
type MessageMetrics struct {
	ResponseTimeMs  int64 `json:"responseTimeMs,omitempty"`
	IsHallucination *bool `json:"isHallucination,omitempty"`
	RulesPassed     *bool `json:"rulesPassed,omitempty"`
}

// Message is one append-only transcript entry.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Role           string         `json:"role"` // user | assistant
	Content        string         `json:"content"`
	Metrics        MessageMetrics `json:"metrics"`
	Timestamp      time.Time      `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ============================================================================
// VALIDATION
// ============================================================================

// Metric identifies one scoring dimension for the metric judgment.
type Metric struct {
	ID       string `yaml:"id" json:"id"`
	Type     string `yaml:"type" json:"type"`
	Criteria string `yaml:"criteria" json:"criteria"`
}

// DefaultMetrics is the fixed metric set used when the configuration does not
// override it.
var DefaultMetrics = []Metric{
	{ID: "goal_completion", Type: "binary-workflow-adherence", Criteria: "Did the agent guide the conversation toward the expected outcome?"},
	{ID: "answer_relevancy", Type: "scale", Criteria: "Were the agent's replies relevant to what the user asked in each turn?"},
	{ID: "tone", Type: "scale", Criteria: "Was the agent's tone appropriate and consistent for its stated role?"},
}

// MetricScore is one scored metric from the metric judgment. Score is always
// normalized into [0,1] before it is stored.
type MetricScore struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ConversationValidation is the final judgment over a finished transcript.
type ConversationValidation struct {
	IsCorrect   bool          `json:"isCorrect"`
	Explanation string        `json:"explanation"`
	Metrics     []MetricScore `json:"metrics"`
}

// ============================================================================
// TEST RUN
// ============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// RunMetrics aggregates conversation verdicts. Total is fixed when the run is
// created and never recomputed; Passed+Failed never exceeds Total.
type RunMetrics struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// TestRun is the aggregate execution of all scenario×persona pairs for one
// agent configuration.
type TestRun struct {
	ID            string          `json:"id"`
	Status        RunStatus       `json:"status"`
	Metrics       RunMetrics      `json:"metrics"`
	Conversations []*Conversation `json:"conversations"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
}

// PassRate returns the fraction of conversations that passed, in [0,1].
func (r *TestRun) PassRate() float64 {
	if r.Metrics.Total == 0 {
		return 0
	}
	return float64(r.Metrics.Passed) / float64(r.Metrics.Total)
}

// ============================================================================
// PROVIDER CONFIGURATION
// ============================================================================

type ProviderType string

const (
	ProviderGroq            ProviderType = "GROQ"
	ProviderGoogle          ProviderType = "GOOGLE"
	ProviderVertex          ProviderType = "VERTEX"
	ProviderAnthropic       ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic ProviderType = "AMAZON-ANTHROPIC"
	ProviderOpenAI          ProviderType = "OPENAI"
	ProviderAzure           ProviderType = "AZURE"
)

// RateLimitConfig throttles requests before they are sent.
type RateLimitConfig struct {
	TPM int `yaml:"tpm"` // tokens per minute
	RPM int `yaml:"rpm"` // requests per minute
}

// RetryConfig controls reactive handling of 429 responses from the model
// provider. When disabled a 429 fails the call immediately.
type RetryConfig struct {
	RetryOn429 bool `yaml:"retry_on_429"`
	MaxRetries int  `yaml:"max_retries"`
}

type Provider struct {
	Name            string          `yaml:"name"`
	Type            ProviderType    `yaml:"type"`
	Token           string          `yaml:"token"`
	Secret          string          `yaml:"secret"`
	Model           string          `yaml:"model"`
	BaseURL         string          `yaml:"baseUrl"`
	Version         string          `yaml:"version"`
	ProjectID       string          `yaml:"project_id"`
	Location        string          `yaml:"location"`
	CredentialsPath string          `yaml:"credentials_path"`
	AuthType        string          `yaml:"auth_type"` // AZURE: "api_key" (default) or "entra_id"
	RateLimits      RateLimitConfig `yaml:"rate_limits"`
	Retry           RetryConfig     `yaml:"retry"`
}

// ============================================================================
// SETTINGS
// ============================================================================

type Settings struct {
	Verbose        bool   `yaml:"verbose"`
	MaxTurns       int    `yaml:"max_turns"`
	Concurrency    int    `yaml:"concurrency"`
	TargetTimeout  string `yaml:"target_timeout"`
	PairDelay      string `yaml:"pair_delay"`
	DriverProvider string `yaml:"driver_provider"`
	JudgeProvider  string `yaml:"judge_provider"` // "$self" reuses the driver provider
}

type Criteria struct {
	SuccessRate string `yaml:"success_rate" json:"successRate"`
}

// ============================================================================
// TEST CONFIGURATION
// ============================================================================

// TestConfiguration is the top-level YAML document describing one run: the
// model providers, the agent under test, and the scenario×persona matrix.
type TestConfiguration struct {
	Providers  []Provider        `yaml:"providers"`
	Agent      AgentUnderTest    `yaml:"agent"`
	Scenarios  []Scenario        `yaml:"scenarios"`
	Personas   []Persona         `yaml:"personas,omitempty"`
	PersonaDir string            `yaml:"persona_dir,omitempty"`
	Metrics    []Metric          `yaml:"metrics,omitempty"`
	Settings   Settings          `yaml:"settings"`
	Variables  map[string]string `yaml:"variables,omitempty"`
	Criteria   Criteria          `yaml:"criteria"`
}

// EnabledScenarios returns the scenarios that participate in the run.
func (c *TestConfiguration) EnabledScenarios() []Scenario {
	return slices.Filter(c.Scenarios, func(s Scenario) bool { return s.Enabled })
}

// MetricSet returns the configured metrics, falling back to DefaultMetrics.
func (c *TestConfiguration) MetricSet() []Metric {
	if len(c.Metrics) > 0 {
		return c.Metrics
	}
	return DefaultMetrics
}

// ChatRule returns the rule authoritative for reply extraction, if any.
func ChatRule(rules []Rule) (Rule, bool) {
	r, err := slices.Find(rules, func(r Rule) bool { return r.Condition == ConditionChat })
	if err != nil {
		return Rule{}, false
	}
	return r, true
}

// PredicateRules returns the rules that act as response assertions, which is
// every rule except the chat extraction rule.
func PredicateRules(rules []Rule) []Rule {
	return slices.Filter(rules, func(r Rule) bool { return r.Condition != ConditionChat })
}

func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario has empty id")
	}
	if s.Description == "" {
		return fmt.Errorf("scenario %q has empty description", s.ID)
	}
	if s.ExpectedOutcome == "" {
		return fmt.Errorf("scenario %q has empty expected_outcome", s.ID)
	}
	return nil
}
