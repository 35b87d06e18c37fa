package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/personabench/personabench/judge"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/personabench/personabench/store"
	"github.com/personabench/personabench/target"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultMaxTurns = 5
	driverTimeout   = 60 * time.Second
)

// Engine drives one scenario×persona conversation to completion. The
// driving model plays the human user, the Turn Executor handles each
// exchange with the target, and the Validator judges the finished
// transcript. All state transitions are written through the store.
type Engine struct {
	driver          llms.Model
	executor        *target.Executor
	validator       *judge.Validator
	store           store.Store
	maxTurns        int
	userDescription string
}

func NewEngine(driver llms.Model, executor *target.Executor, validator *judge.Validator, st store.Store, maxTurns int, userDescription string) *Engine {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Engine{
		driver:          driver,
		executor:        executor,
		validator:       validator,
		store:           st,
		maxTurns:        maxTurns,
		userDescription: userDescription,
	}
}

// Run executes the dialogue loop for an already-created conversation and
// returns its terminal status. A turn fault or driver fault ends the loop
// early and marks the conversation failed without validation; only store
// failures are returned as errors.
func (e *Engine) Run(ctx context.Context, conversationID string, scenario model.Scenario, persona model.Persona) (model.ConversationStatus, error) {
	logger.Logger.Info("Starting conversation",
		"conversation", conversationID,
		"scenario", scenario.ID,
		"persona", persona.ID,
		"max_turns", e.maxTurns)

	userMessage, err := e.openingMessage(ctx, scenario, persona)
	if err != nil {
		return e.fail(conversationID, fmt.Errorf("failed to generate opening message: %w", err))
	}

	history := make([]model.Message, 0, e.maxTurns*2)
	for turn := 1; turn <= e.maxTurns; turn++ {
		logger.Logger.Debug("Executing turn",
			"conversation", conversationID,
			"turn", turn,
			"message", userMessage)

		assistantMsg, err := e.executor.ExecuteTurn(ctx, conversationID, history, userMessage)
		if err != nil {
			return e.fail(conversationID, fmt.Errorf("turn %d failed: %w", turn, err))
		}

		history = append(history,
			model.Message{ConversationID: conversationID, Role: model.RoleUser, Content: userMessage},
			assistantMsg,
		)

		if turn == e.maxTurns {
			logger.Logger.Debug("Turn limit reached", "conversation", conversationID)
			break
		}

		next, complete, err := e.nextMessage(ctx, scenario, persona, history)
		if err != nil {
			return e.fail(conversationID, fmt.Errorf("failed to generate next message: %w", err))
		}
		if complete || next == "" {
			logger.Logger.Debug("Dialogue complete",
				"conversation", conversationID,
				"turns", turn,
				"signaled", complete)
			break
		}
		userMessage = next
	}

	validation := e.validator.Validate(ctx, history, scenario)

	errMsg := ""
	if turn := firstRuleFailure(history); turn > 0 {
		errMsg = fmt.Sprintf("response failed field rules on turn %d", turn)
		logger.Logger.Warn("Field rules failed",
			"conversation", conversationID,
			"turn", turn)
	}

	status := model.ConversationFailed
	if validation.IsCorrect && errMsg == "" {
		status = model.ConversationPassed
	}
	if err := e.store.UpdateConversationStatus(conversationID, status, errMsg, validation); err != nil {
		return model.ConversationFailed, err
	}

	logger.Logger.Info("Conversation finished",
		"conversation", conversationID,
		"status", status,
		"turns", len(history)/2)
	return status, nil
}

// firstRuleFailure returns the 1-based turn number of the first assistant
// message whose field-rule composite failed, or 0 when every turn passed.
func firstRuleFailure(history []model.Message) int {
	turn := 0
	for _, msg := range history {
		if msg.Role != model.RoleAssistant {
			continue
		}
		turn++
		if msg.Metrics.RulesPassed != nil && !*msg.Metrics.RulesPassed {
			return turn
		}
	}
	return 0
}

func (e *Engine) fail(conversationID string, cause error) (model.ConversationStatus, error) {
	logger.Logger.Warn("Conversation failed",
		"conversation", conversationID,
		"error", cause)
	if err := e.store.UpdateConversationStatus(conversationID, model.ConversationFailed, cause.Error(), nil); err != nil {
		return model.ConversationFailed, err
	}
	return model.ConversationFailed, nil
}

func (e *Engine) openingMessage(ctx context.Context, scenario model.Scenario, persona model.Persona) (string, error) {
	raw, err := e.callDriver(ctx, openingSystemPrompt, buildOpeningPrompt(persona, scenario, e.userDescription))
	if err != nil {
		return "", err
	}
	msg := Normalize(raw)
	if msg == "" {
		return "", fmt.Errorf("driving model produced an empty opening message")
	}
	return msg, nil
}

func (e *Engine) nextMessage(ctx context.Context, scenario model.Scenario, persona model.Persona, history []model.Message) (string, bool, error) {
	raw, err := e.callDriver(ctx, nextSystemPrompt, buildNextPrompt(persona, scenario, e.userDescription, history))
	if err != nil {
		return "", false, err
	}
	stripped, complete := ExtractSignal(raw)
	return Normalize(stripped), complete, nil
}

func (e *Engine) callDriver(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, driverTimeout)
	defer cancel()

	resp, err := e.driver.GenerateContent(callCtx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: system}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: user}},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("driving model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
