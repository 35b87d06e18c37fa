package store

import (
	"github.com/personabench/personabench/model"
)

// Store persists runs, conversations and messages as they are produced.
// Implementations must be safe for concurrent use: conversations belonging
// to the same run may be executed from multiple goroutines.
type Store interface {
	// CreateRun registers a new test run.
	CreateRun(run *model.TestRun) error

	// CreateConversation creates a conversation in running state for the
	// given scenario/persona pair and returns its identifier.
	CreateConversation(runID, scenarioID, personaID string) (string, error)

	// SaveMessage appends a message to its conversation.
	SaveMessage(msg model.Message) error

	// UpdateConversationStatus moves a conversation to its terminal state,
	// attaching the error (if any) and the validation verdict (if any).
	UpdateConversationStatus(conversationID string, status model.ConversationStatus, errMsg string, validation *model.ConversationValidation) error

	// UpdateRun replaces the stored run state (status, metrics, end time).
	UpdateRun(run *model.TestRun) error

	// GetRun returns the run with its conversations and messages.
	GetRun(runID string) (*model.TestRun, error)

	// GetConversation returns a single conversation with its messages.
	GetConversation(conversationID string) (*model.Conversation, error)
}
