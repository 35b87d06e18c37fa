package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/personabench/personabench/model"
)

// MemoryStore keeps all run state in memory. It is the default backend:
// a run's lifetime matches the process, and reports are written from the
// final state at the end.
type MemoryStore struct {
	mu            sync.RWMutex
	runs          map[string]*model.TestRun
	conversations map[string]*model.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:          make(map[string]*model.TestRun),
		conversations: make(map[string]*model.Conversation),
	}
}

func (s *MemoryStore) CreateRun(run *model.TestRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run has empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) CreateConversation(runID, scenarioID, personaID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return "", fmt.Errorf("run not found: %s", runID)
	}

	conv := &model.Conversation{
		ID:         uuid.New().String(),
		RunID:      runID,
		ScenarioID: scenarioID,
		PersonaID:  personaID,
		Status:     model.ConversationRunning,
		Messages:   make([]model.Message, 0),
		StartTime:  time.Now(),
	}
	s.conversations[conv.ID] = conv
	run.Conversations = append(run.Conversations, conv)
	return conv.ID, nil
}

func (s *MemoryStore) SaveMessage(msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation not found: %s", msg.ConversationID)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryStore) UpdateConversationStatus(conversationID string, status model.ConversationStatus, errMsg string, validation *model.ConversationValidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	conv.Status = status
	conv.Error = errMsg
	conv.Validation = validation
	conv.EndTime = time.Now()
	return nil
}

func (s *MemoryStore) UpdateRun(run *model.TestRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(runID string) (*model.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (s *MemoryStore) GetConversation(conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", conversationID)
	}
	return conv, nil
}
