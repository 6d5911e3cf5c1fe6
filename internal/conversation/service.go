package conversation

import (
	"context"
	"fmt"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/provider"
	"go.uber.org/zap"
)

// defaultHistorySize bounds how much history a single turn replays and
// returns; callers paginate past it via ListMessages.
const defaultHistorySize = 100

// URLResolver issues presigned access URLs for uploaded files.
type URLResolver interface {
	PresignedURL(ctx context.Context, fileID, filename string) (string, error)
}

// LLM is the completion gateway the service speaks to.
type LLM interface {
	Invoke(ctx context.Context, req provider.InvokeRequest) *provider.CallResult
}

// Service orchestrates one conversation turn: append the user message,
// assemble the prompt from agent config and history, call the LLM, record
// token usage, append the reply and hand back the updated history.
type Service struct {
	log    *Log
	agents *agent.Repository
	files  URLResolver
	llm    LLM
	logger *zap.Logger
}

// NewService wires the send-message orchestration.
func NewService(log *Log, agents *agent.Repository, files URLResolver, llm LLM, logger *zap.Logger) *Service {
	return &Service{log: log, agents: agents, files: files, llm: llm, logger: logger}
}

// Log exposes the underlying conversation log for read paths.
func (s *Service) Log() *Log { return s.log }

// StartConversation creates the conversation record and, when the agent
// resolves, returns its welcome message alongside. A dangling agent id is
// accepted; the gap only surfaces on the first SendMessage.
func (s *Service) StartConversation(ctx context.Context, agentID, title string) (*Started, error) {
	conv, err := s.log.CreateConversation(ctx, agentID, title)
	if err != nil {
		return nil, err
	}
	started := &Started{Conversation: *conv}
	if a, err := s.agents.GetAgent(ctx, agentID); err == nil {
		started.WelcomeMessage = a.WelcomeMessage
	}
	return started, nil
}

// SendMessage runs a full turn and returns the conversation with its
// updated history. The user message stores its own token estimate; the
// assistant message stores estimate(prompt) + estimate(reply).
func (s *Service) SendMessage(ctx context.Context, conversationID string, msg MessageCreate) (*WithMessages, error) {
	conv, err := s.log.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	a, err := s.agents.GetAgent(ctx, conv.AgentID)
	if err != nil {
		return nil, err
	}

	// Resolve attachment references into presigned URLs; the URLs freeze
	// into the stored message.
	atts := make([]Attachment, 0, len(msg.Attachments))
	for _, ref := range msg.Attachments {
		url, err := s.files.PresignedURL(ctx, ref.ID, ref.Filename)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment %s: %w", ref.ID, err)
		}
		atts = append(atts, Attachment{ID: ref.ID, Filename: ref.Filename, URL: url})
	}

	history, err := s.log.ListMessages(ctx, conversationID, defaultHistorySize, 0)
	if err != nil {
		return nil, err
	}

	if _, err := s.log.AppendMessage(ctx, conversationID, RoleUser, msg.Content, atts, EstimateTokens(msg.Content)); err != nil {
		return nil, err
	}

	prompt := AssemblePrompt(a.SystemPrompt, history, msg.Content, atts)

	result := s.llm.Invoke(ctx, provider.InvokeRequest{
		Prompt:      prompt,
		Model:       string(a.ResponseSettings.Model),
		Temperature: float64(a.ResponseSettings.Creativity),
	})
	if err := result.Err(); err != nil {
		s.logger.Error("llm turn failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	usage := EstimateTokens(prompt) + EstimateTokens(result.Content)
	if _, err := s.log.AppendMessage(ctx, conversationID, RoleAssistant, result.Content, nil, usage); err != nil {
		return nil, err
	}

	messages, err := s.log.ListMessages(ctx, conversationID, defaultHistorySize, 0)
	if err != nil {
		return nil, err
	}
	return &WithMessages{Conversation: *conv, Messages: messages}, nil
}

// TotalTokenUsage reports the stored token sum for a conversation. An
// unknown conversation simply has no messages and sums to 0, matching the
// aggregation contract.
func (s *Service) TotalTokenUsage(ctx context.Context, conversationID string) (int, error) {
	return s.log.TotalTokenUsage(ctx, conversationID)
}
