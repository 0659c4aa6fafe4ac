package chat

import (
	"context"
	"errors"
	"strings"

	"VirtualDoctor/internal/completion"
	"VirtualDoctor/internal/session"
)

// SystemRole is the persona doctor chat replies are generated under.
const SystemRole = "You are an AI doctor providing helpful advice."

var ErrEmptyMessage = errors.New("empty message")

type Completer interface {
	Complete(ctx context.Context, systemRole, userPrompt string) completion.Result
}

// Conversation is the append-only history a turn is recorded in.
type Conversation interface {
	Append(role, content string) session.Message
}

type Service struct {
	client Completer
}

func NewService(client Completer) *Service {
	return &Service{client: client}
}

// Turn is the outcome of one exchange.
type Turn struct {
	User      session.Message
	Assistant session.Message
	Result    completion.Result
}

// Send records the user's message and exactly one assistant reply. When the
// completion fails the reply is completion.Fallback and Result carries the
// reason.
func (s *Service) Send(ctx context.Context, conv Conversation, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	user := conv.Append(session.RoleUser, text)
	res := s.client.Complete(ctx, SystemRole, text)
	assistant := conv.Append(session.RoleAssistant, res.TextOr(completion.Fallback))

	return Turn{
		User:      user,
		Assistant: assistant,
		Result:    res,
	}, nil
}
