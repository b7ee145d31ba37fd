package chat

import (
	"context"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

// ConversationService интерфейс ядра, видимый слою UI
type ConversationService interface {
	SendMessage(ctx context.Context, text string) (<-chan StreamEvent, error)
	CancelStream()

	NewConversation(ctx context.Context) (models.Conversation, error)
	SelectConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
	ChangeContextStrategy(ctx context.Context, strategy models.ContextStrategy) error

	CurrentConversation(ctx context.Context) (models.Conversation, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	Conversations(ctx context.Context) []models.Conversation
	State() TurnState
	IsStreaming() bool
	LastError() error
}

// Verify interface implementation
var _ ConversationService = (*Controller)(nil)
