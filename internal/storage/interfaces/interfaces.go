package interfaces

import (
	"context"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

// ConversationStore единственная точка сериализации записей в диалоги.
// Читатели получают консистентные снапшоты (глубокие копии), писатели
// сериализуются; более финализированное состояние никогда не
// перезаписывается менее финализированным.
type ConversationStore interface {
	// Basic conversation operations
	List(ctx context.Context) []models.Conversation
	Get(ctx context.Context, id string) (models.Conversation, error)
	Create(ctx context.Context, conv models.Conversation) error
	Delete(ctx context.Context, id string) error

	// Message operations (turn path)
	AppendMessage(ctx context.Context, convID string, msg models.Message) error
	UpdateMessageContent(ctx context.Context, convID, msgID, content string) error
	FinalizeMessage(ctx context.Context, convID, msgID, content string) error
	RemoveMessage(ctx context.Context, convID, msgID string) error
	SetTitle(ctx context.Context, convID, title string) error
	SetStrategy(ctx context.Context, convID string, strategy models.ContextStrategy) error

	// Enrichment operations (background path)
	SetImportance(ctx context.Context, convID, msgID string, score int) error
	SetMessageKeywords(ctx context.Context, convID, msgID string, keywords []string) error
	AddSummary(ctx context.Context, convID string, summary models.Summary) error
	SetTopics(ctx context.Context, convID string, topics []string) error

	// Flush persists the current state through the Persister
	Flush(ctx context.Context) error
}

// Persister коллаборатор персистентности: загружает и сохраняет
// весь список диалогов целиком.
type Persister interface {
	Load(ctx context.Context) ([]models.Conversation, error)
	Save(ctx context.Context, conversations []models.Conversation) error
}
