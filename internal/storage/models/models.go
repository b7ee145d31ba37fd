package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContextStrategy определяет, как выбирается контекст для LLM
type ContextStrategy string

const (
	StrategyRecentMessages    ContextStrategy = "recent"
	StrategyImportantMessages ContextStrategy = "important"
	StrategySummarizedContext ContextStrategy = "summarized"
)

// Границы оценки важности сообщений
const (
	ImportanceUnscored = 0
	ImportanceMin      = 1
	ImportanceMax      = 10
)

// TitleMaxLength максимальная длина заголовка диалога (в рунах)
const TitleMaxLength = 20

type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	IsUser       bool      `json:"is_user"`
	Timestamp    time.Time `json:"timestamp"`
	Importance   int       `json:"importance"`    // 0 = не оценено, 1..10
	IsContextual bool      `json:"is_contextual"` // можно ли включать в контекст
	Keywords     []string  `json:"keywords,omitempty"`
	Final        bool      `json:"final"` // заморожено после завершения стрима
}

type Summary struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	StartIndex int       `json:"start_index"` // закрытый диапазон [start, end]
	EndIndex   int       `json:"end_index"`
}

type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []Message       `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	Summaries []Summary       `json:"summaries,omitempty"`
	Topics    []string        `json:"topics,omitempty"`
	Strategy  ContextStrategy `json:"strategy"`
}

// NewUserMessage создает финализированное сообщение пользователя
func NewUserMessage(content string) Message {
	return Message{
		ID:           uuid.New().String(),
		Content:      content,
		IsUser:       true,
		Timestamp:    time.Now(),
		IsContextual: true,
		Final:        true,
	}
}

// NewAssistantMessage создает пустое сообщение ассистента для стриминга.
// Содержимое мутабельно до вызова FinalizeMessage в хранилище.
func NewAssistantMessage() Message {
	return Message{
		ID:           uuid.New().String(),
		IsUser:       false,
		Timestamp:    time.Now(),
		IsContextual: true,
	}
}

// NewConversation создает пустой диалог
func NewConversation(title string) Conversation {
	return Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: time.Now(),
		Strategy:  StrategyRecentMessages,
	}
}

// NewSummary создает резюме для закрытого диапазона индексов [start, end]
func NewSummary(text string, start, end int) Summary {
	return Summary{
		ID:         uuid.New().String(),
		Text:       text,
		CreatedAt:  time.Now(),
		StartIndex: start,
		EndIndex:   end,
	}
}

// DeriveTitle строит заголовок диалога из первого сообщения пользователя:
// первые 20 рун плюс многоточие, если текст длиннее.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= TitleMaxLength {
		return content
	}
	return string(runes[:TitleMaxLength]) + "..."
}

// Role возвращает роль сообщения для wire-протокола
func (m Message) Role() string {
	if m.IsUser {
		return "user"
	}
	return "assistant"
}

// LastSummary возвращает последнее резюме диалога (nil, если резюме нет)
func (c Conversation) LastSummary() *Summary {
	if len(c.Summaries) == 0 {
		return nil
	}
	return &c.Summaries[len(c.Summaries)-1]
}

// Clone возвращает глубокую копию диалога.
// Хранилище отдает наружу только копии, чтобы снапшоты читателей
// не гонялись с сериализованными записями.
func (c Conversation) Clone() Conversation {
	clone := c
	clone.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.clone()
	}
	if c.Summaries != nil {
		clone.Summaries = make([]Summary, len(c.Summaries))
		copy(clone.Summaries, c.Summaries)
	}
	if c.Topics != nil {
		clone.Topics = append([]string(nil), c.Topics...)
	}
	return clone
}

func (m Message) clone() Message {
	clone := m
	if m.Keywords != nil {
		clone.Keywords = append([]string(nil), m.Keywords...)
	}
	return clone
}
