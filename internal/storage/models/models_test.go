package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Привет", "Привет"},
		{"exactly twenty runes", strings.Repeat("я", 20), strings.Repeat("я", 20)},
		{"truncated", strings.Repeat("я", 21), strings.Repeat("я", 20) + "..."},
		{"trims whitespace", "  Привет  ", "Привет"},
		{"cyrillic counted as runes", "Расскажи про планировщик горутин", "Расскажи про планиро..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content))
		})
	}
}

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("вопрос")

	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.IsUser)
	assert.True(t, msg.Final)
	assert.True(t, msg.IsContextual)
	assert.Equal(t, ImportanceUnscored, msg.Importance)
	assert.Equal(t, "user", msg.Role())
}

func TestNewAssistantMessage(t *testing.T) {
	msg := NewAssistantMessage()

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsUser)
	assert.False(t, msg.Final)
	assert.Empty(t, msg.Content)
	assert.Equal(t, "assistant", msg.Role())
}

func TestLastSummary(t *testing.T) {
	conv := NewConversation("Тест")
	assert.Nil(t, conv.LastSummary())

	conv.Summaries = append(conv.Summaries, NewSummary("первое", 0, 19))
	conv.Summaries = append(conv.Summaries, NewSummary("второе", 20, 29))

	last := conv.LastSummary()
	require.NotNil(t, last)
	assert.Equal(t, "второе", last.Text)
}

func TestCloneIsolation(t *testing.T) {
	conv := NewConversation("Оригинал")
	msg := NewUserMessage("текст")
	msg.Keywords = []string{"go"}
	conv.Messages = append(conv.Messages, msg)
	conv.Summaries = append(conv.Summaries, NewSummary("резюме", 0, 0))
	conv.Topics = []string{"тема"}

	clone := conv.Clone()
	clone.Title = "Копия"
	clone.Messages[0].Content = "изменено"
	clone.Messages[0].Keywords[0] = "изменено"
	clone.Summaries[0].Text = "изменено"
	clone.Topics[0] = "изменено"

	assert.Equal(t, "Оригинал", conv.Title)
	assert.Equal(t, "текст", conv.Messages[0].Content)
	assert.Equal(t, "go", conv.Messages[0].Keywords[0])
	assert.Equal(t, "резюме", conv.Summaries[0].Text)
	assert.Equal(t, "тема", conv.Topics[0])
}

func TestNewConversationDefaults(t *testing.T) {
	conv := NewConversation("Новый диалог")

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, StrategyRecentMessages, conv.Strategy)
	assert.Empty(t, conv.Messages)
	assert.Nil(t, conv.Summaries)
}
