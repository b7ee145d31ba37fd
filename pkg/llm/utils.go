package llm

import (
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

// ConvertToLLMMessages converts storage models to wire messages
func ConvertToLLMMessages(storageMessages []models.Message) []Message {
	llmMessages := make([]Message, len(storageMessages))

	for i, msg := range storageMessages {
		llmMessages[i] = Message{
			Role:    msg.Role(),
			Content: msg.Content,
		}
	}

	return llmMessages
}

// SystemMessage строит системное сообщение для wire-протокола
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}
