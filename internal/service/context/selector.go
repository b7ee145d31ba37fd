package context

import (
	"sort"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

// Пределы выбора контекста
const (
	RecentLimit    = 20 // последние сообщения для recent и fallback
	ImportantLimit = 20 // топ по важности
	SummarizedTail = 10 // хвост последних сообщений при summarized
)

// SummaryLabel префикс синтетического сообщения с резюме
const SummaryLabel = "Резюме предыдущего разговора: "

// Select чистая функция выбора контекста: отображает диалог и стратегию
// в ограниченный список сообщений для отправки в LLM. Диалог не
// мутируется и обогащение не запускается — только чтение.
func Select(conv models.Conversation, strategy models.ContextStrategy) []models.Message {
	switch strategy {
	case models.StrategyImportantMessages:
		return selectImportant(conv)
	case models.StrategySummarizedContext:
		return selectSummarized(conv)
	default:
		return selectRecent(conv, RecentLimit)
	}
}

// selectRecent последние limit сообщений в порядке вставки
func selectRecent(conv models.Conversation, limit int) []models.Message {
	messages := conv.Messages
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]models.Message(nil), messages...)
}

// selectImportant контекстные сообщения, отсортированные по убыванию
// важности. Сортировка стабильная: при равной важности сохраняется
// исходный порядок.
func selectImportant(conv models.Conversation) []models.Message {
	var contextual []models.Message
	for _, msg := range conv.Messages {
		if msg.IsContextual {
			contextual = append(contextual, msg)
		}
	}

	sort.SliceStable(contextual, func(i, j int) bool {
		return contextual[i].Importance > contextual[j].Importance
	})

	if len(contextual) > ImportantLimit {
		contextual = contextual[:ImportantLimit]
	}
	return contextual
}

// selectSummarized синтетическое сообщение с последним резюме плюс
// хвост последних сообщений. Без резюме — откат к recent.
func selectSummarized(conv models.Conversation) []models.Message {
	last := conv.LastSummary()
	if last == nil {
		return selectRecent(conv, RecentLimit)
	}

	summaryMessage := models.Message{
		ID:        last.ID,
		Content:   SummaryLabel + last.Text,
		IsUser:    false,
		Timestamp: last.CreatedAt,
		Final:     true,
	}

	tail := selectRecent(conv, SummarizedTail)
	result := make([]models.Message, 0, len(tail)+1)
	result = append(result, summaryMessage)
	result = append(result, tail...)
	return result
}
