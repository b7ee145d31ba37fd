package memory

import (
	"fmt"
	"strings"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

const scoringPrompt = `Ты эксперт по анализу диалогов. Оцени важность сообщения для дальнейшего разговора по шкале от 1 до 10.

Правила:
1. 1-3 — бытовые реплики и вежливость
2. 4-6 — содержательные вопросы и ответы
3. 7-10 — ключевые факты, решения и договоренности

Отвечай только одним числом, без комментариев.`

const summaryPrompt = `Ты эксперт по созданию кратких резюме диалогов. Создай краткое резюме разговора.

Требования:
1. Используй тот же язык, что и в диалоге
2. Отражай основные темы и выводы
3. Будь конкретным и информативным

Отвечай только текстом резюме, без дополнительных комментариев.`

const topicsPrompt = `Ты эксперт по анализу диалогов. Выдели от 3 до 5 ключевых тем разговора.

Правила:
1. Тема — короткая фраза (1-4 слова)
2. Темы должны отражать основное содержание
3. Отвечай только списком тем, по одной на строке, без нумерации`

// renderDialog форматирует сообщения в текст диалога для промпта
func renderDialog(messages []models.Message) string {
	var builder strings.Builder
	builder.WriteString("Диалог для анализа:\n\n")

	for _, msg := range messages {
		role := "Пользователь"
		if !msg.IsUser {
			role = "Ассистент"
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", role, msg.Content))
	}
	return builder.String()
}

// parseKeywordList разбирает список тем из ответа модели: по одной на
// строке, допускаются маркеры списка и запятые.
func parseKeywordList(response string, max int) []string {
	lines := strings.FieldsFunc(response, func(r rune) bool {
		return r == '\n' || r == ','
	})

	var keywords []string
	for _, line := range lines {
		keyword := strings.TrimSpace(line)
		keyword = strings.TrimPrefix(keyword, "-")
		keyword = strings.TrimPrefix(keyword, "•")
		keyword = strings.TrimSpace(keyword)

		if keyword != "" {
			keywords = append(keywords, keyword)
		}
	}

	if len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}
