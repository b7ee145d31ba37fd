package memory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/interfaces"
	storagememory "github.com/chenyuanqi/ios-DeepSeek/internal/storage/memory"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
	"github.com/chenyuanqi/ios-DeepSeek/pkg/llm"
)

type Config struct {
	// Importance scoring
	ShortMessageLength int // короче этого — локальная оценка без сети
	ShortMessageScore  int
	FallbackScore      int // оценка при неразборчивом ответе модели

	// Summarization
	FirstSummaryThreshold  int // больше этого сообщений и нет резюме -> [0, threshold-1]
	SecondSummaryThreshold int // больше этого и ровно одно резюме
	SummaryGap             int // минимальный разрыв после верхней границы

	// Topic extraction
	TopicThreshold   int // сообщений для запуска извлечения тем
	TopicSourceLimit int // сколько первых сообщений анализируется
	TopicMin         int
	TopicMax         int
}

func DefaultConfig() Config {
	return Config{
		ShortMessageLength:     10,
		ShortMessageScore:      2,
		FallbackScore:          5,
		FirstSummaryThreshold:  20,
		SecondSummaryThreshold: 30,
		SummaryGap:             20,
		TopicThreshold:         5,
		TopicSourceLimit:       10,
		TopicMin:               3,
		TopicMax:               5,
	}
}

// Enricher фоновый конвейер обогащения памяти: оценка важности
// сообщений, скользящие резюме по диапазонам и извлечение тем.
// Никогда не блокирует ход, который его запустил; ошибки логируются,
// поле остается необогащенным до следующего запуска.
type Enricher struct {
	store  interfaces.ConversationStore
	client llm.CompletionClient
	config Config
	logger *zap.Logger
}

func New(
	store interfaces.ConversationStore,
	client llm.CompletionClient,
	config Config,
	logger *zap.Logger,
) *Enricher {
	return &Enricher{
		store:  store,
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "memory_enricher")),
	}
}

// Enrich запускает три независимые задачи обогащения над последним
// сохраненным состоянием диалога. Каждая идемпотентна: уже
// обогащенные данные не перезаписываются.
func (e *Enricher) Enrich(ctx context.Context, convID string) {
	conv, err := e.store.Get(ctx, convID)
	if err != nil {
		e.logger.Warn("Enrichment skipped: conversation not found",
			zap.String("conversation_id", convID))
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.scoreImportance(ctx, conv)
	}()
	go func() {
		defer wg.Done()
		e.summarize(ctx, conv)
	}()
	go func() {
		defer wg.Done()
		e.extractTopics(ctx, conv)
	}()
	wg.Wait()
}

// scoreImportance оценивает каждое неоцененное сообщение независимо.
// Когда неоцененных не остается, состояние сохраняется.
func (e *Enricher) scoreImportance(ctx context.Context, conv models.Conversation) {
	var unscored []models.Message
	for _, msg := range conv.Messages {
		if msg.Final && msg.Importance == models.ImportanceUnscored {
			unscored = append(unscored, msg)
		}
	}
	if len(unscored) == 0 {
		return
	}

	e.logger.Debug("Scoring message importance",
		zap.String("conversation_id", conv.ID),
		zap.Int("unscored", len(unscored)),
	)

	var failed int
	for _, msg := range unscored {
		score, err := e.scoreMessage(ctx, msg)
		if err != nil {
			failed++
			e.logger.Warn("Importance scoring failed, will retry later",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if err := e.store.SetImportance(ctx, conv.ID, msg.ID, score); err != nil {
			if !errors.Is(err, storagememory.ErrAlreadyScored) {
				e.logger.Warn("Failed to apply importance score",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}

	if failed == 0 {
		if err := e.store.Flush(ctx); err != nil {
			e.logger.Warn("Failed to persist after scoring", zap.Error(err))
		}
	}
}

func (e *Enricher) scoreMessage(ctx context.Context, msg models.Message) (int, error) {
	// Короткие сообщения оцениваются локально, без сетевого вызова
	if len([]rune(msg.Content)) < e.config.ShortMessageLength {
		return e.config.ShortMessageScore, nil
	}

	response, err := e.client.ChatCompletion(ctx, []llm.Message{
		llm.SystemMessage(scoringPrompt),
		{Role: "user", Content: msg.Content},
	})
	if err != nil {
		return 0, err
	}

	return e.parseScore(response), nil
}

// parseScore разбирает целочисленную оценку из ответа модели.
// Неразборчивый ответ получает оценку по умолчанию; результат
// зажимается в [1, 10].
func (e *Enricher) parseScore(response string) int {
	score, err := strconv.Atoi(strings.TrimSpace(response))
	if err != nil {
		e.logger.Debug("Unparseable importance score, using fallback",
			zap.String("response", response))
		score = e.config.FallbackScore
	}
	if score < models.ImportanceMin {
		score = models.ImportanceMin
	}
	if score > models.ImportanceMax {
		score = models.ImportanceMax
	}
	return score
}

// summarize создает резюме, когда диалог перерастает пороги.
// Первое резюме покрывает [0, N-1] и переключает стратегию диалога
// на summarized (однократно).
func (e *Enricher) summarize(ctx context.Context, conv models.Conversation) {
	count := len(conv.Messages)

	var start, end int
	switch {
	case count > e.config.FirstSummaryThreshold && len(conv.Summaries) == 0:
		start, end = 0, e.config.FirstSummaryThreshold-1
	case count > e.config.SecondSummaryThreshold && len(conv.Summaries) == 1:
		lastUpper := conv.Summaries[0].EndIndex
		if count-lastUpper <= e.config.SummaryGap {
			return
		}
		// Диапазоны резюме не пересекаются: новое начинается сразу
		// после верхней границы предыдущего
		start, end = lastUpper+1, count-1
	default:
		return
	}

	// Резюмируются только финализированные диапазоны
	for i := start; i <= end; i++ {
		if !conv.Messages[i].Final {
			e.logger.Debug("Summary range contains streaming message, skipping",
				zap.String("conversation_id", conv.ID))
			return
		}
	}

	text, err := e.summarizeRange(ctx, conv.Messages[start:end+1])
	if err != nil {
		e.logger.Warn("Summarization failed, will retry later",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}

	firstSummary := len(conv.Summaries) == 0

	if err := e.store.AddSummary(ctx, conv.ID, models.NewSummary(text, start, end)); err != nil {
		e.logger.Warn("Failed to store summary",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}

	// Первое резюме автоматически переводит recent -> summarized
	if firstSummary && conv.Strategy == models.StrategyRecentMessages {
		if err := e.store.SetStrategy(ctx, conv.ID, models.StrategySummarizedContext); err != nil {
			e.logger.Warn("Failed to switch context strategy", zap.Error(err))
		}
	}

	if err := e.store.Flush(ctx); err != nil {
		e.logger.Warn("Failed to persist after summarization", zap.Error(err))
	}

	e.logger.Info("Summary created",
		zap.String("conversation_id", conv.ID),
		zap.Int("range_start", start),
		zap.Int("range_end", end),
		zap.Int("summary_length", len(text)),
	)
}

func (e *Enricher) summarizeRange(ctx context.Context, messages []models.Message) (string, error) {
	response, err := e.client.ChatCompletion(ctx, []llm.Message{
		llm.SystemMessage(summaryPrompt),
		{Role: "user", Content: renderDialog(messages)},
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(response)
	if text == "" {
		return "", errors.New("empty summary response")
	}
	return text, nil
}

// extractTopics извлекает темы один раз на диалог: после порога
// сообщений и только пока тем еще нет.
func (e *Enricher) extractTopics(ctx context.Context, conv models.Conversation) {
	if len(conv.Messages) < e.config.TopicThreshold || len(conv.Topics) > 0 {
		return
	}

	source := conv.Messages
	if len(source) > e.config.TopicSourceLimit {
		source = source[:e.config.TopicSourceLimit]
	}

	response, err := e.client.ChatCompletion(ctx, []llm.Message{
		llm.SystemMessage(topicsPrompt),
		{Role: "user", Content: renderDialog(source)},
	})
	if err != nil {
		e.logger.Warn("Topic extraction failed, will retry later",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}

	topics := parseKeywordList(response, e.config.TopicMax)
	if len(topics) < e.config.TopicMin {
		e.logger.Warn("Too few topics extracted",
			zap.String("conversation_id", conv.ID),
			zap.Strings("topics", topics),
		)
		return
	}

	if err := e.store.SetTopics(ctx, conv.ID, topics); err != nil {
		if !errors.Is(err, storagememory.ErrTopicsAlreadySet) {
			e.logger.Warn("Failed to store topics", zap.Error(err))
		}
		return
	}

	// Привязываем извлеченные темы к первому сообщению пользователя
	for _, msg := range conv.Messages {
		if msg.IsUser {
			if err := e.store.SetMessageKeywords(ctx, conv.ID, msg.ID, topics); err != nil {
				e.logger.Warn("Failed to tag message keywords", zap.Error(err))
			}
			break
		}
	}

	if err := e.store.Flush(ctx); err != nil {
		e.logger.Warn("Failed to persist after topic extraction", zap.Error(err))
	}

	e.logger.Info("Topics extracted",
		zap.String("conversation_id", conv.ID),
		zap.Strings("topics", topics),
	)
}
