package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	contextsel "github.com/chenyuanqi/ios-DeepSeek/internal/service/context"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/interfaces"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
	"github.com/chenyuanqi/ios-DeepSeek/pkg/llm"
)

// TurnState состояние конечного автомата хода
type TurnState string

const (
	StateIdle               TurnState = "idle"
	StateAwaitingFirstDelta TurnState = "awaiting_first_delta"
	StateStreaming          TurnState = "streaming"
	StateFinalizing         TurnState = "finalizing"
	StateFailed             TurnState = "failed"
)

// DefaultTitle заголовок нового диалога до первого сообщения
const DefaultTitle = "Новый диалог"

// SessionChecker коллаборатор аутентификации: ядро само не
// аутентифицирует, только спрашивает про валидную сессию
type SessionChecker interface {
	HasValidSession(ctx context.Context) bool
}

// Enricher фоновое обогащение памяти диалога
type Enricher interface {
	Enrich(ctx context.Context, convID string)
}

// StreamEvent событие хода для слоя UI: дельта плюс полный накопленный
// префикс, либо терминальное Done/Err
type StreamEvent struct {
	MessageID string
	Delta     string
	Text      string // полный накопленный текст на момент события
	Done      bool
	Err       error
}

// Controller оркестрирует ход диалога: добавляет сообщение пользователя,
// выбирает контекст, стримит ответ, собирает его в финальное сообщение
// ассистента и запускает обогащение памяти. Один ход в полете.
type Controller struct {
	store    interfaces.ConversationStore
	llm      llm.StreamClient
	enricher Enricher
	auth     SessionChecker
	metrics  *TurnMetrics
	logger   *zap.Logger

	mu        sync.Mutex
	currentID string
	state     TurnState
	lastErr   error
	cancel    context.CancelFunc

	// enrichWG позволяет дождаться фоновых задач (shutdown, тесты)
	enrichWG sync.WaitGroup
}

func NewController(
	store interfaces.ConversationStore,
	streamClient llm.StreamClient,
	enricher Enricher,
	auth SessionChecker,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		store:    store,
		llm:      streamClient,
		enricher: enricher,
		auth:     auth,
		metrics:  NewTurnMetrics(),
		logger:   logger.With(zap.String("component", "conversation_controller")),
		state:    StateIdle,
	}
}

// Init выбирает последний сохраненный диалог или создает новый
func (c *Controller) Init(ctx context.Context) error {
	conversations := c.store.List(ctx)
	if len(conversations) > 0 {
		c.mu.Lock()
		c.currentID = conversations[0].ID
		c.mu.Unlock()
		return nil
	}

	_, err := c.NewConversation(ctx)
	return err
}

// SendMessage начинает ход: Idle -> AwaitingFirstDelta.
// Возвращает канал событий хода; потребитель у канала ровно один.
func (c *Controller) SendMessage(ctx context.Context, text string) (<-chan StreamEvent, error) {
	if err := ValidateMessage(text); err != nil {
		return nil, err
	}
	if c.auth != nil && !c.auth.HasValidSession(ctx) {
		return nil, ErrNoSession
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	c.state = StateAwaitingFirstDelta
	c.lastErr = nil
	convID := c.currentID
	c.mu.Unlock()

	if convID == "" {
		conv, err := c.NewConversation(ctx)
		if err != nil {
			c.setState(StateIdle)
			return nil, err
		}
		convID = conv.ID
	}

	userMessage := models.NewUserMessage(text)
	if err := c.store.AppendMessage(ctx, convID, userMessage); err != nil {
		c.setState(StateIdle)
		return nil, fmt.Errorf("failed to append user message: %w", err)
	}

	conv, err := c.store.Get(ctx, convID)
	if err != nil {
		c.setState(StateIdle)
		return nil, err
	}

	// Заголовок выводится из первого сообщения пользователя
	if conv.Title == "" || conv.Title == DefaultTitle {
		if err := c.store.SetTitle(ctx, convID, models.DeriveTitle(text)); err != nil {
			c.logger.Warn("Failed to set conversation title", zap.Error(err))
		}
	}

	// Контекст выбирается по текущей стратегии диалога
	contextMessages := contextsel.Select(conv, conv.Strategy)

	placeholder := models.NewAssistantMessage()
	if err := c.store.AppendMessage(ctx, convID, placeholder); err != nil {
		c.setState(StateIdle)
		return nil, fmt.Errorf("failed to append placeholder: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	chunks, err := c.llm.ChatCompletionStream(streamCtx, llm.ConvertToLLMMessages(contextMessages))
	if err != nil {
		cancel()
		c.failTurn(ctx, convID, placeholder.ID, err, nil)
		return nil, err
	}

	c.logger.Info("Turn started",
		zap.String("conversation_id", convID),
		zap.Int("context_messages", len(contextMessages)),
		zap.String("strategy", string(conv.Strategy)),
	)

	events := make(chan StreamEvent, 100)
	go c.consumeStream(ctx, convID, placeholder.ID, chunks, events, cancel)

	return events, nil
}

// consumeStream единственный потребитель дельт транспорта: собирает
// полный текст, обновляет плейсхолдер и транслирует события в UI
func (c *Controller) consumeStream(
	ctx context.Context,
	convID, messageID string,
	chunks <-chan llm.StreamChunk,
	events chan<- StreamEvent,
	cancel context.CancelFunc,
) {
	defer close(events)
	defer cancel()

	var accumulated strings.Builder
	startTime := time.Now()
	deltas := 0

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			c.failTurn(ctx, convID, messageID, chunk.Err, events)
			c.metrics.RecordTurn(deltas, true, time.Since(startTime))
			return

		case chunk.Done:
			c.finalizeTurn(ctx, convID, messageID, accumulated.String(), events)
			c.metrics.RecordTurn(deltas, false, time.Since(startTime))
			return

		case chunk.Content != "":
			if deltas == 0 {
				c.setState(StateStreaming)
			}
			deltas++
			accumulated.WriteString(chunk.Content)

			// Содержимое заменяется целиком накопленным префиксом,
			// а не дописыванием сырых байт
			if err := c.store.UpdateMessageContent(ctx, convID, messageID, accumulated.String()); err != nil {
				c.logger.Warn("Failed to update streaming message", zap.Error(err))
			}

			events <- StreamEvent{
				MessageID: messageID,
				Delta:     chunk.Content,
				Text:      accumulated.String(),
			}
		}
	}

	// Канал закрылся без терминального события: ход отменен.
	// Незамороженный плейсхолдер сбрасывается без сохранения.
	c.logger.Info("Turn cancelled",
		zap.String("conversation_id", convID),
		zap.Int("deltas_received", deltas),
	)
	if err := c.store.RemoveMessage(context.WithoutCancel(ctx), convID, messageID); err != nil {
		c.logger.Warn("Failed to discard cancelled placeholder", zap.Error(err))
	}
	c.setState(StateIdle)
}

// finalizeTurn: Streaming -> Finalizing -> Idle
func (c *Controller) finalizeTurn(ctx context.Context, convID, messageID, text string, events chan<- StreamEvent) {
	c.setState(StateFinalizing)

	final := strings.TrimSpace(text)
	if err := c.store.FinalizeMessage(ctx, convID, messageID, final); err != nil {
		c.logger.Error("Failed to finalize assistant message", zap.Error(err))
	}
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Error("Failed to persist conversation", zap.Error(err))
	}

	c.logger.Info("Turn completed",
		zap.String("conversation_id", convID),
		zap.String("message_id", messageID),
		zap.Int("content_length", len(final)),
	)

	events <- StreamEvent{MessageID: messageID, Text: final, Done: true}
	c.setState(StateIdle)

	// Обогащение запускается асинхронно и не блокирует завершение хода
	if c.enricher != nil {
		c.enrichWG.Add(1)
		go func() {
			defer c.enrichWG.Done()
			c.enricher.Enrich(context.WithoutCancel(ctx), convID)
		}()
	}
}

// failTurn: любое состояние -> Failed -> Idle. Плейсхолдер заменяется
// видимым пользователю сообщением об ошибке; обогащение не запускается.
func (c *Controller) failTurn(ctx context.Context, convID, messageID string, cause error, events chan<- StreamEvent) {
	c.setState(StateFailed)

	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()

	errorText := fmt.Sprintf("Извините, произошла ошибка: %v", cause)
	if err := c.store.FinalizeMessage(ctx, convID, messageID, errorText); err != nil {
		c.logger.Error("Failed to write error message", zap.Error(err))
	}
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Error("Failed to persist conversation", zap.Error(err))
	}

	c.logger.Error("Turn failed",
		zap.String("conversation_id", convID),
		zap.Error(cause),
	)

	if events != nil {
		events <- StreamEvent{MessageID: messageID, Text: errorText, Err: cause}
	}
	c.setState(StateIdle)
}

// CancelStream отменяет активный стрим: сетевой вызов обрывается,
// дельты больше не доставляются, частично накопленный текст
// сбрасывается без сохранения
func (c *Controller) CancelStream() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// NewConversation создает пустой диалог и делает его текущим
func (c *Controller) NewConversation(ctx context.Context) (models.Conversation, error) {
	conv := models.NewConversation(DefaultTitle)
	if err := c.store.Create(ctx, conv); err != nil {
		return models.Conversation{}, err
	}
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Warn("Failed to persist new conversation", zap.Error(err))
	}

	c.mu.Lock()
	c.currentID = conv.ID
	c.mu.Unlock()

	c.logger.Info("Conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// SelectConversation делает диалог текущим
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrTurnInProgress
	}
	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	c.currentID = id
	return nil
}

// DeleteConversation удаляет диалог. Удаление текущего откатывает
// выбор на самый свежий оставшийся или создает новый.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	c.mu.Unlock()

	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Warn("Failed to persist after deletion", zap.Error(err))
	}

	c.mu.Lock()
	wasCurrent := c.currentID == id
	c.mu.Unlock()

	if !wasCurrent {
		return nil
	}

	remaining := c.store.List(ctx)
	if len(remaining) > 0 {
		c.mu.Lock()
		c.currentID = remaining[0].ID
		c.mu.Unlock()
		return nil
	}

	_, err := c.NewConversation(ctx)
	return err
}

// ChangeContextStrategy меняет стратегию выбора контекста текущего
// диалога. Сохраненные сообщения при этом не изменяются.
func (c *Controller) ChangeContextStrategy(ctx context.Context, strategy models.ContextStrategy) error {
	switch strategy {
	case models.StrategyRecentMessages, models.StrategyImportantMessages, models.StrategySummarizedContext:
	default:
		return fmt.Errorf("unknown context strategy: %s", strategy)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	convID := c.currentID
	c.mu.Unlock()

	if err := c.store.SetStrategy(ctx, convID, strategy); err != nil {
		return err
	}
	return c.store.Flush(ctx)
}

// CurrentConversation возвращает снапшот текущего диалога
func (c *Controller) CurrentConversation(ctx context.Context) (models.Conversation, error) {
	c.mu.Lock()
	convID := c.currentID
	c.mu.Unlock()

	return c.store.Get(ctx, convID)
}

// Conversation возвращает снапшот диалога по идентификатору,
// не меняя текущий выбор
func (c *Controller) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	return c.store.Get(ctx, id)
}

// Conversations возвращает снапшоты всех диалогов в порядке недавности
func (c *Controller) Conversations(ctx context.Context) []models.Conversation {
	return c.store.List(ctx)
}

// State текущее состояние автомата хода
func (c *Controller) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStreaming истинно, пока ход в полете
func (c *Controller) IsStreaming() bool {
	state := c.State()
	return state == StateAwaitingFirstDelta || state == StateStreaming
}

// LastError транзиентная ошибка последнего хода (для баннеров UI)
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Metrics метрики ходов
func (c *Controller) Metrics() *TurnMetrics {
	return c.metrics
}

// WaitForEnrichment дожидается завершения фоновых задач обогащения
func (c *Controller) WaitForEnrichment() {
	c.enrichWG.Wait()
}

func (c *Controller) setState(state TurnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
