package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storagememory "github.com/chenyuanqi/ios-DeepSeek/internal/storage/memory"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
	"github.com/chenyuanqi/ios-DeepSeek/pkg/llm"
)

// fakeStreamClient воспроизводит сценарий транспорта: скрипт пишет в канал,
// канал закрывается после скрипта (или после отмены — без терминального
// события, как настоящий транспорт)
type fakeStreamClient struct {
	mu       sync.Mutex
	requests [][]llm.Message
	script   func(ctx context.Context, ch chan<- llm.StreamChunk)
}

func (f *fakeStreamClient) ChatCompletionStream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.requests = append(f.requests, messages)
	f.mu.Unlock()

	ch := make(chan llm.StreamChunk, 100)
	go func() {
		defer close(ch)
		if f.script != nil {
			f.script(ctx, ch)
		}
	}()
	return ch, nil
}

func (f *fakeStreamClient) lastRequest() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakeEnricher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEnricher) Enrich(ctx context.Context, convID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, convID)
}

func (f *fakeEnricher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sessionStub struct{ valid bool }

func (s sessionStub) HasValidSession(ctx context.Context) bool { return s.valid }

func deltaScript(deltas ...string) func(ctx context.Context, ch chan<- llm.StreamChunk) {
	return func(ctx context.Context, ch chan<- llm.StreamChunk) {
		for _, delta := range deltas {
			ch <- llm.StreamChunk{Content: delta}
		}
		ch <- llm.StreamChunk{Done: true}
	}
}

func newControllerFixture(t *testing.T, client *fakeStreamClient) (*Controller, *storagememory.Store, *fakeEnricher) {
	t.Helper()
	store := storagememory.New(storagememory.NopPersister{})
	enricher := &fakeEnricher{}
	controller := NewController(store, client, enricher, sessionStub{valid: true}, zap.NewNop())
	require.NoError(t, controller.Init(context.Background()))
	return controller, store, enricher
}

func drainEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var collected []StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, event)
		case <-deadline:
			t.Fatal("event stream did not close in time")
		}
	}
}

func TestSendMessageFullTurn(t *testing.T) {
	client := &fakeStreamClient{script: deltaScript("При", "вет", "!")}
	controller, _, enricher := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "Как дела?")
	require.NoError(t, err)

	collected := drainEvents(t, events)
	require.Len(t, collected, 4)

	// Дельты приходят по порядку вместе с накопленным префиксом
	assert.Equal(t, "При", collected[0].Delta)
	assert.Equal(t, "При", collected[0].Text)
	assert.Equal(t, "вет", collected[1].Delta)
	assert.Equal(t, "Привет", collected[1].Text)
	assert.Equal(t, "Привет!", collected[2].Text)

	final := collected[3]
	assert.True(t, final.Done)
	assert.NoError(t, final.Err)
	assert.Equal(t, "Привет!", final.Text)

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Как дела?", conv.Messages[0].Content)
	assert.True(t, conv.Messages[0].IsUser)
	assert.Equal(t, "Привет!", conv.Messages[1].Content)
	assert.False(t, conv.Messages[1].IsUser)
	assert.True(t, conv.Messages[1].Final)

	assert.Equal(t, StateIdle, controller.State())
	assert.False(t, controller.IsStreaming())
	assert.NoError(t, controller.LastError())

	// Обогащение запускается после завершения хода
	controller.WaitForEnrichment()
	assert.Equal(t, 1, enricher.callCount())

	// Пустой плейсхолдер не попадает в запрос к LLM
	request := client.lastRequest()
	require.NotEmpty(t, request)
	assert.Equal(t, "Как дела?", request[len(request)-1].Content)
	for _, msg := range request {
		assert.NotEmpty(t, strings.TrimSpace(msg.Content))
	}

	turns, deltas, failures, _ := controller.Metrics().GetStats()
	assert.Equal(t, int64(1), turns)
	assert.Equal(t, int64(3), deltas)
	assert.Zero(t, failures)
}

func TestSendMessageDerivesTitle(t *testing.T) {
	client := &fakeStreamClient{script: deltaScript("ok")}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "Расскажи про планировщик горутин в Go")
	require.NoError(t, err)
	drainEvents(t, events)

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Расскажи про планиро...", conv.Title)

	// Заголовок не перезаписывается следующими сообщениями
	events, err = controller.SendMessage(ctx, "А теперь про каналы")
	require.NoError(t, err)
	drainEvents(t, events)

	conv, err = controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Расскажи про планиро...", conv.Title)
}

func TestSendMessageShortTitleWithoutEllipsis(t *testing.T) {
	client := &fakeStreamClient{script: deltaScript("ok")}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "Привет")
	require.NoError(t, err)
	drainEvents(t, events)

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Привет", conv.Title)
}

func TestSendMessageValidation(t *testing.T) {
	client := &fakeStreamClient{}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	_, err := controller.SendMessage(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = controller.SendMessage(ctx, strings.Repeat("а", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	assert.Equal(t, StateIdle, controller.State())
}

func TestSendMessageRequiresSession(t *testing.T) {
	client := &fakeStreamClient{}
	store := storagememory.New(storagememory.NopPersister{})
	controller := NewController(store, client, &fakeEnricher{}, sessionStub{valid: false}, zap.NewNop())
	require.NoError(t, controller.Init(context.Background()))

	_, err := controller.SendMessage(context.Background(), "Привет")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, StateIdle, controller.State())
}

func TestSendMessageRejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	client := &fakeStreamClient{script: func(ctx context.Context, ch chan<- llm.StreamChunk) {
		ch <- llm.StreamChunk{Content: "начало"}
		<-release
		ch <- llm.StreamChunk{Done: true}
	}}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "первый ход")
	require.NoError(t, err)

	// Дожидаемся первой дельты: ход точно в полете
	first := <-events
	assert.Equal(t, "начало", first.Delta)
	assert.True(t, controller.IsStreaming())

	_, err = controller.SendMessage(ctx, "второй ход")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	drainEvents(t, events)
	assert.Equal(t, StateIdle, controller.State())
}

func TestFailedTurnWritesErrorMessage(t *testing.T) {
	client := &fakeStreamClient{script: func(ctx context.Context, ch chan<- llm.StreamChunk) {
		ch <- llm.StreamChunk{Err: llm.ErrRateLimited}
	}}
	controller, _, enricher := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "Вопрос")
	require.NoError(t, err)

	collected := drainEvents(t, events)
	require.Len(t, collected, 1)
	assert.ErrorIs(t, collected[0].Err, llm.ErrRateLimited)
	assert.Contains(t, collected[0].Text, "Извините, произошла ошибка")

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Contains(t, conv.Messages[1].Content, "Извините, произошла ошибка")
	assert.True(t, conv.Messages[1].Final)

	assert.ErrorIs(t, controller.LastError(), llm.ErrRateLimited)
	assert.Equal(t, StateIdle, controller.State())

	// Проваленный ход не запускает обогащение
	controller.WaitForEnrichment()
	assert.Zero(t, enricher.callCount())

	turns, _, failures, _ := controller.Metrics().GetStats()
	assert.Equal(t, int64(1), turns)
	assert.Equal(t, int64(1), failures)
}

func TestCancelStreamDiscardsPlaceholder(t *testing.T) {
	client := &fakeStreamClient{script: func(ctx context.Context, ch chan<- llm.StreamChunk) {
		ch <- llm.StreamChunk{Content: "частичный"}
		// Как настоящий транспорт: после отмены закрываемся без
		// терминального события
		<-ctx.Done()
	}}
	controller, _, enricher := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "Вопрос")
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "частичный", first.Delta)

	controller.CancelStream()
	collected := drainEvents(t, events)

	// Ни Done, ни Err после отмены
	for _, event := range collected {
		assert.False(t, event.Done)
		assert.NoError(t, event.Err)
	}

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].IsUser)

	assert.Equal(t, StateIdle, controller.State())

	controller.WaitForEnrichment()
	assert.Zero(t, enricher.callCount())
}

func TestInitSelectsLatestConversation(t *testing.T) {
	store := storagememory.New(storagememory.NopPersister{})
	ctx := context.Background()

	older := models.NewConversation("Старый")
	newer := models.NewConversation("Новый")
	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, newer))

	controller := NewController(store, &fakeStreamClient{}, &fakeEnricher{}, sessionStub{valid: true}, zap.NewNop())
	require.NoError(t, controller.Init(ctx))

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, conv.ID)
}

func TestInitCreatesConversationWhenEmpty(t *testing.T) {
	store := storagememory.New(storagememory.NopPersister{})
	controller := NewController(store, &fakeStreamClient{}, &fakeEnricher{}, sessionStub{valid: true}, zap.NewNop())
	require.NoError(t, controller.Init(context.Background()))

	conv, err := controller.CurrentConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)
}

func TestSelectConversation(t *testing.T) {
	client := &fakeStreamClient{}
	controller, store, _ := newControllerFixture(t, client)
	ctx := context.Background()

	other := models.NewConversation("Другой")
	require.NoError(t, store.Create(ctx, other))

	require.NoError(t, controller.SelectConversation(ctx, other.ID))

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, other.ID, conv.ID)

	assert.ErrorIs(t, controller.SelectConversation(ctx, "missing"), storagememory.ErrConversationNotFound)
}

func TestDeleteCurrentFallsBackToLatest(t *testing.T) {
	client := &fakeStreamClient{}
	controller, store, _ := newControllerFixture(t, client)
	ctx := context.Background()

	first, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)

	second, err := controller.NewConversation(ctx)
	require.NoError(t, err)

	require.NoError(t, controller.DeleteConversation(ctx, second.ID))

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, conv.ID)
	assert.Len(t, store.List(ctx), 1)
}

func TestDeleteLastConversationCreatesNew(t *testing.T) {
	client := &fakeStreamClient{}
	controller, store, _ := newControllerFixture(t, client)
	ctx := context.Background()

	current, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)

	require.NoError(t, controller.DeleteConversation(ctx, current.ID))

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, current.ID, conv.ID)
	assert.Len(t, store.List(ctx), 1)
}

func TestChangeContextStrategy(t *testing.T) {
	client := &fakeStreamClient{}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	require.NoError(t, controller.ChangeContextStrategy(ctx, models.StrategyImportantMessages))

	conv, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyImportantMessages, conv.Strategy)

	assert.Error(t, controller.ChangeContextStrategy(ctx, models.ContextStrategy("bogus")))
}

func TestDeleteConversationRejectedDuringTurn(t *testing.T) {
	release := make(chan struct{})
	client := &fakeStreamClient{script: func(ctx context.Context, ch chan<- llm.StreamChunk) {
		ch <- llm.StreamChunk{Content: "начало"}
		<-release
		ch <- llm.StreamChunk{Done: true}
	}}
	controller, store, _ := newControllerFixture(t, client)
	ctx := context.Background()

	current, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)

	events, err := controller.SendMessage(ctx, "первый ход")
	require.NoError(t, err)
	<-events

	assert.ErrorIs(t, controller.DeleteConversation(ctx, current.ID), ErrTurnInProgress)

	// Диалог не тронут: стрим продолжает финализироваться в него
	_, err = store.Get(ctx, current.ID)
	require.NoError(t, err)

	close(release)
	drainEvents(t, events)
	assert.Equal(t, StateIdle, controller.State())

	require.NoError(t, controller.DeleteConversation(ctx, current.ID))
}

func TestChangeContextStrategyRejectedDuringTurn(t *testing.T) {
	release := make(chan struct{})
	client := &fakeStreamClient{script: func(ctx context.Context, ch chan<- llm.StreamChunk) {
		ch <- llm.StreamChunk{Content: "начало"}
		<-release
		ch <- llm.StreamChunk{Done: true}
	}}
	controller, _, _ := newControllerFixture(t, client)
	ctx := context.Background()

	events, err := controller.SendMessage(ctx, "первый ход")
	require.NoError(t, err)
	<-events

	err = controller.ChangeContextStrategy(ctx, models.StrategyImportantMessages)
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	drainEvents(t, events)

	require.NoError(t, controller.ChangeContextStrategy(ctx, models.StrategyImportantMessages))
}

func TestConversationDoesNotChangeSelection(t *testing.T) {
	client := &fakeStreamClient{}
	controller, store, _ := newControllerFixture(t, client)
	ctx := context.Background()

	current, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)

	other := models.NewConversation("Другой")
	require.NoError(t, store.Create(ctx, other))

	conv, err := controller.Conversation(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, conv.ID)

	// Чтение по id не трогает текущий выбор
	selected, err := controller.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.ID, selected.ID)

	_, err = controller.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, storagememory.ErrConversationNotFound)
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("нормальное сообщение"))
	assert.ErrorIs(t, ValidateMessage(""), ErrEmptyMessage)
	assert.ErrorIs(t, ValidateMessage("\n\t "), ErrEmptyMessage)
	assert.ErrorIs(t, ValidateMessage(strings.Repeat("x", MaxMessageLength+1)), ErrMessageTooLong)
}
