package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/interfaces"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageFinalized     = errors.New("message is finalized")
	ErrAlreadyScored        = errors.New("message is already scored")
	ErrTopicsAlreadySet     = errors.New("topics are already set")
	ErrInvalidSummaryRange  = errors.New("invalid summary range")
	ErrInvalidImportance    = errors.New("importance out of range")
)

// Store потокобезопасное хранилище диалогов. Все мутации проходят через
// один мьютекс; наружу отдаются только глубокие копии. Диалоги держатся
// в порядке недавности: новый диалог вставляется в начало.
type Store struct {
	mu            sync.RWMutex
	conversations []*models.Conversation
	persister     interfaces.Persister
}

func New(persister interfaces.Persister) *Store {
	return &Store{persister: persister}
}

// LoadFromPersister загружает сохраненные диалоги (вызывается на старте)
func (s *Store) LoadFromPersister(ctx context.Context) error {
	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make([]*models.Conversation, len(loaded))
	for i := range loaded {
		conv := loaded[i].Clone()
		s.conversations[i] = &conv
	}
	return nil
}

// ConversationStore implementation

func (s *Store) List(ctx context.Context) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		result[i] = conv.Clone()
	}
	return result
}

func (s *Store) Get(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.find(id)
	if conv == nil {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *Store) Create(ctx context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(conv.ID) != nil {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}

	clone := conv.Clone()
	s.conversations = append([]*models.Conversation{&clone}, s.conversations...)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, conv := range s.conversations {
		if conv.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			return nil
		}
	}
	return ErrConversationNotFound
}

func (s *Store) AppendMessage(ctx context.Context, convID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

// UpdateMessageContent заменяет содержимое незамороженного сообщения
// целиком (полный накопленный префикс, не сырые дельты)
func (s *Store) UpdateMessageContent(ctx context.Context, convID, msgID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(convID, msgID)
	if err != nil {
		return err
	}
	if msg.Final {
		return ErrMessageFinalized
	}
	msg.Content = content
	return nil
}

// FinalizeMessage замораживает сообщение с финальным содержимым.
// Дальнейшие записи содержимого отвергаются.
func (s *Store) FinalizeMessage(ctx context.Context, convID, msgID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(convID, msgID)
	if err != nil {
		return err
	}
	if msg.Final {
		return ErrMessageFinalized
	}
	msg.Content = strings.TrimSpace(content)
	msg.Final = true
	return nil
}

// RemoveMessage удаляет сообщение (сброс незамороженного плейсхолдера
// при отмене стрима)
func (s *Store) RemoveMessage(ctx context.Context, convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == msgID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			return nil
		}
	}
	return ErrMessageNotFound
}

func (s *Store) SetTitle(ctx context.Context, convID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Title = title
	return nil
}

func (s *Store) SetStrategy(ctx context.Context, convID string, strategy models.ContextStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Strategy = strategy
	return nil
}

// SetImportance ставит оценку важности. Оценка пишется только поверх
// неоцененного состояния: уже оцененное сообщение не сбрасывается.
func (s *Store) SetImportance(ctx context.Context, convID, msgID string, score int) error {
	if score < models.ImportanceMin || score > models.ImportanceMax {
		return ErrInvalidImportance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(convID, msgID)
	if err != nil {
		return err
	}
	if msg.Importance != models.ImportanceUnscored {
		return ErrAlreadyScored
	}
	msg.Importance = score
	return nil
}

func (s *Store) SetMessageKeywords(ctx context.Context, convID, msgID string, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(convID, msgID)
	if err != nil {
		return err
	}
	msg.Keywords = append([]string(nil), keywords...)
	return nil
}

// AddSummary добавляет резюме. Диапазоны обязаны идти строго вперед:
// новое резюме начинается после верхней границы предыдущего и
// покрывает только уже финализированные индексы.
func (s *Store) AddSummary(ctx context.Context, convID string, summary models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}

	if summary.StartIndex < 0 || summary.EndIndex < summary.StartIndex {
		return ErrInvalidSummaryRange
	}
	if summary.EndIndex >= len(conv.Messages) {
		return ErrInvalidSummaryRange
	}
	if last := conv.LastSummary(); last != nil {
		if summary.StartIndex <= last.EndIndex {
			return ErrInvalidSummaryRange
		}
	}
	for i := summary.StartIndex; i <= summary.EndIndex; i++ {
		if !conv.Messages[i].Final {
			return ErrInvalidSummaryRange
		}
	}

	conv.Summaries = append(conv.Summaries, summary)
	return nil
}

// SetTopics записывает темы диалога. Темы ставятся один раз:
// непустой набор не перезаписывается.
func (s *Store) SetTopics(ctx context.Context, convID string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(convID)
	if conv == nil {
		return ErrConversationNotFound
	}
	if len(conv.Topics) > 0 {
		return ErrTopicsAlreadySet
	}
	conv.Topics = append([]string(nil), topics...)
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make([]models.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		snapshot[i] = conv.Clone()
	}
	s.mu.RUnlock()

	if err := s.persister.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// Callers must hold s.mu
func (s *Store) find(id string) *models.Conversation {
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

func (s *Store) findMessage(convID, msgID string) (*models.Message, error) {
	conv := s.find(convID)
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == msgID {
			return &conv.Messages[i], nil
		}
	}
	return nil, ErrMessageNotFound
}

// NopPersister персистер-заглушка для тестов и режима без БД
type NopPersister struct{}

func (NopPersister) Load(ctx context.Context) ([]models.Conversation, error) {
	return nil, nil
}

func (NopPersister) Save(ctx context.Context, conversations []models.Conversation) error {
	return nil
}

// Verify interface implementation
var _ interfaces.ConversationStore = (*Store)(nil)
var _ interfaces.Persister = NopPersister{}
