package llm

import "context"

// StreamClient выполняет стриминговые запросы (путь основного хода)
type StreamClient interface {
	ChatCompletionStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}

// CompletionClient выполняет одиночные запросы (путь фонового обогащения)
type CompletionClient interface {
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
}

// LLMClient объединяет оба пути
type LLMClient interface {
	StreamClient
	CompletionClient
}

// Verify interface implementation
var _ LLMClient = (*Client)(nil)
