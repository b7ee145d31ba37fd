package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message единица контекста в wire-формате провайдера
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// GenerationParams параметры генерации, уходящие в тело запроса
type GenerationParams struct {
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	N                int     `json:"n"`
	ResponseFormat   string  `json:"response_format"`
}

// DefaultGenerationParams значения по умолчанию провайдера
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:        2048,
		Temperature:      0.7,
		TopP:             0.7,
		TopK:             50,
		FrequencyPenalty: 0.5,
		N:                1,
		ResponseFormat:   "text",
	}
}

type chatCompletionRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Stream           bool           `json:"stream"`
	MaxTokens        int            `json:"max_tokens"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	TopK             int            `json:"top_k"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	N                int            `json:"n"`
	ResponseFormat   responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// EncodeRequest кодирует тело запроса chat completions.
// Сообщения с пустым содержимым не кодируются: плейсхолдер ассистента,
// который мутируется во время стрима, не должен попадать на провод.
func EncodeRequest(model string, messages []Message, stream bool, params GenerationParams) ([]byte, error) {
	wire := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		wire = append(wire, msg)
	}
	if len(wire) == 0 {
		return nil, ErrEmptyMessages
	}

	req := chatCompletionRequest{
		Model:            model,
		Messages:         wire,
		Stream:           stream,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		TopK:             params.TopK,
		FrequencyPenalty: params.FrequencyPenalty,
		N:                params.N,
		ResponseFormat:   responseFormat{Type: params.ResponseFormat},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return body, nil
}

// DecodeChunk разбирает один стриминговый фрейм и возвращает дельту текста
func DecodeChunk(frame []byte) (string, error) {
	var chunk chatCompletionChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// DecodeCompletion разбирает тело нестримингового ответа
func DecodeCompletion(body []byte) (string, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", DecodingFailed(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// frameMarker разделитель фреймов в стриминговом ответе.
// Фреймы отделяются повторением маркера, а не переводами строк,
// поэтому сплиттер режет буфер строго по вхождениям маркера.
var frameMarker = []byte("data: ")

// doneSentinel литеральный фрейм, означающий естественный конец данных
const doneSentinel = "[DONE]"

// frameSplitter инкрементально режет байтовый поток на кандидатов-фреймы.
// Остаток после последнего маркера копится до следующего маркера или EOF.
type frameSplitter struct {
	buf []byte
}

// Push добавляет очередную порцию байт и возвращает завершенные сегменты.
// Сегмент завершается, когда в буфере появляется следующий маркер.
func (fs *frameSplitter) Push(p []byte) [][]byte {
	fs.buf = append(fs.buf, p...)

	var segments [][]byte
	for {
		idx := bytes.Index(fs.buf, frameMarker)
		if idx < 0 {
			break
		}
		segment := fs.buf[:idx]
		fs.buf = fs.buf[idx+len(frameMarker):]
		segments = append(segments, segment)
	}
	return segments
}

// Flush возвращает незавершенный хвост буфера (вызывается на EOF)
func (fs *frameSplitter) Flush() []byte {
	tail := fs.buf
	fs.buf = nil
	return tail
}
