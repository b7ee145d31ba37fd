package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StreamChunk событие стрима: дельта текста, либо ровно одно
// терминальное событие (Done или Err). После отмены контекста канал
// закрывается без терминального события.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Params         GenerationParams
	RequestTimeout time.Duration // ожидание заголовков ответа
	StreamTimeout  time.Duration // полное время вычитывания ответа
}

// Client клиент chat completions API: один стриминговый вызов на ход
// плюс одиночные нестриминговые запросы для фонового обогащения.
type Client struct {
	baseURL    string
	apiKey     string
	params     GenerationParams
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	model string
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return nil, ErrInvalidURL
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = 120 * time.Second
	}
	if cfg.Params == (GenerationParams{}) {
		cfg.Params = DefaultGenerationParams()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		params:  cfg.Params,
		httpClient: &http.Client{
			Timeout: cfg.StreamTimeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		logger: logger.With(zap.String("component", "llm_client")),
	}, nil
}

// Model возвращает идентификатор текущей модели
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel переключает модель для последующих запросов.
// Уже начатый стрим продолжает работать со старой моделью.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, RequestFailed(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// checkStatus проверяет HTTP-статус до разбора фреймов
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
}

// ChatCompletionStream выполняет один стриминговый запрос и отдает дельты
// в порядке прихода через буферизованный канал. Производитель ровно один
// (сетевая горутина), потребитель ровно один (сборка хода).
func (c *Client) ChatCompletionStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	model := c.Model()
	body, err := EncodeRequest(model, messages, true, c.params)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Starting streaming chat completion",
		zap.String("model", model),
		zap.Int("payload_bytes", len(body)),
	)

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)
		c.streamResponse(ctx, req, chunks)
	}()

	return chunks, nil
}

// emit доставляет событие потребителю, если контекст еще жив.
// После отмены события не доставляются.
func emit(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case chunks <- chunk:
		return true
	}
}

func (c *Client) streamResponse(ctx context.Context, req *http.Request, chunks chan<- StreamChunk) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return // отменено: терминальное событие не доставляется
		}
		c.logger.Error("Streaming request failed", zap.Error(err))
		emit(ctx, chunks, StreamChunk{Err: RequestFailed(err)})
		return
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.logger.Warn("Streaming request rejected",
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		emit(ctx, chunks, StreamChunk{Err: err})
		return
	}

	var (
		splitter  frameSplitter
		attempted int
		decoded   int
		finished  bool
	)

	// handleFrame обрабатывает одного кандидата-фрейма.
	// Возвращает false, когда стрим надо остановить.
	handleFrame := func(frame []byte) bool {
		text := strings.TrimSpace(string(frame))
		if text == "" {
			return true
		}
		if text == doneSentinel {
			finished = true
			return false
		}

		attempted++
		delta, err := DecodeChunk([]byte(text))
		if err != nil {
			// Битый фрейм пропускается, стрим продолжается
			c.logger.Warn("Skipping malformed frame",
				zap.String("frame", truncate(text, 120)),
				zap.Error(err),
			)
			return true
		}
		decoded++
		if delta == "" {
			return true
		}
		return emit(ctx, chunks, StreamChunk{Content: delta})
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range splitter.Push(buf[:n]) {
				if !handleFrame(frame) {
					if ctx.Err() != nil {
						return
					}
					goto done
				}
			}
		}
		if readErr == io.EOF {
			if !handleFrame(splitter.Flush()) && ctx.Err() != nil {
				return
			}
			break
		}
		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return
			}
			c.logger.Error("Stream read failed", zap.Error(readErr))
			emit(ctx, chunks, StreamChunk{Err: RequestFailed(readErr)})
			return
		}
	}

done:
	// Если ни один фрейм не разобрался, весь ответ считается нечитаемым
	if attempted > 0 && decoded == 0 {
		emit(ctx, chunks, StreamChunk{Err: DecodingFailed(errors.New("no valid frames in response"))})
		return
	}

	c.logger.Debug("Stream completed",
		zap.Int("frames_attempted", attempted),
		zap.Int("frames_decoded", decoded),
		zap.Bool("done_sentinel", finished),
	)
	emit(ctx, chunks, StreamChunk{Done: true})
}

// ChatCompletion выполняет одиночный нестриминговый запрос и возвращает
// текст ответа. Используется фоновым обогащением памяти.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	body, err := EncodeRequest(c.Model(), messages, false, c.params)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", RequestFailed(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", RequestFailed(err)
	}

	return DecodeCompletion(respBody)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
