package llm

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL      = errors.New("invalid API URL")
	ErrInvalidResponse = errors.New("invalid server response")
	ErrDecodingFailed  = errors.New("failed to decode response")
	ErrUnauthorized    = errors.New("API authorization failed, check API key")
	ErrRateLimited     = errors.New("rate limited by API")
	ErrEmptyMessages   = errors.New("messages cannot be empty")
)

// APIError ошибка API с телом ответа (статусы >= 400, кроме 401/429)
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (status %d)", e.Status)
}

// RequestFailed оборачивает транспортную ошибку (DNS, таймаут, обрыв соединения)
func RequestFailed(cause error) error {
	return fmt.Errorf("request failed: %w", cause)
}

// DecodingFailed оборачивает ошибку разбора ответа
func DecodingFailed(cause error) error {
	return fmt.Errorf("%w: %v", ErrDecodingFailed, cause)
}
