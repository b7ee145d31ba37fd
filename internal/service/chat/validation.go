package chat

import (
	"errors"
	"strings"
)

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrTurnInProgress = errors.New("a turn is already in progress")
	ErrNoSession      = errors.New("no valid session")
)

// MaxMessageLength максимальная длина сообщения пользователя
const MaxMessageLength = 10000

func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
