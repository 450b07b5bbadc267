package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound = errors.New("integration config not found")
	ErrInvalidConfig  = errors.New("invalid integration config")
	ErrPersistence    = errors.New("persistence failure")
)

// PersistenceError wraps a backend error so callers can match ErrPersistence.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

type ChannelErrorKind string

const (
	KindDeliveryFailed  ChannelErrorKind = "delivery_failed"
	KindHTTPStatus      ChannelErrorKind = "http_status"
	KindChatAPI         ChannelErrorKind = "chat_api_error"
	KindAutomation      ChannelErrorKind = "automation_error"
	KindWriteFailed     ChannelErrorKind = "write_failed"
	KindMalformedConfig ChannelErrorKind = "malformed_config"
	KindTimeout         ChannelErrorKind = "timeout"
	KindCircuitOpen     ChannelErrorKind = "circuit_open"
	KindPanic           ChannelErrorKind = "panic"
)

// ChannelError is any failure inside a single executor. The dispatcher
// converts it into an error event; it never reaches the dispatcher's caller.
type ChannelError struct {
	Channel    ChannelType
	Kind       ChannelErrorKind
	StatusCode int
	Err        error
}

func (e *ChannelError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Channel, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a repeated attempt could succeed.
func (e *ChannelError) Retryable() bool {
	switch e.Kind {
	case KindMalformedConfig, KindCircuitOpen, KindPanic:
		return false
	case KindTimeout:
		return true
	}
	if e.StatusCode != 0 {
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	return true
}

// NewChannelError builds a ChannelError without a status code.
func NewChannelError(channel ChannelType, kind ChannelErrorKind, err error) *ChannelError {
	return &ChannelError{Channel: channel, Kind: kind, Err: err}
}
