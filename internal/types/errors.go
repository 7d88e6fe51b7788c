package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoChanges     = errors.New("no changes")
	ErrNotOwner      = errors.New("interaction from a user who does not own the session")
	ErrSessionClosed = errors.New("session closed")
)

type LengthMismatchError struct {
	URLs  int
	Names int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("media names length %d does not match urls length %d", e.Names, e.URLs)
}

func IsLengthMismatch(err error) bool {
	var target *LengthMismatchError
	return errors.As(err, &target)
}

type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func IsDownload(err error) bool {
	var target *DownloadError
	return errors.As(err, &target)
}

type NoChannelsError struct{}

func (e *NoChannelsError) Error() string {
	return "no target channels given"
}

func IsNoChannels(err error) bool {
	var target *NoChannelsError
	return errors.As(err, &target)
}

type NoMediaError struct{}

func (e *NoMediaError) Error() string {
	return "no media selected"
}

func IsNoMedia(err error) bool {
	var target *NoMediaError
	return errors.As(err, &target)
}

// ValidationError carries a message meant for the user who triggered it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.After)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// TransportError is a non-2xx response or a broken connection to a remote API.
type TransportError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) RateLimited() bool {
	return e.StatusCode == 429
}

// Fatal reports whether retrying cannot help, such as a rejected credential.
func (e *TransportError) Fatal() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func AsTransport(err error) (*TransportError, bool) {
	var target *TransportError
	ok := errors.As(err, &target)
	return target, ok
}

type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func NewConfigError(key, reason string) *ConfigError {
	return &ConfigError{Key: key, Reason: reason}
}

func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}
