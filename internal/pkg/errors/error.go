package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict: resource already exists")
	ErrInternal       = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Billing reconciliation errors
var (
	ErrSecretNotConfigured = errors.New("webhook verification secret is not configured")
	ErrSignatureMissing    = errors.New("webhook signature header is missing")
	ErrSignatureInvalid    = errors.New("webhook signature verification failed")
	ErrInvalidPayload      = errors.New("webhook payload could not be parsed")
	ErrGuardUnavailable    = errors.New("processed-event store unavailable")
	ErrDeadLetterNotFound  = errors.New("dead letter not found")
	ErrProviderUnavailable = errors.New("billing provider unavailable")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
