package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTemporary           = errors.New("temporary failure")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrNoConfidentMatch    = errors.New("no confident match")
	ErrAmbiguousScope      = errors.New("ambiguous scope")
	ErrTimeout             = errors.New("timeout")
	ErrAccessViolation     = errors.New("access violation")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
