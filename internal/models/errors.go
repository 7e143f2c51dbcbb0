package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipelines. Callers match them with errors.Is.
var (
	ErrConfig       = errors.New("config error")
	ErrExtraction   = errors.New("extraction error")
	ErrEmbedding    = errors.New("embedding error")
	ErrStore        = errors.New("store error")
	ErrGeneration   = errors.New("generation error")
	ErrInvalidInput = errors.New("invalid input")
)

// Wrap tags err with kind. The result matches kind and still unwraps to err.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// Errorf creates a new error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
