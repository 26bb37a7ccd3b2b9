package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds surfaced by the pipeline. Callers classify with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrInvalidSplitTotal always travels together with ErrValidation.
	ErrInvalidSplitTotal = errors.New("invalid split total")
)

// Kind names an error class for reporting.
type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
)

// KindOf classifies err. Errors outside the taxonomy (including context
// cancellation) are reported as infrastructure failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInfrastructure
	}
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Infrastructure wraps a storage or transport failure.
func Infrastructure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}

// InvalidSplitTotal reports a split sum that differs from the transaction amount.
func InvalidSplitTotal(amount, total decimal.Decimal) error {
	return fmt.Errorf("%w: %w: splits sum to %s, transaction amount is %s",
		ErrValidation, ErrInvalidSplitTotal, total.String(), amount.String())
}
