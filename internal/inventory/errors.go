package inventory

import (
	"errors"
	"fmt"
)

// Kind classifies movement failures.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindSameFacility      Kind = "same_facility"
	KindForbidden         Kind = "forbidden"
)

// Error is returned by every movement operation for domain failures.
// Available and Requested are set for insufficient stock.
type Error struct {
	Kind      Kind
	Message   string
	ItemCode  string
	Available int64
	Requested int64
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "inventory: " + string(e.Kind)
	}
	return "inventory: " + e.Message
}

// Is matches sentinels by kind, so errors.Is(err, ErrInsufficientStock)
// holds for every insufficient stock error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrSameFacility      = &Error{Kind: KindSameFacility}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// AsError extracts the domain error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func itemNotFound(code string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("item %s not found", code), ItemCode: code}
}

func batchConflict(code, batch string, existing, got string) *Error {
	return &Error{
		Kind:     KindConflict,
		Message:  fmt.Sprintf("batch %s of item %s must have expiry date %s, got %s", batch, code, existing, got),
		ItemCode: code,
	}
}

func insufficient(code string, available, requested int64, source int64) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock of item %s at %s: available %d, requested %d", code, facilityLabel(source), available, requested),
		ItemCode:  code,
		Available: available,
		Requested: requested,
	}
}

func sameFacility(id int64) *Error {
	return &Error{Kind: KindSameFacility, Message: fmt.Sprintf("source and destination are both facility %d", id)}
}

// errShortStock is returned by guarded decrements that matched no row.
var errShortStock = errors.New("inventory: guarded decrement matched no row")
