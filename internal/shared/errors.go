package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks the capability for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownRole is returned when parsing an unsupported role name.
	ErrUnknownRole = errors.New("unknown role")
)
