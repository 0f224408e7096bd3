package catalog

import (
	"errors"
	"fmt"

	"github.com/apotheca/apotheca/internal/shared"
)

var (
	// ErrNotFound indicates an unknown item code.
	ErrNotFound = fmt.Errorf("catalog: item %w", shared.ErrNotFound)
	// ErrInvalidItem wraps every item validation failure.
	ErrInvalidItem = errors.New("catalog: invalid item")
	// ErrDuplicate indicates the code or the (generic, brand, strength, form) tuple is taken.
	ErrDuplicate = errors.New("catalog: item already exists")
)
