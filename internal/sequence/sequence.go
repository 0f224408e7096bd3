// Package sequence issues the fixed-width numeric identifiers used by catalog
// items, inbound shipments, transfers and clients.
//
// Values come from a counter row per sequence in id_sequences. The increment
// is a single upsert executed inside the caller's transaction: the row lock
// serialises concurrent creators, and a rolled back caller never publishes
// the value it drew.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sequence describes one identifier series.
type Sequence struct {
	Name  string
	Width int
	Start int64
}

// Known sequences.
var (
	CatalogItem = Sequence{Name: "catalog_item", Width: 5, Start: 1}
	Inbound     = Sequence{Name: "inbound", Width: 5, Start: 1}
	Transfer    = Sequence{Name: "transfer", Width: 5, Start: 1}
	Client      = Sequence{Name: "client", Width: 6, Start: 100000}
)

var (
	// ErrExhausted is returned when the next value no longer fits the width.
	ErrExhausted = errors.New("sequence: exhausted")
	// ErrMalformed is returned for a supplied identifier that does not match the sequence format.
	ErrMalformed = errors.New("sequence: malformed identifier")
)

// Format zero-pads value to the sequence width.
func (s Sequence) Format(value int64) (string, error) {
	if value < 0 {
		return "", fmt.Errorf("sequence %s: negative value %d", s.Name, value)
	}
	out := fmt.Sprintf("%0*d", s.Width, value)
	if len(out) > s.Width {
		return "", fmt.Errorf("%w: %s reached %d", ErrExhausted, s.Name, value)
	}
	return out, nil
}

// Validate checks that an explicitly supplied identifier has the sequence shape.
func (s Sequence) Validate(id string) error {
	if len(id) != s.Width {
		return fmt.Errorf("%w: %q must be %d digits", ErrMalformed, id, s.Width)
	}
	if strings.TrimLeft(id, "0123456789") != "" {
		return fmt.Errorf("%w: %q must be numeric", ErrMalformed, id)
	}
	return nil
}

// Parse returns the numeric value of an identifier.
func (s Sequence) Parse(id string) (int64, error) {
	if err := s.Validate(id); err != nil {
		return 0, err
	}
	return strconv.ParseInt(id, 10, 64)
}

// Querier is the part of pgx.Tx the generator needs.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const nextSQL = `
INSERT INTO id_sequences (name, last_value)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET last_value = id_sequences.last_value + 1
RETURNING last_value`

// Next draws the next identifier of seq using q, which should be the
// transaction that will also insert the identified row.
func Next(ctx context.Context, q Querier, seq Sequence) (string, error) {
	var value int64
	if err := q.QueryRow(ctx, nextSQL, seq.Name, seq.Start).Scan(&value); err != nil {
		return "", fmt.Errorf("sequence %s: next: %w", seq.Name, err)
	}
	return seq.Format(value)
}

const bumpSQL = `
INSERT INTO id_sequences (name, last_value)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET last_value = GREATEST(id_sequences.last_value, EXCLUDED.last_value)`

// Observe records an explicitly supplied identifier so that generated values
// never collide with it.
func Observe(ctx context.Context, q Querier, seq Sequence, id string) error {
	value, err := seq.Parse(id)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, bumpSQL, seq.Name, value); err != nil {
		return fmt.Errorf("sequence %s: observe: %w", seq.Name, err)
	}
	return nil
}
