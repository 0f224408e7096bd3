package inventory

import (
	"context"
	"errors"
	"time"
)

// MovementKind names a committed movement.
type MovementKind string

const (
	MovementInbound  MovementKind = "INBOUND"
	MovementSupply   MovementKind = "SUPPLY"
	MovementTransfer MovementKind = "TRANSFER"
)

// MovementEvent describes a committed movement.
type MovementEvent struct {
	Kind                  MovementKind
	ID                    string
	SourceFacilityID      int64
	DestinationFacilityID int64
	Lines                 []EventLine
	PostedAt              time.Time
}

// EventLine is the quantity of one item moved.
type EventLine struct {
	ItemCode string
	Quantity int64
}

// Units sums the quantities of all lines.
func (e MovementEvent) Units() int64 {
	var total int64
	for _, line := range e.Lines {
		total += line.Quantity
	}
	return total
}

// TouchesWarehouse reports whether warehouse lots changed.
func (e MovementEvent) TouchesWarehouse() bool {
	return e.Kind == MovementInbound || e.Kind == MovementSupply
}

// MovementListener is notified after a movement commits.
type MovementListener interface {
	MovementPosted(ctx context.Context, evt MovementEvent) error
}

// ListenerFunc adapts a function to MovementListener.
type ListenerFunc func(ctx context.Context, evt MovementEvent) error

// MovementPosted calls f.
func (f ListenerFunc) MovementPosted(ctx context.Context, evt MovementEvent) error {
	return f(ctx, evt)
}

// Listeners fans an event out to every listener and joins their errors.
type Listeners []MovementListener

// MovementPosted notifies each listener in order.
func (ls Listeners) MovementPosted(ctx context.Context, evt MovementEvent) error {
	var errs []error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.MovementPosted(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func transferEvent(kind MovementKind, t Transfer) MovementEvent {
	evt := MovementEvent{
		Kind:                  kind,
		ID:                    t.ID,
		SourceFacilityID:      t.SourceFacilityID,
		DestinationFacilityID: t.DestinationFacilityID,
		PostedAt:              t.TransferredAt,
	}
	for _, line := range t.Lines {
		evt.Lines = append(evt.Lines, EventLine{ItemCode: line.ItemCode, Quantity: line.Quantity})
	}
	return evt
}
