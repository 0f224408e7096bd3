package cli

import (
	"context"
	"flag"

	"github.com/apotheca/apotheca/internal/inventory"
	"github.com/apotheca/apotheca/internal/shared"
)

func (a *App) inbound(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	var input inventory.InboundInput
	if err := a.readPayload("inbound", args, &input); err != nil {
		return nil, err
	}
	if err := actor.Require(shared.PermInventoryInbound); err != nil {
		return nil, err
	}
	input.Actor = actor
	return a.Inventory.ReceiveInbound(ctx, input)
}

func (a *App) supply(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	var input inventory.SupplyInput
	if err := a.readPayload("supply", args, &input); err != nil {
		return nil, err
	}
	if err := actor.Require(shared.PermInventorySupply); err != nil {
		return nil, err
	}
	input.Actor = actor
	return a.Inventory.SupplyToFacility(ctx, input)
}

func (a *App) transfer(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	var input inventory.TransferInput
	if err := a.readPayload("transfer", args, &input); err != nil {
		return nil, err
	}
	if err := actor.Require(shared.PermInventoryTransfer); err != nil {
		return nil, err
	}
	// Facility staff can only send stock from their own facility.
	if !actor.IsSuperUser() && actor.HasFacility() && input.SourceFacilityID != actor.FacilityID {
		return nil, usagef("source facility must be %d", actor.FacilityID)
	}
	input.Actor = actor
	return a.Inventory.TransferBetweenFacilities(ctx, input)
}

func (a *App) status(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	if err := exactArgs(args, 2, "status <transfer-id> <status>"); err != nil {
		return nil, err
	}
	status, err := inventory.ParseTransferStatus(args[1])
	if err != nil {
		return nil, err
	}
	if err := actor.Require(shared.PermTransferStatus); err != nil {
		return nil, err
	}
	return a.Inventory.UpdateTransferStatus(ctx, actor, args[0], status)
}

func (a *App) showTransfer(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	if err := exactArgs(args, 1, "show-transfer <transfer-id>"); err != nil {
		return nil, err
	}
	if err := actor.Require(shared.PermInventoryView); err != nil {
		return nil, err
	}
	return a.Inventory.GetTransfer(ctx, actor, args[0])
}

func (a *App) stock(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Inventory == nil {
		return nil, errNotConfigured
	}
	fs := flag.NewFlagSet("stock", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	item := fs.String("item", "", "warehouse lots of one item")
	facility := fs.Int64("facility", 0, "stock held by a facility")
	summary := fs.Bool("summary", false, "warehouse lot totals per item")
	if err := fs.Parse(args); err != nil {
		return nil, usagef("%v", err)
	}
	if err := actor.Require(shared.PermInventoryView); err != nil {
		return nil, err
	}
	switch {
	case *summary:
		return a.Inventory.StockSummary(ctx)
	case *item != "":
		return a.Inventory.WarehouseStock(ctx, *item)
	default:
		return a.Inventory.FacilityStock(ctx, actor, *facility)
	}
}
