package cli

import (
	"context"
	"flag"

	"github.com/apotheca/apotheca/internal/catalog"
	"github.com/apotheca/apotheca/internal/clients"
	"github.com/apotheca/apotheca/internal/facilities"
	"github.com/apotheca/apotheca/internal/shared"
)

func (a *App) catalogAdd(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Catalog == nil {
		return nil, errNotConfigured
	}
	var input catalog.ItemInput
	if err := a.readPayload("catalog-add", args, &input); err != nil {
		return nil, err
	}
	return a.Catalog.Create(ctx, actor, input)
}

func (a *App) catalogShow(ctx context.Context, _ shared.Actor, args []string) (any, error) {
	if a.Catalog == nil {
		return nil, errNotConfigured
	}
	if err := exactArgs(args, 1, "catalog-show <code>"); err != nil {
		return nil, err
	}
	return a.Catalog.Get(ctx, args[0])
}

func (a *App) clientRegister(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Clients == nil {
		return nil, errNotConfigured
	}
	var client clients.Client
	if err := a.readPayload("client-register", args, &client); err != nil {
		return nil, err
	}
	return a.Clients.Register(ctx, actor, client)
}

func (a *App) clientShow(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Clients == nil {
		return nil, errNotConfigured
	}
	if err := exactArgs(args, 1, "client-show <client-id>"); err != nil {
		return nil, err
	}
	return a.Clients.Get(ctx, actor, args[0])
}

type facilityPage struct {
	Total      int                   `json:"total"`
	Facilities []facilities.Facility `json:"facilities"`
}

func (a *App) facilities(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Facilities == nil {
		return nil, errNotConfigured
	}
	fs := flag.NewFlagSet("facilities", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	active := fs.Bool("active", false, "only active facilities")
	search := fs.String("search", "", "name or city contains")
	if err := fs.Parse(args); err != nil {
		return nil, usagef("%v", err)
	}
	if err := actor.Require(shared.PermFacilitiesView); err != nil {
		return nil, err
	}
	filters := facilities.ListFilters{Search: *search, Limit: 100}
	if *active {
		filters.IsActive = active
	}
	list, total, err := a.Facilities.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	return facilityPage{Total: total, Facilities: list}, nil
}
