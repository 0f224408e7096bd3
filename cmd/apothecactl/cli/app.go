// Package cli implements the apothecactl commands. Every command reads its
// payload as JSON, checks the actor's capability and calls the services.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apotheca/apotheca/internal/catalog"
	"github.com/apotheca/apotheca/internal/clients"
	"github.com/apotheca/apotheca/internal/facilities"
	"github.com/apotheca/apotheca/internal/inventory"
	"github.com/apotheca/apotheca/internal/shared"
	"github.com/apotheca/apotheca/jobs"
)

// Exit codes reported by Run.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitValidation   = 3
	ExitNotFound     = 4
	ExitConflict     = 5
	ExitInsufficient = 6
	ExitForbidden    = 7
)

// Inventory is the movement engine as seen by the CLI.
type Inventory interface {
	ReceiveInbound(ctx context.Context, input inventory.InboundInput) (inventory.Inbound, error)
	SupplyToFacility(ctx context.Context, input inventory.SupplyInput) (inventory.Transfer, error)
	TransferBetweenFacilities(ctx context.Context, input inventory.TransferInput) (inventory.Transfer, error)
	UpdateTransferStatus(ctx context.Context, actor shared.Actor, transferID string, status inventory.TransferStatus) (inventory.Transfer, error)
	GetTransfer(ctx context.Context, actor shared.Actor, id string) (inventory.Transfer, error)
	WarehouseStock(ctx context.Context, itemCode string) ([]inventory.WarehouseLot, error)
	FacilityStock(ctx context.Context, actor shared.Actor, facilityID int64) ([]inventory.FacilityStock, error)
	StockSummary(ctx context.Context) ([]inventory.StockSummaryRow, error)
}

// Catalog manages catalog items.
type Catalog interface {
	Create(ctx context.Context, actor shared.Actor, input catalog.ItemInput) (catalog.Item, error)
	Get(ctx context.Context, code string) (catalog.Item, error)
}

// Clients registers clients.
type Clients interface {
	Register(ctx context.Context, actor shared.Actor, c clients.Client) (clients.Client, error)
	Get(ctx context.Context, actor shared.Actor, id string) (clients.Client, error)
}

// Facilities lists facilities.
type Facilities interface {
	List(ctx context.Context, filters facilities.ListFilters) ([]facilities.Facility, int, error)
}

// Jobs triggers and inspects background jobs.
type Jobs interface {
	Trigger(ctx context.Context, name string) (string, error)
	InspectQueue(ctx context.Context) (jobs.QueueStatus, error)
}

// App dispatches commands. Nil services make their commands fail with
// ExitFailure.
type App struct {
	Inventory  Inventory
	Catalog    Catalog
	Clients    Clients
	Facilities Facilities
	Jobs       Jobs

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, actor shared.Actor, args []string) (any, error)
}

// Usage lists the supported commands.
func (a *App) Usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: apothecactl [--user N --role ROLE --facility N] <command> [args]")
	_, _ = fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		_, _ = fmt.Fprintf(w, "  %-18s %s\n", name, a.commands()[name].usage)
	}
}

var commandOrder = []string{
	"inbound", "supply", "transfer", "status", "show-transfer", "stock",
	"catalog-add", "catalog-show", "client-register", "client-show",
	"facilities", "jobs",
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"inbound":         {"[-f payload.json] receive a supplier delivery into the warehouse", a.inbound},
		"supply":          {"[-f payload.json] supply a facility from the warehouse", a.supply},
		"transfer":        {"[-f payload.json] transfer stock between two facilities", a.transfer},
		"status":          {"<transfer-id> <status> advance a transfer", a.status},
		"show-transfer":   {"<transfer-id> print a transfer with its allocations", a.showTransfer},
		"stock":           {"[--item CODE | --facility N | --summary] print stock; --summary covers warehouse lots only", a.stock},
		"catalog-add":     {"[-f payload.json] create a catalog item", a.catalogAdd},
		"catalog-show":    {"<code> print a catalog item", a.catalogShow},
		"client-register": {"[-f payload.json] register a client", a.clientRegister},
		"client-show":     {"<client-id> print a client", a.clientShow},
		"facilities":      {"[--active] list facilities", a.facilities},
		"jobs":            {"trigger <task> | inspect", a.jobs},
	}
}

// Run executes args for actor and returns the process exit code.
func (a *App) Run(ctx context.Context, actor shared.Actor, args []string) int {
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if len(args) == 0 {
		a.Usage(a.Stderr)
		return ExitUsage
	}
	cmd, ok := a.commands()[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(a.Stderr, "unknown command %q\n", args[0])
		a.Usage(a.Stderr)
		return ExitUsage
	}
	result, err := cmd.run(ctx, actor, args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(a.Stderr, "%s: %v\n", args[0], err)
		return ExitCode(err)
	}
	enc := json.NewEncoder(a.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		_, _ = fmt.Fprintf(a.Stderr, "%s: encode json: %v\n", args[0], err)
		return ExitFailure
	}
	return ExitOK
}

// usageError marks malformed command lines.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

var errNotConfigured = errors.New("service not configured")

// ExitCode maps a command error onto an exit code.
func ExitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case errors.Is(err, inventory.ErrForbidden), errors.Is(err, shared.ErrForbidden):
		return ExitForbidden
	case errors.Is(err, inventory.ErrInsufficientStock):
		return ExitInsufficient
	case errors.Is(err, inventory.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, inventory.ErrConflict),
		errors.Is(err, shared.ErrIdempotencyConflict),
		errors.Is(err, catalog.ErrDuplicate):
		return ExitConflict
	case errors.Is(err, inventory.ErrValidation),
		errors.Is(err, inventory.ErrSameFacility),
		errors.Is(err, catalog.ErrInvalidItem),
		errors.Is(err, clients.ErrValidation),
		errors.Is(err, facilities.ErrValidation):
		return ExitValidation
	}
	return ExitFailure
}

// readPayload decodes the JSON document named by -f, or stdin when -f is
// empty or "-".
func (a *App) readPayload(name string, args []string, target any) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	file := fs.String("f", "-", "payload file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() > 0 {
		return usagef("unexpected arguments %s", strings.Join(fs.Args(), " "))
	}
	var r io.Reader = a.Stdin
	if *file != "-" && *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return usagef("open payload: %v", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, inventory.ErrValidation) {
			return fmt.Errorf("decode payload: %w", err)
		}
		return usagef("decode payload: %v", err)
	}
	return nil
}

func exactArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return usagef("usage: %s", usage)
	}
	return nil
}
