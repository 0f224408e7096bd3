package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/apotheca/apotheca/cmd/apothecactl/cli"
	"github.com/apotheca/apotheca/internal/app"
	"github.com/apotheca/apotheca/internal/platform/cache"
	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/shared"
)

func main() {
	os.Exit(run())
}

func run() int {
	userID := flag.Int64("user", 0, "id of the acting user")
	role := flag.String("role", "", "role of the acting user: superuser, admin, warehouse or staff")
	facilityID := flag.Int64("facility", 0, "facility the acting user belongs to")
	flag.Parse()

	actorRole, err := shared.ParseRole(*role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitUsage
	}
	actor := shared.Actor{UserID: *userID, Role: actorRole, FacilityID: *facilityID}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return cli.ExitFailure
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitFailure
	}
	defer pool.Close()

	// The stock cache is optional for one-shot commands.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
	} else {
		defer redisClient.Close()
	}

	var services *app.Services
	if redisClient != nil {
		services = app.NewServices(cfg, logger, pool, redisClient, nil)
	} else {
		services = app.NewServices(cfg, logger, pool, nil, nil)
	}

	command := &cli.App{
		Inventory:  services.Inventory,
		Catalog:    services.Catalog,
		Clients:    services.Clients,
		Facilities: services.Facilities,
	}
	if redisClient != nil {
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Warn("jobs cli", slog.Any("error", err))
		} else {
			defer jobsCLI.Close()
			command.Jobs = jobsCLI
		}
	}
	return command.Run(ctx, actor, flag.Args())
}
