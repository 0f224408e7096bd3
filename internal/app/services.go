package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/apotheca/apotheca/internal/catalog"
	"github.com/apotheca/apotheca/internal/clients"
	"github.com/apotheca/apotheca/internal/facilities"
	"github.com/apotheca/apotheca/internal/inventory"
	"github.com/apotheca/apotheca/internal/shared"
)

// Services bundles the domain services shared by the binaries.
type Services struct {
	Inventory   *inventory.Service
	Catalog     *catalog.Service
	Clients     *clients.Service
	Facilities  *facilities.Service
	Idempotency *shared.IdempotencyStore
	StockCache  *inventory.StockCache
}

// NewServices wires repositories and services over the shared pool. A nil
// redis client disables the stock summary cache; a nil registerer leaves the
// movement metrics unregistered.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, rdb redis.UniversalClient, reg prometheus.Registerer) *Services {
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	var stockCache *inventory.StockCache
	listeners := inventory.Listeners{}
	if rdb != nil {
		stockCache = inventory.NewStockCache(rdb, cfg.StockCacheTTL, logger)
		listeners = append(listeners, stockCache)
	}
	var movementMetrics *inventory.Metrics
	if reg != nil {
		movementMetrics = inventory.NewMetrics(reg)
	}

	invCfg := inventory.ServiceConfig{
		SkipExpiredLots: cfg.SkipExpiredLots,
		Logger:          logger,
		Metrics:         movementMetrics,
	}
	if stockCache != nil {
		invCfg.Cache = stockCache
	}

	return &Services{
		Inventory:   inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency, invCfg, listeners),
		Catalog:     catalog.NewService(catalog.NewRepository(pool), auditLogger, logger),
		Clients:     clients.NewService(clients.NewRepository(pool), auditLogger, logger),
		Facilities:  facilities.NewService(facilities.NewRepository(pool)),
		Idempotency: idempotency,
		StockCache:  stockCache,
	}
}
