package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/storage/memory"
	"github.com/vladislavdragonenkov/wms/internal/storage/postgres"
)

// Dependencies содержит прикладные зависимости сервиса.
type Dependencies struct {
	Orders      domain.OrderRepository
	Inventory   domain.InventoryRepository
	Shipments   domain.ShipmentReader
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry

	pgStore *postgres.Store
}

// NewDependencies инициализирует хранилище согласно конфигурации.
// Для драйвера memory все репозитории работают поверх одного in-memory Store.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		return &Dependencies{
			Orders:      memory.NewOrderRepository(store),
			Inventory:   memory.NewInventoryRepository(store),
			Shipments:   memory.NewShipmentReader(store),
			Outbox:      memory.NewOutboxRepository(),
			Timeline:    memory.NewTimelineRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
			Logger:      logger,
		}, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return &Dependencies{
			Orders:      postgres.NewOrderRepository(store),
			Inventory:   postgres.NewInventoryRepository(store),
			Shipments:   postgres.NewShipmentReader(store),
			Outbox:      postgres.NewOutboxRepository(store),
			Timeline:    postgres.NewTimelineRepository(store),
			Idempotency: postgres.NewIdempotencyRepository(store),
			Logger:      logger,
			pgStore:     store,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// PingStorage проверяет доступность хранилища (для readiness probe).
func (d *Dependencies) PingStorage(ctx context.Context) error {
	if d.pgStore == nil {
		return nil
	}
	return d.pgStore.Ping(ctx)
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d.pgStore == nil {
		return nil
	}
	return d.pgStore.Close()
}
