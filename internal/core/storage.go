package core

import (
	"context"
	"fmt"

	"ticketcore/internal/config"
	"ticketcore/internal/infra/persistence/memory"
	"ticketcore/internal/infra/persistence/postgres"
	"ticketcore/internal/infra/persistence/sqlite"
	"ticketcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// DefaultRulesEngine returns the engine every profile runs: the status
// transition graph is enforced in the store write path, never in handlers.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule())
	return engine
}

// OpenStore selects a backend from the resolved configuration. Both profiles
// call this with the same logic; only the configured values differ.
func OpenStore(ctx context.Context, cfg config.ServiceConfig, engine *domain.RulesEngine) (domain.Store, error) {
	switch StorageDriver(cfg.StoreDriver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.StoreDSN, engine)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.StoreEndpoint(), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StoreDriver)
	}
}
