package core

import (
	"context"
	"path/filepath"
	"testing"

	"ticketcore/internal/config"
	"ticketcore/internal/infra/persistence/memory"
	"ticketcore/pkg/domain"
)

func TestOpenStoreMemory(t *testing.T) {
	store, err := OpenStore(context.Background(), config.ServiceConfig{StoreDriver: "memory"}, DefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.ServiceConfig{
		StoreDriver: "sqlite",
		StoreDSN:    filepath.Join(t.TempDir(), "tickets.db"),
	}
	store, err := OpenStore(context.Background(), cfg, DefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := store.CreateTicket(context.Background(), domain.Ticket{Title: "smoke"}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.ServiceConfig{StoreDriver: "etcd"}, DefaultRulesEngine())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDefaultRulesEngineEnforcesTransitions(t *testing.T) {
	engine := DefaultRulesEngine()
	res, err := engine.Evaluate(context.Background(), []domain.Change{{
		Entity: domain.EntityTicket,
		Action: domain.ActionUpdate,
		Before: domain.Ticket{Status: domain.StatusOpen},
		After:  domain.Ticket{Status: domain.StatusClosed},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() {
		t.Fatal("default engine must block illegal transitions")
	}
}
