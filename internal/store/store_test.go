package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"crm-calls/internal/config"
	"crm-calls/internal/leads"
)

func TestOpen_Memory(t *testing.T) {
	cfg := config.Config{Store: config.StoreConfig{Driver: config.StoreDriverMemory}}
	s, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{Migrate: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.Leads.(*leads.MemoryRepo); !ok {
		t.Fatalf("expected memory lead repo, got %T", s.Leads)
	}
	if s.DB != nil {
		t.Fatalf("memory store has no sql db")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.Config{Store: config.StoreConfig{Driver: "sqlite"}}
	if _, err := Open(context.Background(), cfg, slog.Default(), Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
