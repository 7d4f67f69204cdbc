// Package store opens the lead and audit repositories selected by
// STORE_DRIVER so every binary wires persistence the same way.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-calls/internal/audit"
	"crm-calls/internal/config"
	"crm-calls/internal/leads"
	leadsmongo "crm-calls/internal/leads/mongo"
	leadspg "crm-calls/internal/leads/postgres"
	"crm-calls/internal/migrations"
	"crm-calls/pkg/utils"

	"go.mongodb.org/mongo-driver/mongo"
)

type Store struct {
	Leads leads.Repository
	Audit audit.Repository

	// DB is set for the postgres driver only.
	DB *sql.DB

	mongo *mongo.Client
}

type Options struct {
	// Migrate applies pending migrations after connecting (postgres only).
	Migrate bool
	// AppName is reported to Postgres as application_name.
	AppName string
}

func Open(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{
			ApplicationName:  opts.AppName,
			StatementTimeout: 30 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("store: postgres: %w", err)
		}
		if opts.Migrate {
			applied, err := migrations.Up(ctx, db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			for _, m := range applied {
				log.Info("migration applied", "version", m.Version, "name", m.Name)
			}
		}
		return &Store{Leads: leadspg.New(db), Audit: audit.NewPostgresRepo(db), DB: db}, nil

	case config.StoreDriverMongo:
		client, err := leadsmongo.Open(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		repo := leadsmongo.New(client.Database(cfg.Mongo.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Warn("audit events are kept in memory with STORE_DRIVER=mongo")
		return &Store{Leads: repo, Audit: audit.NewMemoryRepo(), mongo: client}, nil

	case config.StoreDriverMemory:
		return &Store{Leads: leads.NewMemoryRepo(), Audit: audit.NewMemoryRepo()}, nil
	}
	return nil, fmt.Errorf("store: unknown driver %q", cfg.Store.Driver)
}

// Ping checks the backing database, if any.
func (s *Store) Ping(ctx context.Context) error {
	switch {
	case s.DB != nil:
		return utils.HealthCheck(ctx, s.DB, 2*time.Second)
	case s.mongo != nil:
		return s.mongo.Ping(ctx, nil)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if s.mongo != nil {
		errs = append(errs, s.mongo.Disconnect(ctx))
	}
	return errors.Join(errs...)
}
