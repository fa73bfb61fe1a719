// Command bisync keeps a Shopify store and a spreadsheet database in sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/custodia-labs/bisync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/bisync/internal/adapters/driven/lock"
	"github.com/custodia-labs/bisync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/bisync/internal/adapters/driving/cli"
	"github.com/custodia-labs/bisync/internal/connectors"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetOpener(open)
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}

// open loads the configuration and wires the engine to its stores and state.
func open(ctx context.Context, path string, adjust func(*domain.Config)) (*cli.Services, error) {
	configStore, err := file.NewConfigStore(path)
	if err != nil {
		return nil, err
	}
	cfg, err := configStore.Load()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid options: %w", err)
		}
	}

	mapper, err := services.NewFieldMapper(cfg.FieldMappings)
	if err != nil {
		return nil, err
	}
	mappings, err := configStore.MappingSource()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	passLock, err := lock.New(cfg.State.Dir)
	if err != nil {
		db.Close()
		return nil, err
	}

	factory := connectors.NewFactory()
	source, err := factory.Create(ctx, cfg.Stores.Source)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("source store: %w", err)
	}
	target, err := factory.Create(ctx, cfg.Stores.Target)
	if err != nil {
		source.Close()
		db.Close()
		return nil, fmt.Errorf("target store: %w", err)
	}

	engine := services.NewEngine(*cfg, mapper, source, target, db.SyncStateStore(),
		services.WithPassHistory(db.PassHistoryStore()),
		services.WithPassLock(passLock),
	)

	return &cli.Services{
		Config:   cfg,
		Engine:   engine,
		State:    db.SyncStateStore(),
		History:  db.PassHistoryStore(),
		Mappings: mappings,
		Close: func() error {
			return errors.Join(source.Close(), target.Close(), db.Close())
		},
	}, nil
}
