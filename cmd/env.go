package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/relaycrm/import-cli/internal/client"
	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/rowsource"
	"github.com/relaycrm/import-cli/internal/store"
)

// importEnv holds the initialized stores needed by the import, batch,
// runs, policy, and serve commands. Pool is nil on the sqlite driver.
type importEnv struct {
	Clients client.Store
	Runs    store.Store
	Pool    db.Pool

	closeFn func()
}

// Close releases the underlying database handle.
func (e *importEnv) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// initEnv validates the config for the given mode, opens the configured
// database, and migrates both stores. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*importEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &importEnv{}

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		env.Clients = client.NewPostgresStore(pool)
		env.Runs = store.NewPostgres(pool)
		env.Pool = pool
		env.closeFn = pool.Close
	case "sqlite":
		handle, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		env.Clients = client.NewSQLiteStore(handle)
		env.Runs = store.NewSQLite(handle)
		env.closeFn = func() { _ = handle.Close() }
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := env.Clients.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate client store")
	}
	if err := env.Runs.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate run store")
	}

	return env, nil
}

// fetchOptions builds rowsource fetch options from the config.
func fetchOptions() rowsource.FetchOptions {
	return rowsource.FetchOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		RateLimit:  rate.Limit(cfg.Fetch.RateLimit),
		Burst:      cfg.Fetch.Burst,
	}
}
