package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/resilience"
	"github.com/sells-group/visitor-cli/internal/store"
)

const defaultSQLitePath = "visitor.db"

// initStore opens the configured store, retrying transient connection
// failures, and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 5
		retryCfg.ShouldRetry = func(error) bool { return true }
		retryCfg.OnRetry = resilience.RetryLogger("postgres", "connect")
		st, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*store.PostgresStore, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
		})
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		zap.L().Debug("postgres store connected")
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
