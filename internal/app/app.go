package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bgunnarsson/crudgate/internal/config"
	"github.com/bgunnarsson/crudgate/internal/crud"
	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/db/mssql"
	"github.com/bgunnarsson/crudgate/internal/db/mysql"
	"github.com/bgunnarsson/crudgate/internal/db/postgres"
	"github.com/bgunnarsson/crudgate/internal/fieldhash"
	"github.com/bgunnarsson/crudgate/internal/httpapi"
	"github.com/bgunnarsson/crudgate/internal/policy"
)

// central factory
func OpenRepository(p config.Provider, opts db.Options) (db.Repository, error) {
	dsn := p.ConnectionString()

	switch p.Dialect {
	case db.DialectSQLServer:
		r, err := mssql.Open(dsn, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	case db.DialectPostgres:
		r, err := postgres.Open(dsn, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	case db.DialectMySQL:
		r, err := mysql.Open(dsn, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported database provider %q", p.Dialect)
	}
}

// App is a configured repository, policy and service.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	repo    db.Repository
	policy  *policy.Policy
	service *crud.Service
}

// New opens the configured database and loads the table policy.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	p, err := cfg.Provider()
	if err != nil {
		return nil, err
	}

	repo, err := OpenRepository(p, dbOptions(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.Dialect, err)
	}
	return NewWithRepository(cfg, logger, repo), nil
}

// NewWithRepository is New over an already opened repository.
func NewWithRepository(cfg *config.Config, logger *slog.Logger, repo db.Repository) *App {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pol := policy.Load(cfg.PolicyFile, logger)
	return &App{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		policy:  pol,
		service: crud.New(repo, pol, hasher(cfg), logger),
	}
}

func dbOptions(cfg *config.Config, logger *slog.Logger) db.Options {
	return db.Options{
		Logger:       logger,
		Hasher:       hasher(cfg),
		MaxOpenConns: cfg.MaxOpenConns,
	}
}

func hasher(cfg *config.Config) fieldhash.Hasher {
	return fieldhash.Bcrypt{Cost: cfg.HashCost}
}

func (a *App) Service() *crud.Service  { return a.service }
func (a *App) Policy() *policy.Policy { return a.policy }

func (a *App) Close() error { return a.repo.Close() }

// Serve runs the HTTP server until ctx is cancelled. The policy file is
// reloaded on SIGHUP and, when watch_policy is set, whenever it changes.
func (a *App) Serve(ctx context.Context) error {
	srv := httpapi.NewServer(httpapi.Config{
		Service:      a.service,
		Listen:       a.cfg.Listen,
		QueryTimeout: a.cfg.QueryTimeout,
		Logger:       a.logger,
	})

	eg, egctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return srv.Serve(egctx) })

	if a.cfg.WatchPolicy {
		eg.Go(func() error {
			if err := a.policy.Watch(egctx); err != nil {
				// Keep serving with the policy already loaded.
				a.logger.Error("policy watcher stopped", "error", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-egctx.Done():
				return nil
			case <-hup:
				a.logger.Info("SIGHUP received, reloading table policy")
				a.policy.Reload()
			}
		}
	})

	return eg.Wait()
}
