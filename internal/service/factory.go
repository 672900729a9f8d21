// Package service wires configuration into runnable components.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/artifacts"
	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/browser/cdpdriver"
	"github.com/x402labs/paywall-verify/internal/browser/pwdriver"
	"github.com/x402labs/paywall-verify/internal/browser/roddriver"
	"github.com/x402labs/paywall-verify/internal/config"
	"github.com/x402labs/paywall-verify/internal/store"
	"github.com/x402labs/paywall-verify/internal/verify"
)

// ComponentFactory builds the components for a command. Commands depend on
// this interface so tests can substitute fakes.
type ComponentFactory interface {
	// Create builds the runner and, when configured, the run history.
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
	// CreateHistory builds only the run history. It fails when no database
	// is configured.
	CreateHistory(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// NewDriver returns the browser driver selected by browser.driver.
func NewDriver(cfg config.Interface, logger *zap.Logger) (browser.Driver, error) {
	opts := browser.LaunchOptionsFromConfig(cfg)
	switch cfg.Browser().Driver {
	case config.DriverPlaywright, "":
		return pwdriver.New(opts, logger), nil
	case config.DriverChromedp:
		return cdpdriver.New(opts, logger), nil
	case config.DriverRod:
		return roddriver.New(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser().Driver)
	}
}

func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	driver, err := NewDriver(cfg, logger)
	if err != nil {
		return nil, err
	}

	out, err := artifacts.New(cfg.Output().Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output directory: %w", err)
	}
	logger.Debug("Artifact directory ready.", zap.String("dir", out.Dir()))

	components := &Components{
		Driver: driver,
		Runner: verify.NewRunner(driver, out, verify.OptionsFromConfig(cfg), logger),
		logger: logger,
	}

	// History is best effort; a verification never fails because of it.
	if cfg.Database().URL != "" {
		hist, pool, err := OpenStore(ctx, cfg.Database().URL, logger)
		if err != nil {
			logger.Warn("Run history disabled.", zap.Error(err))
		} else {
			components.History, components.DBPool = hist, pool
		}
	}

	logger.Debug("Components initialized.", zap.String("driver", driver.Name()), zap.Bool("history", components.History != nil))
	return components, nil
}

func (f *concreteFactory) CreateHistory(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg.Database().URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check PAYWALL_VERIFY_DATABASE_URL)")
	}
	hist, pool, err := OpenStore(ctx, cfg.Database().URL, logger)
	if err != nil {
		return nil, err
	}
	return &Components{History: hist, DBPool: pool, logger: logger}, nil
}

// OpenStore connects to PostgreSQL, verifies the connection and makes sure
// the history tables exist. The caller owns the returned pool.
func OpenStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Debug("Run history store initialized.")
	return s, pool, nil
}
