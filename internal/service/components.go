package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/store"
	"github.com/x402labs/paywall-verify/internal/verify"
)

// Runner executes one verification.
type Runner interface {
	Run(ctx context.Context) (*verify.Report, error)
}

// History records and lists past runs.
type History interface {
	SaveRun(ctx context.Context, report *verify.Report) error
	RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Components holds everything a command needs for one invocation and
// releases it in Shutdown.
type Components struct {
	Driver browser.Driver
	Runner Runner
	// History is nil when no database is configured or it could not be reached.
	History History
	DBPool  *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown closes the database pool. Browser sessions are owned and closed
// by the runner.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.DBPool != nil {
		done := make(chan struct{})
		go func() {
			c.DBPool.Close()
			close(done)
		}()
		if !timedWait(done, 10*time.Second) {
			logger.Warn("Timed out closing database connection pool.")
			return
		}
		c.DBPool = nil
		logger.Debug("Database connection pool closed.")
	}
}

// timedWait reports whether done closed before timeout.
func timedWait(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
