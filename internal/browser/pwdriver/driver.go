// Package pwdriver implements browser.Driver on top of playwright-go.
package pwdriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
)

const installTimeout = 5 * time.Minute

// Driver launches Chromium through a Playwright driver process.
type Driver struct {
	opts   browser.LaunchOptions
	logger *zap.Logger

	// Overridable in tests.
	install func(...*playwright.RunOptions) error
	run     func(...*playwright.RunOptions) (*playwright.Playwright, error)
}

var _ browser.Driver = (*Driver)(nil)

// New creates a driver. Nothing is started until Launch.
func New(opts browser.LaunchOptions, logger *zap.Logger) *Driver {
	return &Driver{
		opts:    opts,
		logger:  logger.Named("playwright"),
		install: playwright.Install,
		run:     playwright.Run,
	}
}

func (d *Driver) Name() string { return config.DriverPlaywright }

// Launch optionally installs Chromium, starts the Playwright driver and
// launches one browser.
func (d *Driver) Launch(ctx context.Context) (browser.Session, error) {
	if d.opts.Install {
		if err := d.ensureInstallation(ctx); err != nil {
			return nil, err
		}
	}

	pw, err := d.run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	b, err := pw.Chromium.Launch(d.launchOptions())
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}

	d.logger.Info("Browser launched.", zap.String("version", b.Version()), zap.Bool("headless", d.opts.Headless))
	return &session{pw: pw, browser: b, opts: d.opts, logger: d.logger}, nil
}

func (d *Driver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	// Install blocks without a context, so it races the deadline.
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (d *Driver) launchOptions() playwright.BrowserTypeLaunchOptions {
	args := append([]string{}, browser.ContainerArgs...)
	args = append(args, d.opts.Args...)

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
		Args:     args,
	}
	if d.opts.LaunchTimeout > 0 {
		opts.Timeout = playwright.Float(float64(d.opts.LaunchTimeout.Milliseconds()))
	}
	if d.opts.ExecPath != "" {
		opts.ExecutablePath = playwright.String(d.opts.ExecPath)
	}
	return opts
}

// session owns the browser and every context created from it.
type session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    browser.LaunchOptions
	logger  *zap.Logger

	mu       sync.Mutex
	contexts []playwright.BrowserContext
	closed   bool
	closeErr error
}

func (s *session) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := s.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: vp.Width, Height: vp.Height},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	s.contexts = append(s.contexts, bctx)

	p, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.logger.Debug("Page opened.", zap.Stringer("viewport", vp))
	return &page{page: p, opts: s.opts, logger: s.logger}, nil
}

// Close shuts the contexts, the browser and the driver process, in that
// order. Later calls return the first result.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true

	for _, c := range s.contexts {
		if err := c.Close(); err != nil {
			s.logger.Debug("Failed to close browser context.", zap.Error(err))
		}
	}
	s.contexts = nil

	if err := s.browser.Close(); err != nil {
		s.logger.Error("Failed to close browser instance.", zap.Error(err))
		s.closeErr = fmt.Errorf("failed to close browser: %w", err)
	}
	if err := s.pw.Stop(); err != nil {
		s.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
		if s.closeErr == nil {
			s.closeErr = fmt.Errorf("failed to stop playwright driver: %w", err)
		}
	}
	s.logger.Debug("Browser session closed.")
	return s.closeErr
}
