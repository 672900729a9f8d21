// Package cdpdriver implements browser.Driver directly over the Chrome
// DevTools Protocol with chromedp.
package cdpdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
)

// Driver starts a local Chromium through chromedp's exec allocator.
type Driver struct {
	opts   browser.LaunchOptions
	logger *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// New creates a driver. Nothing is started until Launch.
func New(opts browser.LaunchOptions, logger *zap.Logger) *Driver {
	return &Driver{opts: opts, logger: logger.Named("chromedp")}
}

func (d *Driver) Name() string { return config.DriverChromedp }

// allocatorOptions translates the launch options into chromedp flags.
func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
	)
	// DefaultExecAllocatorOptions is headless; later flags win.
	if !d.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if d.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.opts.ExecPath))
	}
	for _, f := range browser.ParseArgs(d.opts.Args) {
		if f.Bool {
			opts = append(opts, chromedp.Flag(f.Name, true))
		} else {
			opts = append(opts, chromedp.Flag(f.Name, f.Value))
		}
	}
	return opts
}

// Launch starts the browser process and waits for its first target. The
// browser lives until Session.Close, independent of ctx.
func (d *Driver) Launch(ctx context.Context) (browser.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), d.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Debugf),
	)
	teardown := func() {
		browserCancel()
		allocCancel()
	}

	launchCtx := ctx
	if d.opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, d.opts.LaunchTimeout)
		defer cancel()
	}

	// The first Run starts the process; it only watches browserCtx, so the
	// launch deadline is raced separately.
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()

	select {
	case err := <-errCh:
		if err != nil {
			teardown()
			return nil, fmt.Errorf("failed to launch browser instance: %w", err)
		}
	case <-launchCtx.Done():
		teardown()
		return nil, fmt.Errorf("failed to launch browser instance: %w", launchCtx.Err())
	}

	d.logger.Info("Browser launched.", zap.Bool("headless", d.opts.Headless))
	return &session{
		browserCtx: browserCtx,
		teardown:   teardown,
		opts:       d.opts,
		logger:     d.logger,
	}, nil
}

type session struct {
	browserCtx context.Context
	teardown   func()
	opts       browser.LaunchOptions
	logger     *zap.Logger

	mu       sync.Mutex
	pages    []*page
	closed   bool
	closeErr error
}

// NewPage opens a tab in a fresh browser context so cookies and storage are
// not shared between pages.
func (s *session) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	p := newPage(tabCtx, tabCancel, s.opts, s.logger)
	if err := p.init(ctx, vp); err != nil {
		tabCancel()
		return nil, err
	}
	s.pages = append(s.pages, p)
	s.logger.Debug("Page opened.", zap.Stringer("viewport", vp))
	return p, nil
}

// Close cancels every tab, which disposes its browser context, then stops
// the browser process.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true

	for _, p := range s.pages {
		p.close()
	}
	s.pages = nil

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.teardown()
	if err != nil {
		s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		return s.closeErr
	}
	s.logger.Debug("Browser session closed.")
	return nil
}
