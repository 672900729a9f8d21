// Package roddriver implements browser.Driver with go-rod.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
)

// Driver launches a local Chromium with rod's launcher.
type Driver struct {
	opts   browser.LaunchOptions
	logger *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// New creates a driver. Nothing is started until Launch.
func New(opts browser.LaunchOptions, logger *zap.Logger) *Driver {
	return &Driver{opts: opts, logger: logger.Named("rod")}
}

func (d *Driver) Name() string { return config.DriverRod }

func (d *Driver) launcher() *launcher.Launcher {
	l := launcher.New().Headless(d.opts.Headless)
	if d.opts.ExecPath != "" {
		l = l.Bin(d.opts.ExecPath)
	}
	for _, f := range browser.ParseArgs(append(append([]string{}, browser.ContainerArgs...), d.opts.Args...)) {
		if f.Bool {
			l = l.Set(flags.Flag(f.Name))
		} else {
			l = l.Set(flags.Flag(f.Name), f.Value)
		}
	}
	return l
}

// Launch starts Chromium and connects to its DevTools endpoint.
func (d *Driver) Launch(ctx context.Context) (browser.Session, error) {
	l := d.launcher()

	launchCtx := ctx
	if d.opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, d.opts.LaunchTimeout)
		defer cancel()
	}

	type launched struct {
		url string
		err error
	}
	ch := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		ch <- launched{u, err}
	}()

	var controlURL string
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("failed to launch browser instance: %w", res.err)
		}
		controlURL = res.url
	case <-launchCtx.Done():
		l.Kill()
		return nil, fmt.Errorf("failed to launch browser instance: %w", launchCtx.Err())
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	d.logger.Info("Browser launched.", zap.String("control_url", controlURL), zap.Bool("headless", d.opts.Headless))
	return &session{launcher: l, browser: b, opts: d.opts, logger: d.logger}, nil
}

type session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	opts     browser.LaunchOptions
	logger   *zap.Logger

	mu       sync.Mutex
	pages    []*page
	closed   bool
	closeErr error
}

// NewPage opens a tab in a new incognito browser context.
func (s *session) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Objects created here outlive ctx, so they keep the browser's own context.
	incognito, err := s.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	rp, err := incognito.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	err = rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = rp.Close()
		_ = incognito.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	p := newPage(rp, incognito, s.opts, s.logger)
	s.pages = append(s.pages, p)
	s.logger.Debug("Page opened.", zap.Stringer("viewport", vp))
	return p, nil
}

// Close closes each tab and its incognito context, then the browser, and
// waits for the process to exit.
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

	var errs []error
	if err := s.browser.Context(ctx).Close(); err != nil {
		s.logger.Error("Failed to close browser instance.", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}
	s.launcher.Kill()
	s.launcher.Cleanup()

	s.closeErr = errors.Join(errs...)
	s.logger.Debug("Browser session closed.")
	return s.closeErr
}
