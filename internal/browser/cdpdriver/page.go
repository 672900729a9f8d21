package cdpdriver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/browser/dom"
)

const (
	defaultActionTimeout = 30 * time.Second
	tabCloseTimeout      = 5 * time.Second
)

type page struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	opts      browser.LaunchOptions
	logger    *zap.Logger

	network    *networkTracker
	autoAccept atomic.Bool
}

var _ browser.Page = (*page)(nil)

func newPage(tabCtx context.Context, tabCancel context.CancelFunc, opts browser.LaunchOptions, logger *zap.Logger) *page {
	return &page{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		opts:      opts,
		logger:    logger,
		network:   newNetworkTracker(),
	}
}

// run executes actions on the tab, bounded by ctx and by fallback when ctx
// has no deadline of its own.
func (p *page) run(ctx context.Context, fallback time.Duration, actions ...chromedp.Action) error {
	if _, ok := ctx.Deadline(); !ok && fallback > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fallback)
		defer cancel()
	}
	runCtx, cancel := browser.CombineContext(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// init creates the target, subscribes to its events and sizes the viewport.
func (p *page) init(ctx context.Context, vp browser.Viewport) error {
	// Target creation must run on the tab context itself; a derived context
	// would tear the tab down when it is canceled.
	created := make(chan error, 1)
	go func() { created <- chromedp.Run(p.tabCtx) }()
	select {
	case err := <-created:
		if err != nil {
			return fmt.Errorf("failed to create browser tab: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("failed to create browser tab: %w", ctx.Err())
	}

	chromedp.ListenTarget(p.tabCtx, p.onEvent)

	err := p.run(ctx, defaultActionTimeout,
		network.Enable(),
		cdppage.Enable(),
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false),
	)
	if err != nil {
		return fmt.Errorf("failed to prepare page: %w", err)
	}
	return nil
}

func (p *page) onEvent(ev interface{}) {
	p.network.observe(ev)

	if e, ok := ev.(*cdppage.EventJavascriptDialogOpening); ok && p.autoAccept.Load() {
		p.logger.Debug("Accepting dialog.", zap.String("type", e.Type.String()), zap.String("message", e.Message))
		// The listener runs on the target's event loop; commands must not block it.
		go func() {
			if err := chromedp.Run(p.tabCtx, cdppage.HandleJavaScriptDialog(true)); err != nil {
				p.logger.Warn("Failed to accept dialog.", zap.Error(err))
			}
		}()
	}
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.opts.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *page) WaitForNetworkIdle(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && p.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.NavigationTimeout)
		defer cancel()
	}
	if err := p.network.wait(ctx, p.opts.NetworkIdleQuiet); err != nil {
		inflight, _ := p.network.snapshot()
		return fmt.Errorf("failed to wait for network idle (%d requests in flight): %w", inflight, err)
	}
	return nil
}

func (p *page) evaluate(ctx context.Context, fn string, out interface{}, args ...interface{}) error {
	expr, err := dom.Call(fn, args...)
	if err != nil {
		return err
	}
	return p.run(ctx, defaultActionTimeout, chromedp.Evaluate(expr, out))
}

func (p *page) TextState(ctx context.Context, text string) (browser.TextState, error) {
	var state browser.TextState
	if err := p.evaluate(ctx, dom.TextStateFunc, &state, text); err != nil {
		return browser.TextState{}, fmt.Errorf("failed to query text %q: %w", text, err)
	}
	return state, nil
}

func (p *page) RoleCount(ctx context.Context, role, name string) (int, error) {
	var n int
	if err := p.evaluate(ctx, dom.RoleCountFunc, &n, role, name); err != nil {
		return 0, fmt.Errorf("failed to count role %q named %q: %w", role, name, err)
	}
	return n, nil
}

// ClickRole dispatches a DOM click. A dialog raised by the click holds the
// evaluation open until the dialog is handled.
func (p *page) ClickRole(ctx context.Context, role, name string, nth int) error {
	var res dom.ClickResult
	if err := p.evaluate(ctx, dom.ClickRoleFunc, &res, role, name, nth); err != nil {
		return fmt.Errorf("failed to click role %q named %q: %w", role, name, err)
	}
	return res.Err(role, name, nth)
}

func (p *page) AutoAcceptDialogs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.autoAccept.Store(true)
	return nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if p.opts.FullPageScreenshots {
		// Quality 100 makes chromedp encode PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.run(ctx, defaultActionTimeout, action); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// close closes the tab and disposes its browser context.
func (p *page) close() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := chromedp.Cancel(p.tabCtx); err != nil {
			p.logger.Debug("Failed to close tab.", zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(tabCloseTimeout):
		p.tabCancel()
	}
}
