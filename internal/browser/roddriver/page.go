package roddriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/browser/dom"
)

const defaultActionTimeout = 30 * time.Second

type page struct {
	page      *rod.Page
	incognito *rod.Browser
	opts      browser.LaunchOptions
	logger    *zap.Logger

	// Cancels background event subscriptions on close.
	eventsCtx    context.Context
	eventsCancel context.CancelFunc

	mu         sync.Mutex
	idleWait   func()
	idleCancel context.CancelFunc

	dialogsOn atomic.Bool
}

var _ browser.Page = (*page)(nil)

func newPage(rp *rod.Page, incognito *rod.Browser, opts browser.LaunchOptions, logger *zap.Logger) *page {
	eventsCtx, eventsCancel := context.WithCancel(context.Background())
	return &page{
		page:         rp,
		incognito:    incognito,
		opts:         opts,
		logger:       logger,
		eventsCtx:    eventsCtx,
		eventsCancel: eventsCancel,
	}
}

// bounded returns the rod page bound to ctx, with fallback applied when ctx
// has no deadline.
func (p *page) bounded(ctx context.Context, fallback time.Duration) (*rod.Page, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && fallback > 0 {
		ctx, cancel := context.WithTimeout(ctx, fallback)
		return p.page.Context(ctx), cancel
	}
	return p.page.Context(ctx), func() {}
}

// Navigate starts watching requests before loading the URL so that
// WaitForNetworkIdle sees everything the load triggers.
func (p *page) Navigate(ctx context.Context, url string) error {
	idleCtx, idleCancel := context.WithCancel(p.eventsCtx)
	wait := p.page.Context(idleCtx).WaitRequestIdle(p.opts.NetworkIdleQuiet, nil, nil, nil)

	p.mu.Lock()
	if p.idleCancel != nil {
		p.idleCancel()
	}
	p.idleWait, p.idleCancel = wait, idleCancel
	p.mu.Unlock()

	rp, cancel := p.bounded(ctx, p.opts.NavigationTimeout)
	defer cancel()
	if err := rp.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := rp.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for load of %s: %w", url, err)
	}
	return nil
}

func (p *page) WaitForNetworkIdle(ctx context.Context) error {
	p.mu.Lock()
	wait, idleCancel := p.idleWait, p.idleCancel
	p.idleWait, p.idleCancel = nil, nil
	p.mu.Unlock()
	if wait == nil {
		return fmt.Errorf("failed to wait for network idle: no navigation in progress")
	}
	defer idleCancel()

	if _, ok := ctx.Deadline(); !ok && p.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.NavigationTimeout)
		defer cancel()
	}
	// The wait func ends silently when its context is canceled, so the
	// caller's ctx is checked afterwards to tell idle from abort.
	stop := context.AfterFunc(ctx, idleCancel)
	defer stop()

	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to wait for network idle: %w", err)
	}
	return nil
}

func (p *page) eval(ctx context.Context, fn string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	rp, cancel := p.bounded(ctx, defaultActionTimeout)
	defer cancel()
	return rp.Eval(fn, args...)
}

func (p *page) TextState(ctx context.Context, text string) (browser.TextState, error) {
	res, err := p.eval(ctx, dom.TextStateFunc, text)
	if err != nil {
		return browser.TextState{}, fmt.Errorf("failed to query text %q: %w", text, err)
	}
	return browser.TextState{
		Attached: res.Value.Get("attached").Int(),
		Visible:  res.Value.Get("visible").Int(),
	}, nil
}

func (p *page) RoleCount(ctx context.Context, role, name string) (int, error) {
	res, err := p.eval(ctx, dom.RoleCountFunc, role, name)
	if err != nil {
		return 0, fmt.Errorf("failed to count role %q named %q: %w", role, name, err)
	}
	return res.Value.Int(), nil
}

// ClickRole dispatches a DOM click; a dialog it raises keeps the evaluation
// open until the dialog is handled.
func (p *page) ClickRole(ctx context.Context, role, name string, nth int) error {
	res, err := p.eval(ctx, dom.ClickRoleFunc, role, name, nth)
	if err != nil {
		return fmt.Errorf("failed to click role %q named %q: %w", role, name, err)
	}
	return dom.ClickResult{
		Clicked: res.Value.Get("clicked").Bool(),
		Count:   res.Value.Get("count").Int(),
	}.Err(role, name, nth)
}

func (p *page) AutoAcceptDialogs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.dialogsOn.Swap(true) {
		return nil
	}
	logger := p.logger
	target := p.page
	wait := p.page.Context(p.eventsCtx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		logger.Debug("Accepting dialog.", zap.String("type", string(e.Type)), zap.String("message", e.Message))
		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(target); err != nil {
			logger.Warn("Failed to accept dialog.", zap.Error(err))
		}
	})
	go wait()
	return nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	rp, cancel := p.bounded(ctx, defaultActionTimeout)
	defer cancel()
	data, err := rp.Screenshot(p.opts.FullPageScreenshots, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (p *page) close() {
	p.eventsCancel()
	if err := p.page.Close(); err != nil {
		p.logger.Debug("Failed to close tab.", zap.Error(err))
	}
	if err := p.incognito.Close(); err != nil {
		p.logger.Debug("Failed to dispose browser context.", zap.Error(err))
	}
}
