package pwdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
)

// Playwright's own default for actions and waits.
const defaultActionTimeout = 30 * time.Second

type page struct {
	page   playwright.Page
	opts   browser.LaunchOptions
	logger *zap.Logger
}

var _ browser.Page = (*page)(nil)

// timeoutMS converts the remaining time on ctx into Playwright's millisecond
// timeout, falling back when ctx has no deadline.
func timeoutMS(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d || d <= 0 {
			d = remaining
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutMS(ctx, p.opts.NavigationTimeout),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitForNetworkIdle uses Playwright's networkidle load state: no network
// connections for at least 500ms.
func (p *page) WaitForNetworkIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMS(ctx, p.opts.NavigationTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to wait for network idle: %w", err)
	}
	return nil
}

func (p *page) TextState(ctx context.Context, text string) (browser.TextState, error) {
	if err := ctx.Err(); err != nil {
		return browser.TextState{}, err
	}
	matches, err := p.page.GetByText(text).All()
	if err != nil {
		return browser.TextState{}, fmt.Errorf("failed to query text %q: %w", text, err)
	}
	state := browser.TextState{Attached: len(matches)}
	for _, m := range matches {
		visible, err := m.IsVisible()
		if err != nil {
			return browser.TextState{}, fmt.Errorf("failed to check visibility of %q: %w", text, err)
		}
		if visible {
			state.Visible++
		}
	}
	return state, nil
}

func (p *page) roleLocator(role, name string) playwright.Locator {
	return p.page.GetByRole(playwright.AriaRole(role), playwright.PageGetByRoleOptions{Name: name})
}

func (p *page) RoleCount(ctx context.Context, role, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.roleLocator(role, name).Count()
	if err != nil {
		return 0, fmt.Errorf("failed to count role %q named %q: %w", role, name, err)
	}
	return n, nil
}

func (p *page) ClickRole(ctx context.Context, role, name string, nth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locator := p.roleLocator(role, name)
	n, err := locator.Count()
	if err != nil {
		return fmt.Errorf("failed to count role %q named %q: %w", role, name, err)
	}
	if nth < 0 || nth >= n {
		return fmt.Errorf("no element #%d with role %q and name %q (found %d)", nth, role, name, n)
	}
	err = locator.Nth(nth).Click(playwright.LocatorClickOptions{
		Timeout: timeoutMS(ctx, defaultActionTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to click role %q named %q: %w", role, name, err)
	}
	return nil
}

func (p *page) AutoAcceptDialogs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := p.logger
	p.page.OnDialog(func(d playwright.Dialog) {
		logger.Debug("Accepting dialog.", zap.String("type", d.Type()), zap.String("message", d.Message()))
		if err := d.Accept(); err != nil {
			logger.Warn("Failed to accept dialog.", zap.Error(err))
		}
	})
	return nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:     playwright.ScreenshotTypePng,
		FullPage: playwright.Bool(p.opts.FullPageScreenshots),
		Timeout:  timeoutMS(ctx, defaultActionTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}
