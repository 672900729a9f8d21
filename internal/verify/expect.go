package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/x402labs/paywall-verify/internal/browser"
)

const defaultPollInterval = 100 * time.Millisecond

// observer inspects the page once. It reports whether the expectation holds and
// a description of what it saw.
type observer func(ctx context.Context) (ok bool, observed string, err error)

// poll runs p until it holds or timeout elapses. Observation errors are retried
// like an unmet condition. A timeout after at least one clean observation is
// an assertion failure; a timeout with only errors is not.
func poll(ctx context.Context, timeout, interval time.Duration, what string, p observer) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastObserved = "nothing"
		observedOnce bool
		lastErr      error
	)
loop:
	for {
		ok, observed, err := p(pollCtx)
		switch {
		case err == nil && ok:
			return nil
		case err == nil:
			lastObserved, observedOnce, lastErr = observed, true, nil
		case pollCtx.Err() == nil:
			// An error caused by the poll deadline itself says nothing about the page.
			lastErr = err
		}

		select {
		case <-pollCtx.Done():
			break loop
		case <-ticker.C:
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to check %s: %w", what, err)
	}
	if !observedOnce && lastErr != nil {
		return fmt.Errorf("failed to check %s: %w", what, lastErr)
	}
	return fmt.Errorf("%w: expected %s within %s, last observed %s", ErrAssertionFailed, what, timeout, lastObserved)
}

func describeText(s browser.TextState) string {
	return fmt.Sprintf("%d attached, %d visible", s.Attached, s.Visible)
}

func (r *Runner) expectVisible(ctx context.Context, pg browser.Page, text string) error {
	return poll(ctx, r.opts.AssertionTimeout, r.opts.PollInterval, fmt.Sprintf("text %q to be visible", text),
		func(ctx context.Context) (bool, string, error) {
			s, err := pg.TextState(ctx, text)
			if err != nil {
				return false, "", err
			}
			return s.Visible > 0, describeText(s), nil
		})
}

func (r *Runner) expectHidden(ctx context.Context, pg browser.Page, text string) error {
	return poll(ctx, r.opts.AssertionTimeout, r.opts.PollInterval, fmt.Sprintf("text %q not to be visible", text),
		func(ctx context.Context) (bool, string, error) {
			s, err := pg.TextState(ctx, text)
			if err != nil {
				return false, "", err
			}
			return s.Visible == 0, describeText(s), nil
		})
}

func (r *Runner) expectCount(ctx context.Context, pg browser.Page, role, name string, want int) error {
	return poll(ctx, r.opts.AssertionTimeout, r.opts.PollInterval, fmt.Sprintf("%d %s elements named %q", want, role, name),
		func(ctx context.Context) (bool, string, error) {
			n, err := pg.RoleCount(ctx, role, name)
			if err != nil {
				return false, "", err
			}
			return n == want, fmt.Sprintf("%d", n), nil
		})
}
