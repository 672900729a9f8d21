// Package browsertest holds the behaviour every browser.Driver must share,
// run by each driver package against the fixture site.
package browsertest

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/testing/fixture"
)

var (
	desktop = browser.Viewport{Width: 1280, Height: 800}
	mobile  = browser.Viewport{Width: 390, Height: 844}
)

// TestLaunchOptions are fast, headless settings for integration tests.
func TestLaunchOptions() browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:          true,
		LaunchTimeout:     60 * time.Second,
		NavigationTimeout: 20 * time.Second,
		NetworkIdleQuiet:  200 * time.Millisecond,
	}
}

// launch starts a session or skips the test when no browser can be started
// on this machine.
func launch(t *testing.T, driver browser.Driver) browser.Session {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping real-browser test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	session, err := driver.Launch(ctx)
	if err != nil {
		t.Skipf("%s driver could not start a browser: %v", driver.Name(), err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			t.Logf("Error closing %s session: %v", driver.Name(), err)
		}
	})
	return session
}

// openPage creates a page and loads the fixture in it.
func openPage(t *testing.T, session browser.Session, vp browser.Viewport, url string) browser.Page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := session.NewPage(ctx, vp)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, url))
	require.NoError(t, page.WaitForNetworkIdle(ctx))
	return page
}

// eventually polls cond until it reports true or the deadline passes.
func eventually(t *testing.T, cond func(ctx context.Context) (bool, error), msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		ok, err := cond(ctx)
		if err == nil && ok {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("condition never met: %s (last error: %v)", msg, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// RunConformance exercises every Page operation against the fixture site.
func RunConformance(t *testing.T, newDriver func(t *testing.T) browser.Driver) {
	t.Run("locked page queries", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{AccessDelay: 300 * time.Millisecond})
		session := launch(t, newDriver(t))
		page := openPage(t, session, desktop, server.URL)
		ctx := context.Background()

		heading, err := page.TextState(ctx, "X402 Creator Platform")
		require.NoError(t, err)
		assert.Equal(t, browser.TextState{Attached: 1, Visible: 1}, heading)

		gated, err := page.TextState(ctx, "The Future of Cross-Chain Payments")
		require.NoError(t, err)
		assert.Zero(t, gated.Visible)

		caseInsensitive, err := page.TextState(ctx, "  exclusive   ANALYSIS ")
		require.NoError(t, err)
		assert.Equal(t, 1, caseInsensitive.Visible)

		count, err := page.RoleCount(ctx, "button", "Buy for")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		headings, err := page.RoleCount(ctx, "heading", "Premium Content")
		require.NoError(t, err)
		assert.Equal(t, 2, headings)
	})

	t.Run("hidden text is attached but not visible", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{GatedHidden: true})
		session := launch(t, newDriver(t))
		page := openPage(t, session, desktop, server.URL)

		state, err := page.TextState(context.Background(), "The Future of Cross-Chain Payments")
		require.NoError(t, err)
		assert.Equal(t, browser.TextState{Attached: 1, Visible: 0}, state)
	})

	t.Run("role count is exact", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{ExtraPurchaseButton: true})
		session := launch(t, newDriver(t))
		page := openPage(t, session, desktop, server.URL)

		count, err := page.RoleCount(context.Background(), "button", "buy FOR")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("click with dialogs accepted", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{})
		session := launch(t, newDriver(t))
		page := openPage(t, session, desktop, server.URL)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		require.NoError(t, page.AutoAcceptDialogs(ctx))
		require.NoError(t, page.ClickRole(ctx, "button", "Buy for", 0))

		// The status line is only written after alert() returns.
		eventually(t, func(ctx context.Context) (bool, error) {
			state, err := page.TextState(ctx, fixture.WalletPromptStatus)
			return state.Visible == 1, err
		}, "status line after the alert was accepted")

		placeholder, err := page.TextState(ctx, "Exclusive Analysis")
		require.NoError(t, err)
		assert.Equal(t, 1, placeholder.Visible)

		assert.Error(t, page.ClickRole(ctx, "button", "Buy for", 5), "out of range index must fail")
	})

	t.Run("pages do not share cookies", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{})
		session := launch(t, newDriver(t))
		ctx := context.Background()
		visit := server.URL + fixture.VisitPath

		first := openPage(t, session, desktop, visit)
		state, err := first.TextState(ctx, fixture.FirstVisitText)
		require.NoError(t, err)
		require.Equal(t, 1, state.Visible)

		// Reloading in the same page sends the cookie back.
		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		require.NoError(t, first.Navigate(loadCtx, visit))
		require.NoError(t, first.WaitForNetworkIdle(loadCtx))
		state, err = first.TextState(ctx, fixture.ReturnVisitText)
		require.NoError(t, err)
		require.Equal(t, 1, state.Visible, "cookie must persist within one page")

		second := openPage(t, session, mobile, visit)
		state, err = second.TextState(ctx, fixture.FirstVisitText)
		require.NoError(t, err)
		assert.Equal(t, 1, state.Visible, "a new page must start with an empty cookie jar")
	})

	t.Run("screenshots follow the viewport", func(t *testing.T) {
		server := fixture.NewServer(t, fixture.Options{})
		session := launch(t, newDriver(t))

		for _, vp := range []browser.Viewport{desktop, mobile} {
			page := openPage(t, session, vp, server.URL)

			data, err := page.Screenshot(context.Background())
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "screenshot must be a PNG")

			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, vp.Width, cfg.Width, "viewport %s", vp)
			assert.Equal(t, vp.Height, cfg.Height, "viewport %s", vp)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		session := launch(t, newDriver(t))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := session.NewPage(ctx, mobile)
		require.NoError(t, err)

		require.NoError(t, session.Close(ctx))
		require.NoError(t, session.Close(ctx))

		_, err = session.NewPage(ctx, mobile)
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
	})
}
