package cdpdriver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
	"github.com/x402labs/paywall-verify/internal/testing/browsertest"
)

// fakeClock is advanced by hand so quiet periods can be tested without sleeping through them.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*networkTracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	n := newNetworkTracker()
	n.now = clock.Now
	n.lastActivity = clock.Now()
	return n, clock
}

func TestNetworkTrackerCounts(t *testing.T) {
	n, _ := newTestTracker()

	n.observe(&network.EventRequestWillBeSent{RequestID: "1"})
	n.observe(&network.EventRequestWillBeSent{RequestID: "2"})
	// A redirect reuses the request ID.
	n.observe(&network.EventRequestWillBeSent{RequestID: "2"})
	inflight, _ := n.snapshot()
	assert.Equal(t, 2, inflight)

	n.observe(&network.EventLoadingFinished{RequestID: "1"})
	n.observe(&network.EventLoadingFailed{RequestID: "2"})
	inflight, _ = n.snapshot()
	assert.Zero(t, inflight)

	n.observe("unrelated event")
	inflight, _ = n.snapshot()
	assert.Zero(t, inflight)
}

func TestNetworkTrackerWait(t *testing.T) {
	t.Run("returns once quiet", func(t *testing.T) {
		n, clock := newTestTracker()
		clock.Advance(time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, n.wait(ctx, 20*time.Millisecond))
	})

	t.Run("waits while requests are in flight", func(t *testing.T) {
		n, clock := newTestTracker()
		n.observe(&network.EventRequestWillBeSent{RequestID: "slow"})
		clock.Advance(time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, n.wait(ctx, 10*time.Millisecond), context.DeadlineExceeded)
	})

	t.Run("quiet period restarts after the last request", func(t *testing.T) {
		n, clock := newTestTracker()
		n.observe(&network.EventRequestWillBeSent{RequestID: "a"})

		done := make(chan error, 1)
		go func() { done <- n.wait(context.Background(), 20*time.Millisecond) }()

		time.Sleep(50 * time.Millisecond)
		n.observe(&network.EventLoadingFinished{RequestID: "a"})
		select {
		case err := <-done:
			t.Fatalf("wait returned before the quiet period elapsed: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		clock.Advance(20 * time.Millisecond)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not return after the network went quiet")
		}
	})
}

func TestName(t *testing.T) {
	assert.Equal(t, config.DriverChromedp, New(browser.LaunchOptions{}, zaptest.NewLogger(t)).Name())
}

func TestConformance(t *testing.T) {
	browsertest.RunConformance(t, func(t *testing.T) browser.Driver {
		// Driver goroutines can outlive the test, which zaptest does not allow.
		return New(browsertest.TestLaunchOptions(), zap.NewNop())
	})
}
