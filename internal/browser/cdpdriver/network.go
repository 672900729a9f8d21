package cdpdriver

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkTracker counts in-flight requests of one tab from CDP network events.
type networkTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	now          func() time.Time
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

// observe updates the tracker from a CDP event; other events are ignored.
func (n *networkTracker) observe(ev interface{}) {
	var (
		id    network.RequestID
		start bool
	)
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		id, start = e.RequestID, true
	case *network.EventLoadingFinished:
		id = e.RequestID
	case *network.EventLoadingFailed:
		id = e.RequestID
	default:
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if start {
		n.inflight[id] = struct{}{}
	} else {
		delete(n.inflight, id)
	}
	n.lastActivity = n.now()
}

func (n *networkTracker) snapshot() (int, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight), n.lastActivity
}

// wait polls until nothing has been in flight for quietPeriod.
func (n *networkTracker) wait(ctx context.Context, quietPeriod time.Duration) error {
	interval := quietPeriod / 2
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			inflight, last := n.snapshot()
			if inflight == 0 && n.now().Sub(last) >= quietPeriod {
				return nil
			}
		}
	}
}
