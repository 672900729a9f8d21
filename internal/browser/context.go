package browser

import (
	"context"
)

// CombineContext derives a context from primary that is also canceled when
// operational is done, and that carries operational's deadline if it has one.
// Values come from primary only, which is what CDP libraries need: primary
// holds the target connection, operational holds the caller's cancellation.
func CombineContext(primary, operational context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if deadline, ok := operational.Deadline(); ok {
		combined, cancel = context.WithDeadline(primary, deadline)
	} else {
		combined, cancel = context.WithCancel(primary)
	}

	stop := context.AfterFunc(operational, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
