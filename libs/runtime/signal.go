package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContextFrom derives a context cancelled on SIGINT/SIGTERM from parent,
// so cobra's command context can carry it.
func SignalContextFrom(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
