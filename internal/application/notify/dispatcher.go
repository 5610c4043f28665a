// Package notify delivers committed board events to the user. Delivery is
// fire-and-forget: a failed or duplicate notification never unwinds the
// board mutation that produced it.
package notify

import (
	"context"

	"github.com/blatr/idealista-notify-bot/internal/domain"
)

// Dispatcher pushes a single committed event to an outbound channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.TransitionEvent) error
}
