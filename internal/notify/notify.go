// Package notify delivers signals to users. Delivery is at-most-once: a
// failed send is logged and dropped, never retried.
package notify

import (
	"context"

	"sigscan/internal/market"
	"sigscan/internal/subscription"
)

// Notifier sends one signal to one user.
type Notifier interface {
	Notify(ctx context.Context, user subscription.UserID, sig *market.Signal) error
}
