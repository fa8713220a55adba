// Package notifier delivers operational alerts (session transitions, risk
// breaches, reconciliation divergences) to an external channel.
package notifier

import "context"

type Notifier interface {
	// Notify sends one alert. Implementations must not block the caller
	// beyond their own transport timeout.
	Notify(ctx context.Context, title, body string) error
}

// Nop discards alerts. Used when no channel is configured and in tests.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
