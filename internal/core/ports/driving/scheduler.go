package driving

import "context"

// Scheduler runs sync passes once or on an interval.
type Scheduler interface {
	// Start runs passes according to the configured mode.
	// Blocks until the mode completes, the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop after the current pass finishes.
	Stop() error
}
