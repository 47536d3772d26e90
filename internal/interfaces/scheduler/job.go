package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the job timeout and is
	// cancelled on shutdown.
	Execute(ctx context.Context) error

	// ClientID identifies whose connection the job operates on, for
	// logging and tracing.
	ClientID() string

	// Description is a human-readable summary used in logs.
	Description() string
}
