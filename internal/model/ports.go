package model

import "context"

// OutputSource exposes the latest published engine output.
type OutputSource interface {
	// Output returns the current snapshot, or nil before the first cycle.
	Output() *Output
}

// OutputSink receives every published output (Redis, Kafka, WebSocket, alerts).
type OutputSink interface {
	Name() string
	Publish(ctx context.Context, out *Output) error
}

// OutputStore persists outputs for history and restart inspection.
type OutputStore interface {
	SaveOutput(ctx context.Context, out *Output) error

	// LatestOutputs returns up to limit outputs, newest first.
	LatestOutputs(ctx context.Context, limit int) ([]*Output, error)

	Close() error
}
