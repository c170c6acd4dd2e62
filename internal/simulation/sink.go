package simulation

import "context"

// Node is one agent at one timepoint as handed to a Sink.
type Node struct {
	Time     int
	Position Vec3
	Radius   float64
	Label    string
}

// Sink receives per-timepoint snapshots and persists them as a lineage graph.
type Sink interface {
	// CreateNode stores n and returns the sink's key for it.
	CreateNode(ctx context.Context, n Node) (Handle, error)
	// Connect links a node to its successor.
	Connect(ctx context.Context, from, to Handle) error
}

// SinkTx is a Sink whose writes become visible together on Commit.
type SinkTx interface {
	Sink
	Commit() error
	Rollback() error
}

// TxSink is implemented by sinks that can write a whole timepoint atomically.
type TxSink interface {
	Sink
	Begin(ctx context.Context) (SinkTx, error)
}
