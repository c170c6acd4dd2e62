// Package store defines the LineageStore interface for storing and querying
// the lineage graph produced by a simulation run.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by TimeRange when the store holds no spots.
var ErrEmpty = errors.New("lineage store is empty")

// ErrSpotNotFound is returned when a link refers to a spot that does not exist.
var ErrSpotNotFound = errors.New("spot not found")

// Spot is one agent at one timepoint.
type Spot struct {
	ID     int64   `json:"id"`
	Time   int     `json:"time"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
	Label  string  `json:"label"`
}

// Link connects a spot to its successor: the same agent at a later
// timepoint, or a daughter right after a division.
type Link struct {
	Source int64 `json:"source"`
	Target int64 `json:"target"`
}

// Run records one invocation of the simulator against a store.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Seed      uint64    `json:"seed"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Params    string    `json:"params,omitempty"` // YAML of the simulation config
}

// Direction specifies link traversal direction.
type Direction string

const (
	DirectionOutbound Direction = "outbound" // Follow links from source to target (children)
	DirectionInbound  Direction = "inbound"  // Follow links from target to source (parents)
	DirectionBoth     Direction = "both"     // Follow links in both directions
)

// SpotWriter is the write half of a LineageStore.
type SpotWriter interface {
	// AddSpot stores spot, ignoring spot.ID, and returns the assigned ID (> 0).
	AddSpot(ctx context.Context, spot Spot) (int64, error)
	// AddLink connects two existing spots.
	AddLink(ctx context.Context, source, target int64) error
}

// LineageStore defines the interface for storing and querying the lineage graph.
type LineageStore interface {
	SpotWriter

	// GetSpot returns the spot with id, or nil if it does not exist.
	GetSpot(ctx context.Context, id int64) (*Spot, error)
	// SpotsAt returns the spots of timepoint t in ascending ID order.
	SpotsAt(ctx context.Context, t int) ([]Spot, error)
	// Links returns the links touching id in the given direction.
	Links(ctx context.Context, id int64, direction Direction) ([]Link, error)

	AllSpots(ctx context.Context) ([]Spot, error)
	AllLinks(ctx context.Context) ([]Link, error)

	// TimeRange returns the first and last stored timepoint, or ErrEmpty.
	TimeRange(ctx context.Context) (from, to int, err error)

	// AddRun inserts or replaces the record of a run.
	AddRun(ctx context.Context, run Run) error
	Runs(ctx context.Context) ([]Run, error)

	Close() error
}

// Batch groups writes that become visible together on Commit.
type Batch interface {
	SpotWriter
	Commit() error
	Rollback() error
}

// Batcher is implemented by stores that can write a timepoint atomically.
type Batcher interface {
	Begin(ctx context.Context) (Batch, error)
}
