// Package chunkstore implements the durable chunk log used to resume
// interrupted streams.
//
// A Backend is the raw storage contract and returns errors. Store wraps a
// Backend with the best-effort semantics the streaming path relies on:
// every operation is bounded by a short timeout, every infrastructure
// error is logged and absorbed, and reads degrade to "nothing to resume".
package chunkstore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the retention window refreshed on every append.
const DefaultTTL = time.Hour

// ErrNotFound is returned by backends when no chunks exist for a stream.
var ErrNotFound = errors.New("chunkstore: stream not found")

// Backend stores ordered chunk logs keyed by stream id.
type Backend interface {
	// Append adds a record to the stream's log and refreshes its TTL.
	Append(ctx context.Context, streamID string, rec Record) error

	// MarkComplete sets the stream's terminal flag with the same TTL.
	MarkComplete(ctx context.Context, streamID string) error

	// ReadAll returns every stored record in storage order.
	// Returns ErrNotFound when the stream has no log.
	ReadAll(ctx context.Context, streamID string) ([]Record, error)

	// IsComplete reports whether the terminal flag is set.
	IsComplete(ctx context.Context, streamID string) (bool, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases backend resources.
	Close() error
}
