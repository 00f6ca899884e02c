// Package adapter defines the turn-completion notification boundary.
//
// Adapters publish a notice to downstream systems after an assistant turn
// has been persisted. Publishing is best-effort: the caller logs and
// counts failures but never fails the turn because of them.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// EventTypeTurnCompleted is the event_type of every published notice.
const EventTypeTurnCompleted = "turn_completed"

// TurnCompletedEvent is the payload published when a turn is persisted.
type TurnCompletedEvent struct {
	ContractVersion string             `json:"contract_version"`
	EventType       string             `json:"event_type"` // always "turn_completed"
	ChatID          string             `json:"chat_id"`
	StreamID        string             `json:"stream_id"`
	MessageID       string             `json:"message_id"`
	FinishReason    types.FinishReason `json:"finish_reason,omitempty"`
	Usage           *types.Usage       `json:"usage,omitempty"`
	// Continued is true when the turn was finished by a background
	// continuation after the client disconnected.
	Continued  bool   `json:"continued"`
	PartCount  int    `json:"part_count"`
	FrameCount int64  `json:"frame_count"`
	Timestamp  string `json:"timestamp"` // RFC 3339
}

// Adapter publishes turn completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TurnCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (i >= 1): 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry calls attempt up to 1+retries times, sleeping Backoff between
// calls. It stops early on success, on a Permanent error, or when ctx is
// done. name prefixes the returned error.
func Retry(ctx context.Context, name string, retries int, attempt func(context.Context) error) error {
	var last error
	for i := range 1 + retries {
		if i > 0 {
			timer := time.NewTimer(Backoff(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: canceled after %d attempts: %w", name, i, ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		last = attempt(ctx)
		if last == nil {
			return nil
		}
		var perm permanentError
		if errors.As(last, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.err)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, 1+retries, last)
}

// Multi publishes to every adapter in order and joins their errors.
type Multi []Adapter

// Publish implements Adapter.
func (m Multi) Publish(ctx context.Context, event *TurnCompletedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
