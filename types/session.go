package types

import "time"

// SessionState is the lifecycle state of a stream session.
type SessionState string

// Session states.
const (
	SessionActive      SessionState = "active"
	SessionInterrupted SessionState = "interrupted"
	SessionComplete    SessionState = "complete"
)

// IsTerminal returns true once no further chunks may be appended.
func (s SessionState) IsTerminal() bool {
	return s == SessionComplete
}

// Producer identifies which task currently appends chunks for a session.
type Producer string

// Producers.
const (
	ProducerForeground Producer = "foreground"
	ProducerBackground Producer = "background"
	ProducerNone       Producer = "none"
)

// StreamSession is one in-flight or completed assistant-turn generation.
type StreamSession struct {
	StreamID string
	ChatID   string
	// Sequence is the next chunk sequence number to assign.
	Sequence  int64
	State     SessionState
	Producer  Producer
	CreatedAt time.Time
	UpdatedAt time.Time
}
