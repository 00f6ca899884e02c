package runtime

import "github.com/vercel/ai-chatbot-sub000/types"

// Status is the terminal state of a foreground stream.
type Status string

// Foreground stream outcomes.
const (
	// StatusCompleted: Finish was delivered; completion runs in the background.
	StatusCompleted Status = "completed"
	// StatusInterrupted: the client left before Finish; a continuation took over.
	StatusInterrupted Status = "interrupted"
)

// Outcome summarizes one foreground stream.
type Outcome struct {
	Status   Status
	StreamID string
	// MessageID is the assistant message id from the Start event.
	MessageID string
	// Frames is the number of frames delivered to the client, [DONE] included.
	Frames int64
	// HandoffSeq is the sequence number the continuation resumed at.
	// Only set when Status is StatusInterrupted.
	HandoffSeq   int64
	FinishReason types.FinishReason
	Usage        *types.Usage
	// TaskID is the supervised completion or continuation task, if one
	// was started.
	TaskID string
}

// Interrupted reports whether the client left before Finish.
func (o *Outcome) Interrupted() bool {
	return o != nil && o.Status == StatusInterrupted
}
