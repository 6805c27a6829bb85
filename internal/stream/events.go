package stream

import "github.com/hyodotdev/locanara/pkg/types"

// EventType discriminates stream events.
type EventType string

const (
	// EventToken carries one raw token.
	EventToken EventType = "token"
	// EventProgress carries the running token count.
	EventProgress EventType = "progress"
	// EventChunk carries coalesced text from a buffered stream.
	EventChunk EventType = "chunk"
	// EventCompleted terminates a successful session.
	EventCompleted EventType = "completed"
	// EventFailed terminates a failed session.
	EventFailed EventType = "failed"
	// EventCancelled terminates a cancelled session.
	EventCancelled EventType = "cancelled"
)

// Event is one element of a generation event sequence. Exactly one terminal
// event (completed, failed, or cancelled) ends every sequence.
type Event struct {
	Type EventType
	// Token text (EventToken) or coalesced chunk text (EventChunk).
	Text string
	// Running token count (EventProgress).
	Generated int
	// Token budget from the request config; 0 when unbounded.
	Total int
	// Final result (EventCompleted).
	Result *types.GenerationResult
	// Failure cause (EventFailed).
	Err error
}

// Terminal reports whether the event ends its sequence.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}
