package stream

import (
	"context"
	"io"
)

// Stream is a lazy, single-consumption, finite event sequence. Recv returns
// io.EOF after the terminal event has been delivered; Close abandons the
// remainder of the sequence.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
}

// newEventStream runs the producer in a goroutine and returns the consuming
// side. The producer must emit exactly one terminal event before returning.
func newEventStream(ctx context.Context, run func(context.Context, chan<- Event)) *Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		run(streamCtx, ch)
	}()
	return &Stream{ctx: streamCtx, cancel: cancel, events: ch}
}

// Recv returns the next event, blocking until one is available. It returns
// io.EOF once the sequence is exhausted.
func (s *Stream) Recv() (Event, error) {
	// Non-blocking drain: consume any buffered event before checking
	// ctx.Done() so the terminal event is not dropped when both are ready.
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

// Close stops consumption. The producer observes the cancellation and
// terminates; Close never blocks on it.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

// emit delivers an event unless the consumer has gone away.
func emit(ctx context.Context, ch chan<- Event, e Event) bool {
	select {
	case ch <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
