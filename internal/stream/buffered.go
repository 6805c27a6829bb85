package stream

import (
	"context"
	"strings"

	"github.com/hyodotdev/locanara/internal/engine"
)

// defaultMinChunkChars is the coalescing threshold for buffered streams.
const defaultMinChunkChars = 24

// GenerateBuffered runs a session like Generate but re-emits coalesced chunk
// events instead of raw tokens, cutting UI repaint frequency. A chunk is
// flushed once it reaches minChars (0 selects the default) or ends at a
// sentence terminator; any remainder is flushed before the terminal event.
// Progress events are dropped. Not part of the correctness-critical path.
func (c *Coordinator) GenerateBuffered(ctx context.Context, h engine.Handle, req engine.Request, minChars int) (*Stream, error) {
	inner, err := c.Generate(ctx, h, req)
	if err != nil {
		return nil, err
	}
	if minChars <= 0 {
		minChars = defaultMinChunkChars
	}

	return newEventStream(ctx, func(sctx context.Context, ch chan<- Event) {
		defer inner.Close()
		var buf strings.Builder
		flush := func() bool {
			if buf.Len() == 0 {
				return true
			}
			ok := emit(sctx, ch, Event{Type: EventChunk, Text: buf.String()})
			buf.Reset()
			return ok
		}
		for {
			ev, err := inner.Recv()
			if err != nil {
				// io.EOF after a terminal event, or the consumer went away.
				flush()
				return
			}
			switch ev.Type {
			case EventToken:
				buf.WriteString(ev.Text)
				if buf.Len() >= minChars || endsSentence(ev.Text) {
					if !flush() {
						return
					}
				}
			case EventProgress:
			default:
				if !flush() {
					return
				}
				emit(sctx, ch, ev)
				return
			}
		}
	}), nil
}

func endsSentence(tok string) bool {
	t := strings.TrimRight(tok, " ")
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
