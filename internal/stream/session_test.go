package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyodotdev/locanara/internal/engine"
)

// steppedHandle produces one token per value sent on step, letting tests
// drive pacing deterministically. Closing step ends the generation.
type steppedHandle struct {
	step chan string
}

func newSteppedHandle() *steppedHandle {
	return &steppedHandle{step: make(chan string)}
}

func (h *steppedHandle) Kind() engine.Kind        { return engine.Local(engine.LocalGenericCPU) }
func (h *steppedHandle) ModelID() string          { return "m1" }
func (h *steppedHandle) IsLoaded() bool           { return true }
func (h *steppedHandle) SupportsMultimodal() bool { return false }
func (h *steppedHandle) Cancel() bool             { return false }
func (h *steppedHandle) Unload() error            { return nil }

func (h *steppedHandle) Generate(ctx context.Context, req engine.Request) (engine.Final, error) {
	return h.GenerateStream(ctx, req, func(string) error { return nil })
}

func (h *steppedHandle) GenerateStream(ctx context.Context, req engine.Request, onToken func(string) error) (engine.Final, error) {
	var sb strings.Builder
	n := 0
	for tok := range h.step {
		if err := onToken(tok); err != nil {
			return engine.Final{}, err
		}
		sb.WriteString(tok)
		n++
	}
	return engine.Final{Content: sb.String(), TokenCount: n, FinishReason: "stop"}, nil
}

// fixedHandle emits a static token list with no external pacing.
type fixedHandle struct {
	tokens []string
	err    error
}

func (h *fixedHandle) Kind() engine.Kind        { return engine.Local(engine.LocalGenericCPU) }
func (h *fixedHandle) ModelID() string          { return "m1" }
func (h *fixedHandle) IsLoaded() bool           { return true }
func (h *fixedHandle) SupportsMultimodal() bool { return false }
func (h *fixedHandle) Cancel() bool             { return false }
func (h *fixedHandle) Unload() error            { return nil }

func (h *fixedHandle) Generate(ctx context.Context, req engine.Request) (engine.Final, error) {
	return h.GenerateStream(ctx, req, func(string) error { return nil })
}

func (h *fixedHandle) GenerateStream(ctx context.Context, req engine.Request, onToken func(string) error) (engine.Final, error) {
	var sb strings.Builder
	for _, tok := range h.tokens {
		if err := onToken(tok); err != nil {
			return engine.Final{}, err
		}
		sb.WriteString(tok)
	}
	if h.err != nil {
		return engine.Final{}, h.err
	}
	return engine.Final{Content: sb.String(), TokenCount: len(h.tokens), FinishReason: "stop"}, nil
}

func recvAll(t *testing.T, st *Stream) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("recv: %v", err)
		}
		out = append(out, ev)
		if ev.Terminal() {
			// one more Recv should report EOF
			if _, err := st.Recv(); !errors.Is(err, io.EOF) {
				t.Fatalf("expected EOF after terminal, got %v", err)
			}
			return out
		}
	}
}

type recvRes struct {
	ev  Event
	err error
}

// pendingRecv holds the in-flight Recv of a recvWithTimeout call that timed
// out, so the eventual result is consumed by the next call on the same stream
// instead of being silently dropped by an abandoned goroutine.
var pendingRecv sync.Map // *Stream -> chan recvRes

func recvWithTimeout(t *testing.T, st *Stream, d time.Duration) (Event, bool) {
	t.Helper()
	var ch chan recvRes
	if v, ok := pendingRecv.LoadAndDelete(st); ok {
		ch = v.(chan recvRes)
	} else {
		ch = make(chan recvRes, 1)
		go func() {
			ev, err := st.Recv()
			ch <- recvRes{ev, err}
		}()
	}
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("recv: %v", r.err)
		}
		return r.ev, true
	case <-time.After(d):
		pendingRecv.Store(st, ch)
		return Event{}, false
	}
}

func TestGenerateEmitsTokensThenCompleted(t *testing.T) {
	c := New(Config{})
	h := &fixedHandle{tokens: []string{"a", "b", "c"}}
	st, err := c.Generate(context.Background(), h, engine.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	events := recvAll(t, st)

	var tokens []string
	for _, ev := range events {
		if ev.Type == EventToken {
			tokens = append(tokens, ev.Text)
		}
	}
	if strings.Join(tokens, "") != "abc" {
		t.Fatalf("tokens out of order: %v", tokens)
	}
	last := events[len(events)-1]
	if last.Type != EventCompleted {
		t.Fatalf("expected completed terminal, got %v", last.Type)
	}
	if last.Result == nil || last.Result.Text != "abc" || last.Result.TokenCount != 3 {
		t.Fatalf("unexpected result: %+v", last.Result)
	}
	if last.Result.FinishReason != "stop" {
		t.Fatalf("finish reason: %q", last.Result.FinishReason)
	}
	if got := c.State(); got != StateCompleted {
		t.Fatalf("state=%s", got)
	}
}

func TestProgressMonotonic(t *testing.T) {
	c := New(Config{})
	h := &fixedHandle{tokens: []string{"1", "2", "3", "4", "5"}}
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	prev := 0
	for _, ev := range recvAll(t, st) {
		if ev.Type != EventProgress {
			continue
		}
		if ev.Generated != prev+1 {
			t.Fatalf("progress jumped from %d to %d", prev, ev.Generated)
		}
		prev = ev.Generated
	}
	if prev != 5 {
		t.Fatalf("final progress=%d", prev)
	}
}

func TestGenerateWhileActiveFails(t *testing.T) {
	c := New(Config{})
	h := newSteppedHandle()
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer st.Close()

	h.step <- "x"
	if ev, ok := recvWithTimeout(t, st, time.Second); !ok || ev.Type != EventToken {
		t.Fatalf("expected token event, got %v %v", ev, ok)
	}
	if _, err := c.Generate(context.Background(), &fixedHandle{}, engine.Request{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	close(h.step)
}

func TestPauseResumeFiveTokens(t *testing.T) {
	c := New(Config{PollInterval: time.Millisecond})
	h := newSteppedHandle()
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var seen []string
	// Each token is followed by one progress event; consume the pair so no
	// buffered event is left behind between steps.
	expect := func(want string) {
		t.Helper()
		ev, ok := recvWithTimeout(t, st, time.Second)
		if !ok {
			t.Fatalf("timed out waiting for token %q", want)
		}
		if ev.Type != EventToken || ev.Text != want {
			t.Fatalf("token order: got %+v want %q (seen %v)", ev, want, seen)
		}
		seen = append(seen, ev.Text)
		prog, ok := recvWithTimeout(t, st, time.Second)
		if !ok || prog.Type != EventProgress {
			t.Fatalf("expected progress after token %q, got %+v", want, prog)
		}
		if prog.Generated != len(seen) {
			t.Fatalf("progress=%d want %d", prog.Generated, len(seen))
		}
	}

	h.step <- "t1"
	expect("t1")
	h.step <- "t2"
	expect("t2")

	c.Pause()
	if got := c.State(); got != StatePaused {
		t.Fatalf("state=%s after pause", got)
	}
	// The producer blocks at the head of the next token; nothing should
	// surface while paused.
	go func() { h.step <- "t3" }()
	if ev, ok := recvWithTimeout(t, st, 50*time.Millisecond); ok {
		t.Fatalf("unexpected event while paused: %+v", ev)
	}

	c.Resume()
	expect("t3")
	h.step <- "t4"
	expect("t4")
	h.step <- "t5"
	expect("t5")
	close(h.step)

	events := recvAll(t, st)
	last := events[len(events)-1]
	if last.Type != EventCompleted {
		t.Fatalf("expected completed, got %v", last.Type)
	}
	if last.Result.TokenCount != 5 || last.Result.Text != "t1t2t3t4t5" {
		t.Fatalf("unexpected result: %+v", last.Result)
	}
}

func TestPauseOnlyWhenGenerating(t *testing.T) {
	c := New(Config{})
	c.Pause()
	if got := c.State(); got != StateIdle {
		t.Fatalf("pause on idle changed state to %s", got)
	}
	c.Resume()
	if got := c.State(); got != StateIdle {
		t.Fatalf("resume on idle changed state to %s", got)
	}
}

func TestCancelEmitsSingleCancelledEvent(t *testing.T) {
	c := New(Config{PollInterval: time.Millisecond})
	h := newSteppedHandle()
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	h.step <- "x"
	if ev, ok := recvWithTimeout(t, st, time.Second); !ok || ev.Type != EventToken {
		t.Fatalf("expected token, got %v %v", ev, ok)
	}

	c.Cancel()
	c.Cancel() // idempotent
	go func() { h.step <- "y" }()

	cancelled := 0
	for {
		ev, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if ev.Type == EventCancelled {
			cancelled++
		}
		if ev.Terminal() {
			break
		}
	}
	if cancelled != 1 {
		t.Fatalf("cancelled events=%d", cancelled)
	}
	if got := c.State(); got != StateCancelled {
		t.Fatalf("state=%s", got)
	}

	// Cancel after termination stays a no-op.
	c.Cancel()
	if got := c.State(); got != StateCancelled {
		t.Fatalf("state changed by post-terminal cancel: %s", got)
	}
}

func TestFailedEventCarriesError(t *testing.T) {
	boom := errors.New("backend exploded")
	c := New(Config{})
	h := &fixedHandle{tokens: []string{"a"}, err: boom}
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	events := recvAll(t, st)
	last := events[len(events)-1]
	if last.Type != EventFailed || !errors.Is(last.Err, boom) {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	if got := c.State(); got != StateFailed {
		t.Fatalf("state=%s", got)
	}
}

func TestResetIdempotent(t *testing.T) {
	c := New(Config{})
	h := &fixedHandle{tokens: []string{"a", "b"}}
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	recvAll(t, st)

	c.Reset()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state=%s after reset", got)
	}
	c.Reset()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state=%s after second reset", got)
	}
	stats := c.Statistics()
	if stats.Tokens != 0 || stats.ElapsedMS != 0 {
		t.Fatalf("stats not cleared: %+v", stats)
	}

	// The coordinator is reusable after reset.
	st2, err := c.Generate(context.Background(), &fixedHandle{tokens: []string{"z"}}, engine.Request{})
	if err != nil {
		t.Fatalf("generate after reset: %v", err)
	}
	events := recvAll(t, st2)
	if events[len(events)-1].Type != EventCompleted {
		t.Fatalf("expected completed after reuse")
	}
}

func TestResetDuringRunOrphansIt(t *testing.T) {
	c := New(Config{PollInterval: time.Millisecond})
	h := newSteppedHandle()
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h.step <- "x"
	if ev, ok := recvWithTimeout(t, st, time.Second); !ok || ev.Type != EventToken {
		t.Fatalf("expected token, got %v %v", ev, ok)
	}

	c.Reset()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state=%s", got)
	}

	// The stale run still terminates its own stream but must not disturb
	// the coordinator's fresh state.
	go func() { h.step <- "y" }()
	events := recvAll(t, st)
	if events[len(events)-1].Type != EventCancelled {
		t.Fatalf("stale run terminal: %v", events[len(events)-1].Type)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("stale run mutated state: %s", got)
	}
}

func TestStaleRunCannotCreditSuccessorSession(t *testing.T) {
	c := New(Config{PollInterval: time.Millisecond})
	old := newSteppedHandle()
	stOld, err := c.Generate(context.Background(), old, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	old.step <- "x"
	if ev, ok := recvWithTimeout(t, stOld, time.Second); !ok || ev.Type != EventToken {
		t.Fatalf("expected token, got %v %v", ev, ok)
	}

	c.Reset()

	// A fresh session replaces the orphaned one on the same coordinator.
	stNew, err := c.Generate(context.Background(), &fixedHandle{tokens: []string{"b1", "b2"}}, engine.Request{})
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	events := recvAll(t, stNew)
	last := events[len(events)-1]
	if last.Type != EventCompleted || last.Result == nil {
		t.Fatalf("fresh session terminal: %+v", last)
	}
	if last.Result.Text != "b1b2" || last.Result.TokenCount != 2 {
		t.Fatalf("fresh session result polluted: %+v", last.Result)
	}

	// Push one more token through the orphaned run: it must terminate its own
	// stream as cancelled and leave the successor's counters untouched.
	go func() { old.step <- "y" }()
	oldEvents := recvAll(t, stOld)
	if oldEvents[len(oldEvents)-1].Type != EventCancelled {
		t.Fatalf("stale run terminal: %v", oldEvents[len(oldEvents)-1].Type)
	}
	if stats := c.Statistics(); stats.Tokens != 2 || stats.State != StateCompleted {
		t.Fatalf("stale run mutated successor stats: %+v", stats)
	}
}

func TestStatisticsSnapshot(t *testing.T) {
	c := New(Config{})
	h := &fixedHandle{tokens: []string{"a", "b", "c", "d"}}
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	recvAll(t, st)

	stats := c.Statistics()
	if stats.State != StateCompleted || stats.Tokens != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ElapsedMS < 0 {
		t.Fatalf("negative elapsed: %+v", stats)
	}
}

func TestStreamCloseStopsProducer(t *testing.T) {
	c := New(Config{PollInterval: time.Millisecond})
	h := newSteppedHandle()
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h.step <- "x"
	if ev, ok := recvWithTimeout(t, st, time.Second); !ok || ev.Type != EventToken {
		t.Fatalf("expected token, got %v %v", ev, ok)
	}
	st.Close()

	// The next token attempt observes the dead consumer and unwinds.
	select {
	case h.step <- "y":
	case <-time.After(time.Second):
		t.Fatalf("producer did not accept next step")
	}
	deadline := time.Now().Add(time.Second)
	for c.State() == StateGenerating {
		if time.Now().After(deadline) {
			t.Fatalf("session did not terminate after close")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOnTerminateRunsOnce(t *testing.T) {
	calls := 0
	c := New(Config{OnTerminate: func() { calls++ }})
	h := &fixedHandle{tokens: []string{"a"}}
	st, err := c.Generate(context.Background(), h, engine.Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	recvAll(t, st)
	if calls != 1 {
		t.Fatalf("OnTerminate calls=%d", calls)
	}
}
