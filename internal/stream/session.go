package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/pkg/types"
)

// State is the lifecycle state of a generation session.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// ErrSessionActive is returned when Generate is called while a previous
// session on the same coordinator has not yet terminated or been reset.
var ErrSessionActive = errors.New("generation session already active")

// Defaults applied when corresponding Config fields are unset.
const (
	defaultPollInterval = 10 * time.Millisecond
)

// Config tunes a Coordinator.
type Config struct {
	// PollInterval is how often a paused session re-checks its state.
	PollInterval time.Duration
	// OnTerminate, when set, runs exactly once after the terminal event of
	// each session (used by the router to release its admission slot).
	OnTerminate func()
	Logger      zerolog.Logger
}

// Coordinator wraps one backend-driven streaming call into a managed event
// sequence with its own lifecycle. One coordinator runs at most one session
// at a time; Reset returns it to idle for reuse.
type Coordinator struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	state     State
	tokens    int
	text      strings.Builder
	start     time.Time
	end       time.Time
	cancelReq bool
	seq       int // session epoch; stale runs must not touch state
}

// New returns an idle Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Coordinator{cfg: cfg, log: cfg.Logger, state: StateIdle}
}

// Generate starts a new session against the handle and returns its event
// sequence. The sequence is lazy, single-consumption, and finite; restart by
// calling Generate again after the terminal event.
func (c *Coordinator) Generate(ctx context.Context, h engine.Handle, req engine.Request) (*Stream, error) {
	c.mu.Lock()
	if c.state == StateGenerating || c.state == StatePaused {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.resetLocked()
	c.state = StateGenerating
	c.start = time.Now()
	seq := c.seq
	c.mu.Unlock()

	return newEventStream(ctx, func(sctx context.Context, ch chan<- Event) {
		total := req.Config.MaxTokens
		onToken := func(tok string) error {
			if err := c.waitWhileBlocked(sctx, seq); err != nil {
				return err
			}
			c.mu.Lock()
			// Recheck under the same lock that mutates the counters: a Reset
			// racing in after the wait must not see this run credit a token
			// to the session that replaced it.
			if c.seq != seq || c.cancelReq {
				c.mu.Unlock()
				return engine.ErrCancelled
			}
			c.tokens++
			c.text.WriteString(tok)
			n := c.tokens
			c.mu.Unlock()
			if !emit(sctx, ch, Event{Type: EventToken, Text: tok}) {
				return sctx.Err()
			}
			if !emit(sctx, ch, Event{Type: EventProgress, Generated: n, Total: total}) {
				return sctx.Err()
			}
			return nil
		}
		final, err := h.GenerateStream(sctx, req, onToken)
		c.finish(sctx, ch, seq, final, err)
	}), nil
}

// waitWhileBlocked polls while the session is paused and honors cancellation
// at the top of each token-production iteration.
func (c *Coordinator) waitWhileBlocked(ctx context.Context, seq int) error {
	for {
		c.mu.Lock()
		stale := c.seq != seq
		cancelled := c.cancelReq
		paused := c.state == StatePaused
		c.mu.Unlock()
		if stale || cancelled {
			return engine.ErrCancelled
		}
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, ch chan<- Event, seq int, final engine.Final, err error) {
	c.mu.Lock()
	stale := c.seq != seq
	var ev Event
	switch {
	case err == nil:
		res := &types.GenerationResult{
			Text:         c.text.String(),
			TokenCount:   c.tokens,
			DurationMS:   time.Since(c.start).Milliseconds(),
			FinishReason: final.FinishReason,
		}
		if res.Text == "" {
			res.Text = final.Content
		}
		if res.FinishReason == "" {
			res.FinishReason = "stop"
		}
		if !stale {
			c.state = StateCompleted
		}
		ev = Event{Type: EventCompleted, Result: res}
	case errors.Is(err, engine.ErrCancelled) || errors.Is(err, context.Canceled):
		if !stale {
			c.state = StateCancelled
		}
		ev = Event{Type: EventCancelled}
	default:
		if !stale {
			c.state = StateFailed
		}
		ev = Event{Type: EventFailed, Err: err}
	}
	if !stale {
		c.end = time.Now()
	}
	c.mu.Unlock()

	emit(ctx, ch, ev)
	if c.cfg.OnTerminate != nil {
		c.cfg.OnTerminate()
	}
}

// Cancel requests cooperative cancellation. No-op unless the session is
// generating or paused; at most one cancelled event is emitted either way.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateGenerating && c.state != StatePaused {
		return
	}
	c.cancelReq = true
}

// Pause suspends token emission. No-op unless currently generating.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateGenerating {
		c.state = StatePaused
	}
}

// Resume continues a paused session. No-op unless currently paused.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		c.state = StateGenerating
	}
}

// Reset returns the session to idle and clears counters, regardless of prior
// state. A run still in flight is cancelled and can no longer touch state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Coordinator) resetLocked() {
	c.seq++
	c.state = StateIdle
	c.tokens = 0
	c.text.Reset()
	c.cancelReq = false
	c.start = time.Time{}
	c.end = time.Time{}
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	State        State   `json:"state"`
	Tokens       int     `json:"tokens"`
	ElapsedMS    int64   `json:"elapsed_ms"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

// Statistics returns a snapshot computed from the same counters the session
// uses internally. Safe to call concurrently with an in-flight generation.
func (c *Coordinator) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{State: c.state, Tokens: c.tokens}
	switch {
	case c.start.IsZero():
	case c.state == StateGenerating || c.state == StatePaused:
		s.ElapsedMS = time.Since(c.start).Milliseconds()
	default:
		s.ElapsedMS = c.end.Sub(c.start).Milliseconds()
	}
	if s.ElapsedMS > 0 {
		s.TokensPerSec = float64(s.Tokens) / (float64(s.ElapsedMS) / 1000.0)
	}
	return s
}
