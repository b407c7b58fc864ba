package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/metrics"
	"codeberg.org/mutker/inferctl/internal/safety"
	"codeberg.org/mutker/inferctl/internal/scheduler"
)

// request is everything a generation reads from the registry, copied at
// admission.
type request struct {
	id      string
	model   engine.Model
	system  string
	history []Exchange
	prompt  string
	params  Params
}

// GenerateResponse streams a response to prompt. Faults are reported as the
// stream's terminal Error event.
func (m *Manager) GenerateResponse(ctx context.Context, id, prompt string, params Params) *Stream {
	errFactory := errors.New()

	m.mu.Lock()
	c, ok := m.reg.sessions[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return failedStream(errFactory.WithData(errors.ErrSessionNotFound, id))
	case m.reg.modelState != ModelReady:
		m.mu.Unlock()
		return failedStream(errFactory.New(errors.ErrNoModelLoaded))
	case c.ctx.State == StateClosed:
		m.mu.Unlock()
		return failedStream(errFactory.WithData(errors.ErrSessionClosed, id))
	case c.gen != nil:
		m.mu.Unlock()
		return failedStream(reject(ReasonSessionBusy, "session %q is generating", id))
	}

	genCtx, cancel := context.WithCancelCause(ctx)
	gen := &generation{cancel: cancel, released: make(chan struct{})}
	c.gen = gen
	c.ctx.State = StateGenerating
	req := request{
		id:      id,
		model:   m.reg.model,
		system:  c.ctx.SystemPrompt,
		history: slices.Clone(c.ctx.Exchanges),
		prompt:  prompt,
		params:  params,
	}
	m.mu.Unlock()

	s := newStream(m.cfg.StreamBuffer)
	s.cancel = cancel
	go m.produce(genCtx, s, gen, req)
	return s
}

type outcome struct {
	event  Event
	label  string
	tokens int
	commit *Exchange
}

func (m *Manager) produce(ctx context.Context, s *Stream, gen *generation, req request) {
	start := m.now()
	out := m.generate(ctx, s, gen, req)

	if out.commit != nil {
		out.commit.Timestamp = m.now()
	}
	trimmed, ok := m.release(ctx, req.id, gen, out)
	if !ok && out.commit != nil {
		// cancelled between the final check and the commit
		out = m.cancelled(ctx, out.tokens)
	}
	if trimmed > 0 {
		m.sink.Publish(events.New(events.SessionTrimmed, map[string]any{"session": req.id, "evicted": trimmed}))
	}

	metrics.AddTokens(out.tokens)
	metrics.ObserveGeneration(out.label, time.Since(start))
	m.log.Debug().
		Str("session", req.id).
		Str("outcome", out.label).
		Int("tokens", out.tokens).
		Msg("Generation finished")

	s.finish(out.event)
}

// release commits the exchange when the generation completed and the session
// is still open, then detaches the generation and signals waiters. It reports
// false when the commit was refused.
func (m *Manager) release(ctx context.Context, id string, gen *generation, out outcome) (int, bool) {
	defer close(gen.released)
	defer gen.cancel(nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.reg.sessions[id]
	if !ok || c.gen != gen {
		return 0, out.commit == nil
	}
	c.gen = nil

	if c.ctx.State == StateClosed {
		return 0, out.commit == nil
	}
	c.ctx.State = StateReady
	c.ctx.LastActivity = m.now()
	if out.commit == nil {
		return 0, true
	}
	if ctx.Err() != nil {
		return 0, false
	}

	c.ctx.Exchanges = append(c.ctx.Exchanges, *out.commit)
	c.ctx.TokenCount += out.commit.Tokens()

	var evicted int
	c.ctx.Exchanges, c.ctx.TokenCount, evicted = Trim(c.ctx.Exchanges, c.ctx.TokenCount, m.cfg.WindowCeiling, m.cfg.WindowTarget)
	return evicted, true
}

func (m *Manager) generate(ctx context.Context, s *Stream, gen *generation, req request) outcome {
	if !s.emit(ctx, Event{Kind: EventStarted}) {
		return m.cancelled(ctx, 0)
	}

	if v := m.safety.CheckInput(ctx, req.prompt); !v.Safe {
		if ctx.Err() != nil {
			return m.cancelled(ctx, 0)
		}
		return violation(v.Reason, 0)
	}

	gp := adapt(m.cfg, req.params, m.planner.ThermalState())
	text := buildPrompt(req.system, req.history, req.prompt)
	promptTokens := estimateTokens(req.prompt)
	opt := m.planner.OptimizeFor(scheduler.Task{PromptTokens: estimateTokens(text), MaxTokens: gp.MaxTokens})
	gp.Threads = opt.Threads
	gp.BatchSize = opt.BatchSize

	genCtx, cancelGen := context.WithCancelCause(ctx)
	defer cancelGen(nil)
	chk := newChecker(genCtx, m.safety, cancelGen)

	var (
		b      strings.Builder
		count  int
		finish engine.FinishReason
	)
	err := m.run(genCtx, m.inference, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		var err error
		finish, err = req.model.Generate(ctx, text, gp, func(tok engine.Token) error {
			b.WriteString(tok.Text)
			if !s.emit(ctx, Event{Kind: EventToken, Token: tok, Index: count}) {
				return context.Cause(ctx)
			}
			count++
			gen.tokens.Store(int64(count))
			if count%m.cfg.CheckEvery == 0 {
				chk.offer(b.String())
			}
			return nil
		})
		return err
	})
	verdict := chk.stop()

	switch {
	case verdict != nil:
		return violation(verdict.Reason, count)
	case ctx.Err() != nil:
		return m.cancelled(ctx, count)
	case err != nil:
		return outcome{
			event:  Event{Kind: EventError, Err: errors.New().Wrap(errors.ErrGeneration, err), Tokens: count},
			label:  "error",
			tokens: count,
		}
	case finish == engine.FinishCancelled:
		return m.cancelled(ctx, count)
	}

	response := b.String()
	if v := m.safety.CheckOutput(ctx, response); !v.Safe {
		if ctx.Err() != nil {
			return m.cancelled(ctx, count)
		}
		return violation(v.Reason, count)
	}

	return outcome{
		event:  Event{Kind: EventCompleted, Text: response, Finish: finish, Tokens: count},
		label:  "completed",
		tokens: count,
		commit: &Exchange{
			Prompt:         req.prompt,
			Response:       response,
			PromptTokens:   promptTokens,
			ResponseTokens: count,
		},
	}
}

func violation(reason string, tokens int) outcome {
	return outcome{
		event:  Event{Kind: EventSafetyViolation, Reason: reason, Tokens: tokens},
		label:  "safety_violation",
		tokens: tokens,
	}
}

// cancelled reports the cancellation cause as an Error event.
func (m *Manager) cancelled(ctx context.Context, tokens int) outcome {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return outcome{
		event:  Event{Kind: EventError, Err: cause, Tokens: tokens},
		label:  "cancelled",
		tokens: tokens,
	}
}

// checker runs incremental output checks off the token path. Only the most
// recent partial output waiting to be checked is kept.
type checker struct {
	ctx     context.Context
	safety  safety.Checker
	cancel  context.CancelCauseFunc
	in      chan string
	done    chan struct{}
	mu      sync.Mutex
	verdict *safety.Verdict
}

func newChecker(ctx context.Context, sc safety.Checker, cancel context.CancelCauseFunc) *checker {
	c := &checker{
		ctx:    ctx,
		safety: sc,
		cancel: cancel,
		in:     make(chan string, 1),
		done:   make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *checker) loop() {
	defer close(c.done)
	for text := range c.in {
		if c.failed() {
			continue
		}
		v := c.safety.CheckOutput(c.ctx, text)
		if v.Safe || c.ctx.Err() != nil {
			continue
		}
		c.mu.Lock()
		c.verdict = &v
		c.mu.Unlock()
		c.cancel(errors.New().WithData(errors.ErrSafetyViolation, v.Reason))
	}
}

func (c *checker) failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verdict != nil
}

// offer queues text without blocking, replacing a queued older text.
func (c *checker) offer(text string) {
	for {
		select {
		case c.in <- text:
			return
		default:
		}
		select {
		case <-c.in:
		default:
		}
	}
}

// stop waits for the pending check and returns the failing verdict, if any.
func (c *checker) stop() *safety.Verdict {
	close(c.in)
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verdict
}
