package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/safety"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/thermal"
	"codeberg.org/mutker/inferctl/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	delay  time.Duration
	text   func(i int) string
	failAt int

	mu       sync.Mutex
	params   []engine.GenerateParams
	unloaded bool
}

func (f *fakeModel) Generate(ctx context.Context, _ string, p engine.GenerateParams, onToken func(engine.Token) error) (engine.FinishReason, error) {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()

	for i := range p.MaxTokens {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return engine.FinishCancelled, context.Cause(ctx)
			}
		}
		if ctx.Err() != nil {
			return engine.FinishCancelled, context.Cause(ctx)
		}
		if f.failAt > 0 && i == f.failAt {
			return "", assert.AnError
		}
		text := "tok "
		if f.text != nil {
			text = f.text(i)
		}
		if err := onToken(engine.Token{Text: text, Confidence: 1}); err != nil {
			return "", err
		}
	}
	return engine.FinishLength, nil
}

func (f *fakeModel) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeModel) Unload() error {
	f.mu.Lock()
	f.unloaded = true
	f.mu.Unlock()
	return nil
}

func (f *fakeModel) lastParams() engine.GenerateParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

type fakeEngine struct {
	model *fakeModel
	err   error

	mu     sync.Mutex
	params engine.LoadParams
	loads  int
}

func (e *fakeEngine) LoadModel(_ context.Context, _ string, _ engine.Backend, p engine.LoadParams) (engine.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	e.params = p
	if e.err != nil {
		return nil, e.err
	}
	return e.model, nil
}

type fakePlanner struct {
	mu      sync.Mutex
	state   thermal.State
	profile device.Profile
}

func (p *fakePlanner) OptimizeFor(task scheduler.Task) scheduler.Optimization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return scheduler.Optimize(scheduler.Inputs{
		Mode:                scheduler.ModeBalanced,
		Thermal:             p.state,
		Profile:             p.profile,
		MemoryPressureRatio: 0.85,
	}, task)
}

func (p *fakePlanner) ThermalState() thermal.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlanner) Profile() device.Profile { return p.profile }

func (p *fakePlanner) set(s thermal.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

type flagged struct{ word string }

func (f flagged) CheckInput(_ context.Context, text string) safety.Verdict {
	if strings.Contains(text, f.word) {
		return safety.Verdict{Reason: "input contains " + f.word}
	}
	return safety.Safe
}

func (f flagged) CheckOutput(_ context.Context, text string) safety.Verdict {
	if strings.Contains(text, f.word) {
		return safety.Verdict{Reason: "output contains " + f.word}
	}
	return safety.Safe
}

var testModel = engine.Descriptor{ID: "tiny", Path: "/models/tiny.gguf", Backend: engine.BackendLlama}

type fixture struct {
	m       *Manager
	eng     *fakeEngine
	model   *fakeModel
	planner *fakePlanner
	sink    *events.MemorySink
}

func newFixture(t *testing.T, model *fakeModel, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		model:   model,
		eng:     &fakeEngine{model: model},
		planner: &fakePlanner{profile: device.Profile{Cores: 4, Class: device.ClassMidRange, Capabilities: device.CapFP16}},
		sink:    events.NewMemorySink(),
	}
	m, err := New(DefaultConfig(), f.eng, f.planner, append([]Option{WithSink(f.sink)}, opts...)...)
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, f.m.LoadModel(context.Background(), testModel))
}

func terminal(t *testing.T, evs []Event) Event {
	t.Helper()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.True(t, last.Kind.Terminal(), "last event %s", last.Kind)
	return last
}

func TestTrimConvergence(t *testing.T) {
	history := make([]Exchange, 5)
	for i := range history {
		history[i] = Exchange{PromptTokens: 100, ResponseTokens: 400}
	}

	kept, total, evicted := Trim(history, 2500, 2048, 2048)
	assert.Equal(t, 1, evicted)
	assert.Len(t, kept, 4)
	assert.Equal(t, 2000, total)

	kept, total, evicted = Trim(history, 2500, 2048, 1000)
	assert.Equal(t, 3, evicted)
	assert.Len(t, kept, 2)
	assert.Equal(t, 1000, total)

	kept, total, evicted = Trim(history[:4], 2000, 2048, 2048)
	assert.Zero(t, evicted)
	assert.Len(t, kept, 4)
	assert.Equal(t, 2000, total)

	huge := []Exchange{{PromptTokens: 3000}}
	kept, total, evicted = Trim(huge, 3000, 2048, 2048)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, kept)
	assert.Zero(t, total)
}

func TestAdapt(t *testing.T) {
	cfg := DefaultConfig()
	caller := Params{MaxTokens: 400, Temperature: 0.9}

	p := adapt(cfg, caller, thermal.StateNormal)
	assert.Equal(t, 400, p.MaxTokens)
	assert.InDelta(t, 0.9, p.Temperature, 1e-6)
	assert.Equal(t, cfg.Defaults.TopK, p.TopK)

	p = adapt(cfg, caller, thermal.StateWarm)
	assert.Equal(t, 400, p.MaxTokens)

	p = adapt(cfg, caller, thermal.StateHot)
	assert.Equal(t, 200, p.MaxTokens)
	assert.InDelta(t, 0.63, p.Temperature, 1e-6)

	p = adapt(cfg, caller, thermal.StateCritical)
	assert.Equal(t, 128, p.MaxTokens)
	assert.InDelta(t, 0.2, p.Temperature, 1e-6)

	p = adapt(cfg, Params{MaxTokens: 50}, thermal.StateCritical)
	assert.Equal(t, 50, p.MaxTokens)

	p = adapt(cfg, Params{}, thermal.StateNormal)
	assert.Equal(t, cfg.Defaults.MaxTokens, p.MaxTokens)
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("hi"))
	assert.Equal(t, 100, estimateTokens(strings.Repeat("a", 400)))
}

func TestBuildPrompt(t *testing.T) {
	got := buildPrompt("be brief", []Exchange{{Prompt: "hi", Response: "hello"}}, "bye")
	assert.Equal(t, "System: be brief\nUser: hi\nAssistant: hello\nUser: bye\nAssistant:", got)
}

func TestLoadModel(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	ctx := context.Background()

	require.NoError(t, f.m.LoadModel(ctx, testModel))
	assert.Equal(t, ModelReady, f.m.Status().ModelState)
	assert.Equal(t, 4, f.eng.params.Threads)
	assert.Equal(t, 2048, f.eng.params.ContextSize)
	assert.Zero(t, f.eng.params.GPULayers)
	assert.Equal(t, -1, f.eng.params.Seed)

	require.NoError(t, f.m.LoadModel(ctx, testModel))
	assert.Equal(t, 1, f.eng.loads)

	err := f.m.LoadModel(ctx, engine.Descriptor{ID: "other", Path: "/models/other.gguf"})
	reason, ok := scheduler.RejectionReason(err)
	require.True(t, ok)
	assert.Equal(t, ReasonModelLoaded, reason)

	require.NoError(t, f.m.UnloadModel())
	require.NoError(t, f.m.LoadModel(ctx, engine.Descriptor{ID: "other", Path: "/models/other.gguf", ContextSize: 4096}))
	assert.Equal(t, 4096, f.eng.params.ContextSize)
	assert.Equal(t, "other", f.m.Status().ModelID)
}

func TestLoadModelFailureAllowsRetry(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.eng.err = assert.AnError

	err := f.m.LoadModel(context.Background(), testModel)
	assert.True(t, errors.HasCode(err, errors.ErrModelLoad))
	assert.Equal(t, ModelFailed, f.m.Status().ModelState)
	assert.Contains(t, f.sink.Names(), events.ModelLoadFailed)

	_, err = f.m.CreateSession("", Options{})
	assert.True(t, errors.HasCode(err, errors.ErrNoModelLoaded))

	f.eng.err = nil
	require.NoError(t, f.m.LoadModel(context.Background(), testModel))
	assert.Equal(t, ModelReady, f.m.Status().ModelState)
}

func TestLoadParamsOffloadOnGPU(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.planner.profile = device.Profile{Cores: 8, Class: device.ClassFlagship, Capabilities: device.CapGPU | device.CapFP16}

	f.ready(t)
	assert.Equal(t, engine.AllLayers, f.eng.params.GPULayers)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, &fakeModel{})

	_, err := f.m.CreateSession("a", Options{})
	assert.True(t, errors.HasCode(err, errors.ErrNoModelLoaded))

	f.ready(t)
	c, err := f.m.CreateSession("", Options{SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Len(t, c.ID, 36)
	assert.Equal(t, "tiny", c.ModelID)
	assert.Equal(t, "be brief", c.SystemPrompt)
	assert.Equal(t, StateReady, c.State)

	_, err = f.m.CreateSession(c.ID, Options{})
	reason, _ := scheduler.RejectionReason(err)
	assert.Equal(t, ReasonSessionExists, reason)
	assert.Contains(t, f.sink.Names(), events.SessionCreated)
}

func TestGenerateStreamsInOrder(t *testing.T) {
	f := newFixture(t, &fakeModel{text: func(i int) string { return string(rune('a' + i%26)) }})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	evs := f.m.GenerateResponse(context.Background(), "s", "hello there", Params{MaxTokens: 30}).Collect()

	require.Len(t, evs, 32)
	assert.Equal(t, EventStarted, evs[0].Kind)
	for i, ev := range evs[1:31] {
		assert.Equal(t, EventToken, ev.Kind)
		assert.Equal(t, i, ev.Index)
	}
	done := terminal(t, evs)
	assert.Equal(t, EventCompleted, done.Kind)
	assert.Equal(t, 30, done.Tokens)
	assert.Equal(t, engine.FinishLength, done.Finish)
	assert.True(t, strings.HasPrefix(done.Text, "abcdef"))

	c, err := f.m.GetSessionContext("s")
	require.NoError(t, err)
	require.Len(t, c.Exchanges, 1)
	assert.Equal(t, c.Exchanges[0].Tokens(), c.TokenCount)
	assert.Equal(t, 3, c.Exchanges[0].PromptTokens)
	assert.Equal(t, 30, c.Exchanges[0].ResponseTokens)
	assert.Equal(t, StateReady, c.State)

	p := f.model.lastParams()
	assert.Equal(t, 4, p.Threads)
	assert.Positive(t, p.BatchSize)
}

func TestSlidingWindowAfterFourthExchange(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	prompt := strings.Repeat("p", 400) // 100 tokens
	for i := range 4 {
		evs := f.m.GenerateResponse(context.Background(), "s", prompt, Params{MaxTokens: 500}).Collect()
		require.Equal(t, EventCompleted, terminal(t, evs).Kind)

		c, err := f.m.GetSessionContext("s")
		require.NoError(t, err)
		if i < 3 {
			assert.Len(t, c.Exchanges, i+1)
			assert.Equal(t, 600*(i+1), c.TokenCount)
		}
	}

	c, err := f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.LessOrEqual(t, c.TokenCount, 2048)
	assert.Len(t, c.Exchanges, 3)

	sum := 0
	for _, e := range c.Exchanges {
		sum += e.Tokens()
	}
	assert.Equal(t, sum, c.TokenCount)
	assert.Contains(t, f.sink.Names(), events.SessionTrimmed)
}

func TestGenerateAdaptsToThermalState(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	f.planner.set(thermal.StateHot)
	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 100, Temperature: 1}).Collect()
	assert.Equal(t, 50, terminal(t, evs).Tokens)
	p := f.model.lastParams()
	assert.Equal(t, 50, p.MaxTokens)
	assert.InDelta(t, 0.7, p.Temperature, 1e-6)
	assert.Equal(t, 2, p.Threads)

	f.planner.set(thermal.StateCritical)
	evs = f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 1000}).Collect()
	assert.Equal(t, EventCompleted, terminal(t, evs).Kind)
	p = f.model.lastParams()
	assert.Equal(t, 128, p.MaxTokens)
	assert.InDelta(t, 0.2, p.Temperature, 1e-6)
	assert.Equal(t, 1, p.Threads)
}

func TestInputSafetyViolation(t *testing.T) {
	f := newFixture(t, &fakeModel{}, WithSafety(flagged{word: "forbidden"}))
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	evs := f.m.GenerateResponse(context.Background(), "s", "say forbidden things", Params{}).Collect()
	require.Len(t, evs, 2)
	assert.Equal(t, EventStarted, evs[0].Kind)
	assert.Equal(t, EventSafetyViolation, evs[1].Kind)
	assert.Contains(t, evs[1].Reason, "input")

	c, _ := f.m.GetSessionContext("s")
	assert.Empty(t, c.Exchanges)
	assert.Equal(t, StateReady, c.State)
}

func TestOutputSafetyViolationAbortsStream(t *testing.T) {
	model := &fakeModel{
		delay: time.Millisecond,
		text: func(i int) string {
			if i == 12 {
				return "bad "
			}
			return "ok "
		},
	}
	f := newFixture(t, model, WithSafety(flagged{word: "bad"}))
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 500}).Collect()
	last := terminal(t, evs)
	assert.Equal(t, EventSafetyViolation, last.Kind)
	assert.Contains(t, last.Reason, "output")
	assert.Less(t, last.Tokens, 500)

	c, _ := f.m.GetSessionContext("s")
	assert.Empty(t, c.Exchanges)
	assert.Zero(t, c.TokenCount)
}

func TestFinalSafetyCheck(t *testing.T) {
	model := &fakeModel{text: func(i int) string {
		if i == 4 {
			return "bad"
		}
		return "ok "
	}}
	f := newFixture(t, model, WithSafety(flagged{word: "bad"}))
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	// fewer tokens than the incremental interval: only the final check sees it
	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 5}).Collect()
	assert.Equal(t, EventSafetyViolation, terminal(t, evs).Kind)
}

func TestUnloadDuringGeneration(t *testing.T) {
	model := &fakeModel{delay: 2 * time.Millisecond}
	f := newFixture(t, model)
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	stream := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10000})
	require.Equal(t, EventStarted, (<-stream.Events()).Kind)
	require.Equal(t, EventToken, (<-stream.Events()).Kind)

	require.NoError(t, f.m.UnloadModel())

	st := f.m.Status()
	assert.Equal(t, ModelUnloaded, st.ModelState)
	assert.Zero(t, st.Sessions)
	assert.True(t, model.unloaded)

	last := terminal(t, stream.Collect())
	assert.Equal(t, EventError, last.Kind)
	assert.True(t, errors.HasCode(last.Err, errors.ErrModelUnloaded))
	assert.Contains(t, f.sink.Names(), events.ModelUnloaded)
}

func TestGenerateAfterUnload(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)
	require.NoError(t, f.m.UnloadModel())

	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{}).Collect()
	require.Len(t, evs, 1)
	assert.True(t, errors.HasCode(evs[0].Err, errors.ErrSessionNotFound))
}

func TestCloseSessionDuringGeneration(t *testing.T) {
	f := newFixture(t, &fakeModel{delay: 2 * time.Millisecond})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	stream := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10000})
	require.Equal(t, EventStarted, (<-stream.Events()).Kind)

	require.NoError(t, f.m.CloseSession("s"))
	_, err = f.m.GetSessionContext("s")
	assert.True(t, errors.HasCode(err, errors.ErrSessionNotFound))

	last := terminal(t, stream.Collect())
	assert.True(t, errors.HasCode(last.Err, errors.ErrSessionClosed))

	assert.True(t, errors.HasCode(f.m.CloseSession("s"), errors.ErrSessionNotFound))
	assert.Equal(t, ModelReady, f.m.Status().ModelState)
}

func TestStreamCloseCancelsGeneration(t *testing.T) {
	f := newFixture(t, &fakeModel{delay: 2 * time.Millisecond})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	stream := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10000})
	require.Equal(t, EventStarted, (<-stream.Events()).Kind)
	stream.Close()

	st := f.m.Status()
	assert.Zero(t, st.Generating)
	c, err := f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State)
	assert.Empty(t, c.Exchanges)

	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 3}).Collect()
	assert.Equal(t, EventCompleted, terminal(t, evs).Kind)
}

func TestConcurrentGenerationOnSessionRejected(t *testing.T) {
	f := newFixture(t, &fakeModel{delay: 2 * time.Millisecond})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	first := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10000})
	defer first.Close()
	require.Equal(t, EventStarted, (<-first.Events()).Kind)

	evs := f.m.GenerateResponse(context.Background(), "s", "again", Params{}).Collect()
	require.Len(t, evs, 1)
	reason, ok := scheduler.RejectionReason(evs[0].Err)
	require.True(t, ok)
	assert.Equal(t, ReasonSessionBusy, reason)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.ready(t)

	evs := f.m.GenerateResponse(context.Background(), "missing", "hi", Params{}).Collect()
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Kind)
	assert.True(t, errors.HasCode(evs[0].Err, errors.ErrSessionNotFound))
}

func TestEngineErrorKeepsSessionUsable(t *testing.T) {
	f := newFixture(t, &fakeModel{failAt: 3})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	last := terminal(t, f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10}).Collect())
	assert.Equal(t, EventError, last.Kind)
	assert.True(t, errors.HasCode(last.Err, errors.ErrGeneration))

	c, err := f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State)
	assert.Empty(t, c.Exchanges)

	f.model.failAt = 0
	last = terminal(t, f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 5}).Collect())
	assert.Equal(t, EventCompleted, last.Kind)

	c, err = f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.Len(t, c.Exchanges, 1)
}

func TestPendingTokensTrackRunningGeneration(t *testing.T) {
	f := newFixture(t, &fakeModel{delay: time.Millisecond})
	f.ready(t)
	_, err := f.m.CreateSession("s", Options{})
	require.NoError(t, err)

	stream := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 10000})
	require.Equal(t, EventStarted, (<-stream.Events()).Kind)
	for range 5 {
		require.Equal(t, EventToken, (<-stream.Events()).Kind)
	}

	require.Eventually(t, func() bool {
		c, err := f.m.GetSessionContext("s")
		return err == nil && c.PendingTokens >= 5
	}, time.Second, time.Millisecond)

	c, err := f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.Zero(t, c.TokenCount, "nothing committed mid-stream")

	stream.Close()
	c, err = f.m.GetSessionContext("s")
	require.NoError(t, err)
	assert.Zero(t, c.PendingTokens)
}

func TestCloseSessionWaitingForSaturatedPool(t *testing.T) {
	pools, err := workerpool.NewSet(context.Background(), 1, 1)
	require.NoError(t, err)
	defer pools.Close(time.Second)

	f := newFixture(t, &fakeModel{delay: time.Millisecond}, WithPools(pools))
	f.ready(t)
	for _, id := range []string{"a", "b"} {
		_, err := f.m.CreateSession(id, Options{})
		require.NoError(t, err)
	}

	// a holds the only inference worker; its consumer stops reading
	busy := f.m.GenerateResponse(context.Background(), "a", "hi", Params{MaxTokens: 100000})
	defer busy.Close()
	require.Equal(t, EventStarted, (<-busy.Events()).Kind)
	require.Equal(t, EventToken, (<-busy.Events()).Kind)

	queued := f.m.GenerateResponse(context.Background(), "b", "hi", Params{MaxTokens: 10})
	require.Equal(t, EventStarted, (<-queued.Events()).Kind)

	closed := make(chan error, 1)
	go func() { closed <- f.m.CloseSession("b") }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CloseSession blocked behind the busy worker")
	}

	last := terminal(t, queued.Collect())
	assert.Equal(t, EventError, last.Kind)
	assert.True(t, errors.HasCode(last.Err, errors.ErrSessionClosed))
	assert.Zero(t, last.Tokens)
}

func TestCloseAllSessionsKeepsModel(t *testing.T) {
	f := newFixture(t, &fakeModel{delay: time.Millisecond})
	f.ready(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.m.CreateSession(id, Options{})
		require.NoError(t, err)
	}
	stream := f.m.GenerateResponse(context.Background(), "b", "hi", Params{MaxTokens: 10000})

	f.m.CloseAllSessions()

	st := f.m.Status()
	assert.Zero(t, st.Sessions)
	assert.Equal(t, ModelReady, st.ModelState)
	assert.Equal(t, EventError, terminal(t, stream.Collect()).Kind)
}

func TestEmbedOnBackgroundPool(t *testing.T) {
	pools, err := workerpool.NewSet(context.Background(), 2, 1)
	require.NoError(t, err)
	defer pools.Close(time.Second)

	f := newFixture(t, &fakeModel{}, WithPools(pools))

	_, err = f.m.Embed(context.Background(), "abc")
	assert.True(t, errors.HasCode(err, errors.ErrNoModelLoaded))

	f.ready(t)
	v, err := f.m.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v)

	_, err = f.m.CreateSession("s", Options{})
	require.NoError(t, err)
	evs := f.m.GenerateResponse(context.Background(), "s", "hi", Params{MaxTokens: 5}).Collect()
	assert.Equal(t, EventCompleted, terminal(t, evs).Kind)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.WindowTarget = cfg.WindowCeiling + 1
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidConfig))

	_, err := New(DefaultConfig(), nil, &fakePlanner{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}
