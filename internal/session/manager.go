package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/safety"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/workerpool"
	"github.com/google/uuid"
)

// Executor runs pooled work. *workerpool.Pool satisfies it.
type Executor interface {
	Submit(ctx context.Context, task workerpool.Task) (<-chan error, error)
}

type generation struct {
	cancel   context.CancelCauseFunc
	released chan struct{}
	tokens   atomic.Int64
}

type conversation struct {
	ctx Context
	gen *generation
}

// registry is the manager-owned state, guarded by Manager.mu.
type registry struct {
	modelState ModelState
	desc       engine.Descriptor
	model      engine.Model
	sessions   map[string]*conversation
}

type Manager struct {
	cfg     Config
	engine  engine.Engine
	planner Planner
	safety  safety.Checker
	log     logger.Logger
	sink    events.Sink
	now     func() time.Time

	inference  Executor
	background Executor

	mu  sync.Mutex
	reg registry
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option { return func(m *Manager) { m.log = l } }

func WithSink(sink events.Sink) Option { return func(m *Manager) { m.sink = sink } }

func WithSafety(c safety.Checker) Option { return func(m *Manager) { m.safety = c } }

// WithPools runs generations on the inference pool and embeddings on the
// background pool.
func WithPools(set *workerpool.Set) Option {
	return func(m *Manager) {
		m.inference = set.Inference
		m.background = set.Background
	}
}

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func New(cfg Config, eng engine.Engine, planner Planner, opts ...Option) (*Manager, error) {
	if eng == nil || planner == nil {
		return nil, errors.New().WithData(errors.ErrInvalidArgument, "session manager requires an engine and a planner")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		engine:  eng,
		planner: planner,
		safety:  safety.AllowAll(),
		log:     logger.Nop(),
		sink:    events.Nop(),
		now:     time.Now,
		reg:     registry{sessions: make(map[string]*conversation)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LoadModel loads desc. Loading the model that is already ready is a no-op;
// a different model must be unloaded first. A failed load may be retried.
func (m *Manager) LoadModel(ctx context.Context, desc engine.Descriptor) error {
	errFactory := errors.New()

	if desc.ID == "" {
		return errFactory.WithData(errors.ErrInvalidArgument, "model id is empty")
	}

	m.mu.Lock()
	switch m.reg.modelState {
	case ModelReady:
		id := m.reg.desc.ID
		m.mu.Unlock()
		if id == desc.ID {
			return nil
		}
		return reject(ReasonModelLoaded, "model %q is loaded", id)
	case ModelLoading, ModelUnloading:
		id, state := m.reg.desc.ID, m.reg.modelState
		m.mu.Unlock()
		return reject(ReasonLoadInProgress, "model %q is %s", id, state)
	}
	m.reg.modelState = ModelLoading
	m.reg.desc = desc
	m.mu.Unlock()

	params := m.loadParams(desc)
	model, err := m.engine.LoadModel(ctx, desc.Path, desc.Backend, params)

	m.mu.Lock()
	if err != nil {
		m.reg.modelState = ModelFailed
		m.mu.Unlock()

		m.log.Error().Err(err).Str("model", desc.ID).Msg("Model load failed")
		m.sink.Publish(events.New(events.ModelLoadFailed, map[string]any{"model": desc.ID, "error": err.Error()}))
		if errors.HasCode(err, errors.ErrModelLoad) {
			return err
		}
		return errFactory.Wrap(errors.ErrModelLoad, err)
	}
	m.reg.modelState = ModelReady
	m.reg.model = model
	m.mu.Unlock()

	m.log.Info().
		Str("model", desc.ID).
		Int("threads", params.Threads).
		Int("gpu_layers", params.GPULayers).
		Msg("Model ready")
	m.sink.Publish(events.New(events.ModelLoaded, map[string]any{
		"model":      desc.ID,
		"threads":    params.Threads,
		"gpu_layers": params.GPULayers,
	}))
	return nil
}

func (m *Manager) loadParams(desc engine.Descriptor) engine.LoadParams {
	ctxSize := desc.ContextSize
	if ctxSize <= 0 {
		ctxSize = m.cfg.ContextSize
	}
	opt := m.planner.OptimizeFor(scheduler.Task{PromptTokens: ctxSize})
	return engine.LoadParams{
		ContextSize: ctxSize,
		Threads:     opt.Threads,
		GPULayers:   engine.GPULayers(m.planner.Profile(), opt.UseAccelerator),
		BatchSize:   opt.BatchSize,
		Seed:        m.cfg.Seed,
		Embeddings:  true,
	}
}

// UnloadModel cancels every in-flight generation, waits for them to release
// their sessions, removes all sessions and frees the model.
func (m *Manager) UnloadModel() error {
	m.mu.Lock()
	switch m.reg.modelState {
	case ModelLoading, ModelUnloading:
		id, state := m.reg.desc.ID, m.reg.modelState
		m.mu.Unlock()
		return reject(ReasonLoadInProgress, "model %q is %s", id, state)
	case ModelUnloaded:
		m.mu.Unlock()
		return nil
	}
	desc, model := m.reg.desc, m.reg.model
	m.reg.modelState = ModelUnloading
	ids, gens := m.closeLocked(nil)
	m.mu.Unlock()

	m.cancelAndWait(gens, errors.New().New(errors.ErrModelUnloaded))

	m.mu.Lock()
	for _, id := range ids {
		delete(m.reg.sessions, id)
	}
	m.reg.model = nil
	m.reg.desc = engine.Descriptor{}
	m.reg.modelState = ModelUnloaded
	m.mu.Unlock()

	m.publishClosed(ids, "model_unloaded")

	var err error
	if model != nil {
		err = model.Unload()
	}
	m.log.Info().Str("model", desc.ID).Int("sessions", len(ids)).Msg("Model unloaded")
	m.sink.Publish(events.New(events.ModelUnloaded, map[string]any{"model": desc.ID}))
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

// closeLocked marks the sessions in ids (all sessions when ids is nil)
// closed and collects their in-flight generations.
func (m *Manager) closeLocked(ids []string) ([]string, []*generation) {
	if ids == nil {
		for id := range m.reg.sessions {
			ids = append(ids, id)
		}
	}
	var gens []*generation
	for _, id := range ids {
		c := m.reg.sessions[id]
		c.ctx.State = StateClosed
		if c.gen != nil {
			gens = append(gens, c.gen)
		}
	}
	return ids, gens
}

func (m *Manager) cancelAndWait(gens []*generation, cause error) {
	for _, g := range gens {
		g.cancel(cause)
	}
	for _, g := range gens {
		<-g.released
	}
}

func (m *Manager) publishClosed(ids []string, reason string) {
	for _, id := range ids {
		m.sink.Publish(events.New(events.SessionClosed, map[string]any{"session": id, "reason": reason}))
	}
}

// CreateSession allocates a conversation bound to the ready model. An empty
// id is replaced by a random UUID.
func (m *Manager) CreateSession(id string, opts Options) (Context, error) {
	errFactory := errors.New()

	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if m.reg.modelState != ModelReady {
		m.mu.Unlock()
		return Context{}, errFactory.New(errors.ErrNoModelLoaded)
	}
	if _, ok := m.reg.sessions[id]; ok {
		m.mu.Unlock()
		return Context{}, reject(ReasonSessionExists, "session %q exists", id)
	}
	now := m.now()
	c := &conversation{ctx: Context{
		ID:           id,
		ModelID:      m.reg.desc.ID,
		State:        StateReady,
		SystemPrompt: opts.SystemPrompt,
		CreatedAt:    now,
		LastActivity: now,
	}}
	m.reg.sessions[id] = c
	out := c.ctx.clone()
	m.mu.Unlock()

	m.log.Debug().Str("session", id).Str("model", out.ModelID).Msg("Session created")
	m.sink.Publish(events.New(events.SessionCreated, map[string]any{"session": id, "model": out.ModelID}))
	return out, nil
}

func (c Context) clone() Context {
	c.Exchanges = slices.Clone(c.Exchanges)
	return c
}

func (m *Manager) GetSessionContext(id string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.reg.sessions[id]
	if !ok {
		return Context{}, errors.New().WithData(errors.ErrSessionNotFound, id)
	}
	out := c.ctx.clone()
	if c.gen != nil {
		out.PendingTokens = int(c.gen.tokens.Load())
	}
	return out, nil
}

// CloseSession cancels the session's generation, waits for it to stop and
// removes the session.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	if _, ok := m.reg.sessions[id]; !ok {
		m.mu.Unlock()
		return errors.New().WithData(errors.ErrSessionNotFound, id)
	}
	ids, gens := m.closeLocked([]string{id})
	m.mu.Unlock()

	m.cancelAndWait(gens, errors.New().New(errors.ErrSessionClosed))

	m.mu.Lock()
	delete(m.reg.sessions, id)
	m.mu.Unlock()

	m.publishClosed(ids, "closed")
	return nil
}

// CloseAllSessions closes every session and keeps the model loaded.
func (m *Manager) CloseAllSessions() {
	m.mu.Lock()
	ids, gens := m.closeLocked(nil)
	m.mu.Unlock()

	m.cancelAndWait(gens, errors.New().New(errors.ErrSessionClosed))

	m.mu.Lock()
	for _, id := range ids {
		delete(m.reg.sessions, id)
	}
	m.mu.Unlock()

	m.publishClosed(ids, "closed")
}

// Embed computes an embedding with the loaded model.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	if m.reg.modelState != ModelReady {
		m.mu.Unlock()
		return nil, errors.New().New(errors.ErrNoModelLoaded)
	}
	model := m.reg.model
	m.mu.Unlock()

	var out []float32
	err := m.run(ctx, m.background, func(ctx context.Context) error {
		var err error
		out, err = model.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run executes task on exec, or inline without one, and waits for it. Waiting
// for a free worker ends with ctx.
func (m *Manager) run(ctx context.Context, exec Executor, task func(context.Context) error) error {
	if exec == nil {
		return task(ctx)
	}
	res, err := exec.Submit(ctx, func(context.Context) error { return task(ctx) })
	if err != nil {
		return err
	}
	return <-res
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		ModelID:    m.reg.desc.ID,
		ModelState: m.reg.modelState,
		Sessions:   len(m.reg.sessions),
	}
	for _, c := range m.reg.sessions {
		if c.gen != nil {
			st.Generating++
		}
	}
	return st
}

// Close unloads the model, closing every session.
func (m *Manager) Close() error {
	m.CloseAllSessions()
	return m.UnloadModel()
}
