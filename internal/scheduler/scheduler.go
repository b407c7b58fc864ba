// Package scheduler owns the performance mode state machine. It reconciles
// the preferred mode, thermal state and boosts into one effective mode and
// sizes the worker pools accordingly.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/metrics"
	"codeberg.org/mutker/inferctl/internal/telemetry"
	"codeberg.org/mutker/inferctl/internal/thermal"
	"codeberg.org/mutker/inferctl/internal/workerpool"
	"github.com/google/uuid"
)

// ThermalSource is the view of the thermal monitor the scheduler needs.
type ThermalSource interface {
	CurrentState() thermal.State
	Trend() thermal.Trend
	Latest() (thermal.Reading, bool)
	Subscribe() <-chan thermal.StateChange
}

// PowerGovernor scales accelerator power with the effective mode.
type PowerGovernor interface {
	SetPowerFraction(fraction float64) error
}

// Recorder persists periodic snapshots.
type Recorder interface {
	Record(ctx context.Context, snapshot *telemetry.Snapshot) error
}

// Metrics is a point-in-time view of the scheduler.
type Metrics struct {
	Timestamp              time.Time
	Mode                   Mode
	PreferredMode          Mode
	ThermalState           thermal.State
	Trend                  thermal.Trend
	Temperature            float64
	InferenceThreads       int
	BackgroundThreads      int
	PoolVersion            uint64
	Boost                  *BoostInfo
	CPUPercent             float64
	MemoryPressure         float64
	AggressiveOptimization bool
}

type Scheduler struct {
	cfg      Config
	profile  device.Profile
	source   device.Source
	thermal  ThermalSource
	pools    *workerpool.Set
	log      logger.Logger
	sink     events.Sink
	power    PowerGovernor
	recorder Recorder
	now      func() time.Time
	after    func(time.Duration, func()) func() bool

	mu           sync.Mutex
	preferred    Mode
	effective    Mode
	applied      bool
	thermalState thermal.State
	trend        thermal.Trend
	temperature  float64
	boost        *BoostHandle
	lastBoostEnd time.Time
	aggressive   bool
	pending      bool
	threads      Threads
	load         device.Load

	// serializes pool and governor updates
	applyMu sync.Mutex
	inputs  atomic.Pointer[Inputs]
}

type Option func(*Scheduler)

func WithLogger(l logger.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithSink(sink events.Sink) Option { return func(s *Scheduler) { s.sink = sink } }

func WithPowerGovernor(g PowerGovernor) Option { return func(s *Scheduler) { s.power = g } }

func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithClock overrides the time source used for boosts and cooldowns.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(cfg Config, source device.Source, monitor ThermalSource, pools *workerpool.Set, opts ...Option) (*Scheduler, error) {
	errFactory := errors.New()

	if source == nil || monitor == nil || pools == nil {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "scheduler requires a device source, thermal source and pools")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		profile:   source.Profile(),
		source:    source,
		thermal:   monitor,
		pools:     pools,
		log:       logger.Nop(),
		sink:      events.Nop(),
		now:       time.Now,
		after:     afterFunc,
		preferred: cfg.InitialMode,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	s.thermalState = monitor.CurrentState()
	s.trend = monitor.Trend()
	if r, ok := monitor.Latest(); ok {
		s.temperature = r.Value
	}
	s.aggressive = s.thermalState == thermal.StateCritical
	s.threads = PolicyThreads(s.profile, s.effectiveLocked(), s.thermalState)
	s.publishInputsLocked()
	s.mu.Unlock()

	if err := s.reconcile(); err != nil {
		return nil, err
	}

	return s, nil
}

// effectiveLocked derives the effective mode: the preferred mode raised one
// step by an active boost, capped by the thermal ceiling.
func (s *Scheduler) effectiveLocked() Mode {
	m := s.preferred
	if s.boost != nil {
		m = m.Up()
	}
	return minMode(m, Ceiling(s.thermalState))
}

func (s *Scheduler) inputsLocked() Inputs {
	return Inputs{
		Mode:                s.effectiveLocked(),
		Thermal:             s.thermalState,
		Profile:             s.profile,
		MemoryPressure:      s.load.MemoryPressure,
		MemoryPressureRatio: s.cfg.MemoryPressureRatio,
		Aggressive:          s.aggressive,
	}
}

// publishInputsLocked stores the optimisation snapshot. Stores happen under
// mu so they are ordered; loads are lock-free.
func (s *Scheduler) publishInputsLocked() {
	in := s.inputsLocked()
	s.inputs.Store(&in)
}

// reconcile applies the current effective mode and thread counts to the
// pools and the power governor.
func (s *Scheduler) reconcile() error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	mode := s.effectiveLocked()
	prev, first := s.effective, !s.applied
	threads := s.threads
	s.effective = mode
	s.applied = true
	s.mu.Unlock()

	before := s.pools.Sizes()
	sizes, err := s.pools.Resize(threads.Inference, threads.Background)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to resize worker pools")
		return err
	}

	metrics.SetPerformanceMode(int(mode))
	metrics.SetPoolThreads(workerpool.InferencePool, sizes.Inference)
	metrics.SetPoolThreads(workerpool.BackgroundPool, sizes.Background)

	if before.Inference != sizes.Inference || before.Background != sizes.Background {
		s.log.Debug().
			Int("inference", sizes.Inference).
			Int("background", sizes.Background).
			Uint64("version", sizes.InferenceVersion).
			Msg("Worker pools resized")
		s.sink.Publish(events.New(events.ThreadsReconfigured, map[string]any{
			"inference":  sizes.Inference,
			"background": sizes.Background,
		}))
	}

	if first || prev != mode {
		if !first {
			s.log.Info().
				Str("from", prev.String()).
				Str("to", mode.String()).
				Msg("Performance mode changed")
			s.sink.Publish(events.New(events.ModeChanged, map[string]any{
				"from": prev.String(),
				"to":   mode.String(),
			}))
		}
		s.applyPower(mode)
	}

	return nil
}

func (s *Scheduler) applyPower(mode Mode) {
	if s.power == nil {
		return
	}
	fraction, ok := s.cfg.PowerFractions[mode]
	if !ok {
		return
	}
	if err := s.power.SetPowerFraction(fraction); err != nil {
		s.log.Warn().Err(err).Float64("fraction", fraction).Msg("Failed to apply power limit")
	}
}

// SetMode sets the preferred mode. It is rejected when the mode exceeds the
// thermal ceiling or another transition is being applied.
func (s *Scheduler) SetMode(mode Mode) error {
	if !mode.Valid() {
		return reject(ReasonInvalidMode, "%d", int(mode))
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return reject(ReasonTransitionPending, "mode transition in progress")
	}
	if ceiling := Ceiling(s.thermalState); mode > ceiling {
		state := s.thermalState
		s.mu.Unlock()
		return reject(ReasonThermalCeiling, "%s exceeds %s ceiling %s", mode, state, ceiling)
	}
	s.preferred = mode
	s.pending = true
	s.threads = PolicyThreads(s.profile, s.effectiveLocked(), s.thermalState)
	s.publishInputsLocked()
	s.mu.Unlock()

	err := s.reconcile()

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	return err
}

// RequestBoost escalates the effective mode by one step for duration (the
// configured default when duration <= 0).
func (s *Scheduler) RequestBoost(duration time.Duration, reason string) (*BoostHandle, error) {
	if duration <= 0 {
		duration = s.cfg.BoostDuration
	}

	s.mu.Lock()
	now := s.now()
	switch {
	case s.thermalState == thermal.StateCritical:
		s.mu.Unlock()
		return nil, reject(ReasonThermalCritical, "thermal state is critical")
	case s.boost != nil:
		id := s.boost.ID
		s.mu.Unlock()
		return nil, reject(ReasonBoostActive, "boost %s still active", id)
	case !s.lastBoostEnd.IsZero() && now.Sub(s.lastBoostEnd) < s.cfg.BoostCooldown:
		remaining := s.cfg.BoostCooldown - now.Sub(s.lastBoostEnd)
		s.mu.Unlock()
		return nil, reject(ReasonCooldown, "%s remaining", remaining)
	case s.effectiveLocked() >= Ceiling(s.thermalState):
		mode := s.effectiveLocked()
		s.mu.Unlock()
		return nil, reject(ReasonNoHeadroom, "%s is at the thermal ceiling", mode)
	}

	h := &BoostHandle{
		ID:       uuid.New(),
		Start:    now,
		Duration: duration,
		Reason:   reason,
		s:        s,
	}
	s.boost = h
	h.stop = s.after(duration, func() { s.endBoost(h, true) })
	s.threads = PolicyThreads(s.profile, s.effectiveLocked(), s.thermalState)
	s.publishInputsLocked()
	s.mu.Unlock()

	metrics.IncBoostsGranted()
	s.log.Info().
		Str("id", h.ID.String()).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("Performance boost granted")
	s.sink.Publish(events.New(events.BoostGranted, map[string]any{
		"id":       h.ID.String(),
		"reason":   reason,
		"duration": duration.String(),
	}))

	if err := s.reconcile(); err != nil {
		return h, err
	}
	return h, nil
}

// endBoostLocked clears h and starts the cooldown. It reports false if h is
// no longer the active boost.
func (s *Scheduler) endBoostLocked(h *BoostHandle) bool {
	if s.boost != h {
		return false
	}
	s.boost = nil
	s.lastBoostEnd = s.now()
	if h.stop != nil {
		h.stop()
	}
	s.threads = PolicyThreads(s.profile, s.effectiveLocked(), s.thermalState)
	s.publishInputsLocked()
	return true
}

func (s *Scheduler) endBoost(h *BoostHandle, expired bool) bool {
	s.mu.Lock()
	ended := s.endBoostLocked(h)
	s.mu.Unlock()
	if !ended {
		return false
	}

	name, msg := events.BoostCancelled, "Performance boost cancelled"
	if expired {
		name, msg = events.BoostExpired, "Performance boost expired"
	}
	s.log.Info().Str("id", h.ID.String()).Msg(msg)
	s.sink.Publish(events.New(name, map[string]any{"id": h.ID.String()}))

	if err := s.reconcile(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to apply mode after boost end")
	}
	return true
}

// OptimizeFor recommends an execution plan for task. It reads an atomic
// snapshot of the scheduler inputs and takes no locks.
func (s *Scheduler) OptimizeFor(task Task) Optimization {
	return Optimize(*s.inputs.Load(), task)
}

// ConfigureThreadPools clamps the requested counts into device bounds and
// resizes the pools. The counts hold until the next mode or thermal change.
func (s *Scheduler) ConfigureThreadPools(inference, background int) (workerpool.Sizes, error) {
	t := ClampThreads(s.profile, Threads{Inference: inference, Background: background})
	if !validThreads(s.profile, t) {
		return workerpool.Sizes{}, errors.New().WithData(errors.ErrConfiguration, t)
	}

	s.mu.Lock()
	s.threads = t
	s.mu.Unlock()

	if err := s.reconcile(); err != nil {
		return workerpool.Sizes{}, err
	}
	return s.pools.Sizes(), nil
}

// CurrentMode returns the effective mode.
func (s *Scheduler) CurrentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked()
}

func (s *Scheduler) CurrentMetrics() Metrics {
	sizes := s.pools.Sizes()

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Timestamp:              s.now(),
		Mode:                   s.effectiveLocked(),
		PreferredMode:          s.preferred,
		ThermalState:           s.thermalState,
		Trend:                  s.trend,
		Temperature:            s.temperature,
		InferenceThreads:       sizes.Inference,
		BackgroundThreads:      sizes.Background,
		PoolVersion:            sizes.InferenceVersion,
		CPUPercent:             s.load.CPUPercent,
		MemoryPressure:         s.load.MemoryPressure,
		AggressiveOptimization: s.aggressive,
	}
	if b := s.boost; b != nil {
		m.Boost = &BoostInfo{
			ID:        b.ID.String(),
			Reason:    b.Reason,
			Start:     b.Start,
			Remaining: max(0, b.Duration-m.Timestamp.Sub(b.Start)),
		}
	}
	return m
}

// Profile returns the device profile the scheduler was built with.
func (s *Scheduler) Profile() device.Profile { return s.profile }

// ThermalState returns the thermal state the scheduler last applied.
func (s *Scheduler) ThermalState() thermal.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermalState
}

// onThermalChange re-applies the throttle table for a new thermal state.
func (s *Scheduler) onThermalChange(c thermal.StateChange) {
	s.mu.Lock()
	prev := s.thermalState
	s.thermalState = c.Current
	s.trend = c.Trend
	if !c.Reading.Timestamp.IsZero() {
		s.temperature = c.Reading.Value
	}
	s.aggressive = c.Current == thermal.StateCritical

	var cancelled *BoostHandle
	if c.Current == thermal.StateCritical && s.boost != nil {
		cancelled = s.boost
		s.endBoostLocked(cancelled)
	}
	s.threads = PolicyThreads(s.profile, s.effectiveLocked(), s.thermalState)
	s.publishInputsLocked()
	s.mu.Unlock()

	metrics.SetThermalState(int(c.Current))
	s.log.Info().
		Str("from", prev.String()).
		Str("to", c.Current.String()).
		Str("ceiling", Ceiling(c.Current).String()).
		Msg("Applying thermal policy")

	if cancelled != nil {
		s.log.Warn().Str("id", cancelled.ID.String()).Msg("Performance boost cancelled by critical thermal state")
		s.sink.Publish(events.New(events.BoostCancelled, map[string]any{
			"id":     cancelled.ID.String(),
			"reason": "thermal_critical",
		}))
	}

	if err := s.reconcile(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to apply thermal policy")
	}
}

func (s *Scheduler) sampleLoad(ctx context.Context) {
	load, err := s.source.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample device load")
		return
	}

	s.mu.Lock()
	s.load = load
	if r, ok := s.thermal.Latest(); ok {
		s.temperature = r.Value
	}
	temp := s.temperature
	s.publishInputsLocked()
	s.mu.Unlock()

	metrics.SetTemperature(temp)
}

func (s *Scheduler) record(ctx context.Context) {
	if s.recorder == nil {
		return
	}
	m := s.CurrentMetrics()
	snap := &telemetry.Snapshot{
		Timestamp:         m.Timestamp,
		Temperature:       m.Temperature,
		ThermalState:      m.ThermalState.String(),
		Trend:             m.Trend.String(),
		Mode:              m.Mode.String(),
		PreferredMode:     m.PreferredMode.String(),
		InferenceThreads:  m.InferenceThreads,
		BackgroundThreads: m.BackgroundThreads,
		CPUPercent:        m.CPUPercent,
		MemoryPressure:    m.MemoryPressure,
		BoostActive:       m.Boost != nil,
	}
	if err := s.recorder.Record(ctx, snap); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record telemetry snapshot")
	}
}

// Run consumes thermal notifications and samples device load until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	changes := s.thermal.Subscribe()

	// catch up with changes that happened before the subscription
	if cur := s.thermal.CurrentState(); cur != s.ThermalState() {
		r, _ := s.thermal.Latest()
		s.onThermalChange(thermal.StateChange{
			Previous: s.ThermalState(),
			Current:  cur,
			Reading:  r,
			Trend:    s.thermal.Trend(),
		})
	}

	ticker := time.NewTicker(s.cfg.LoadPeriod)
	defer ticker.Stop()

	s.sampleLoad(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-changes:
			s.onThermalChange(c)
		case <-ticker.C:
			s.sampleLoad(ctx)
			s.record(ctx)
		}
	}
}
