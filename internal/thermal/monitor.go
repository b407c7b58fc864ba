package thermal

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/cenkalti/backoff/v5"
)

// Monitor samples a Sensor, keeps a bounded history and derives the current
// State and Trend. All methods are safe for concurrent use.
type Monitor struct {
	cfg    Config
	sensor Sensor
	log    logger.Logger
	sink   events.Sink
	now    func() time.Time

	mu        sync.RWMutex
	hist      *history
	latest    Reading
	hasLatest bool
	state     State
	trend     Trend
	failures  int

	subMu sync.Mutex
	subs  []chan StateChange
}

type Option func(*Monitor)

func WithLogger(l logger.Logger) Option { return func(m *Monitor) { m.log = l } }

func WithSink(s events.Sink) Option { return func(m *Monitor) { m.sink = s } }

// WithClock overrides the time source used to stamp readings.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func NewMonitor(cfg Config, sensor Sensor, opts ...Option) (*Monitor, error) {
	errFactory := errors.New()

	if sensor == nil {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "nil sensor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:    cfg,
		sensor: sensor,
		log:    logger.Nop(),
		sink:   events.Nop(),
		now:    time.Now,
		hist:   newHistory(cfg.HistorySize),
		state:  StateNormal,
		trend:  TrendStable,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Sample reads the sensor once and records the result. On failure the last
// known state is kept.
func (m *Monitor) Sample(ctx context.Context) (Reading, error) {
	errFactory := errors.New()

	r, err := m.sensor.Read(ctx)
	if err != nil {
		m.mu.Lock()
		m.failures++
		m.mu.Unlock()
		return Reading{}, errFactory.Wrap(ErrSensorRead, err)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}

	m.mu.Lock()
	m.hist.push(r)
	m.latest = r
	m.hasLatest = true
	m.failures = 0
	prev := m.state
	m.state = m.cfg.Thresholds.Classify(r.Value)
	m.trend = ClassifyTrend(m.hist.last(m.cfg.TrendWindow), m.cfg.StableSlope, m.cfg.FastSlope)
	change := StateChange{Previous: prev, Current: m.state, Reading: r, Trend: m.trend}
	m.mu.Unlock()

	if change.Previous != change.Current {
		m.log.Info().
			Str("from", change.Previous.String()).
			Str("to", change.Current.String()).
			Float64("value", r.Value).
			Str("trend", change.Trend.String()).
			Msg("Thermal state changed")
		m.notify(change)
	}

	return r, nil
}

// Latest returns the most recent reading and whether one exists.
func (m *Monitor) Latest() (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

func (m *Monitor) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Trend() Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trend
}

// History returns a copy of the recorded readings, oldest first.
func (m *Monitor) History() []Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist.last(m.hist.len())
}

// ConsecutiveFailures is the number of sensor errors since the last good read.
func (m *Monitor) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// Subscribe returns a channel receiving state changes. The channel holds at
// most one pending change; a newer change replaces an unread one.
func (m *Monitor) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Monitor) notify(change StateChange) {
	m.sink.Publish(events.New(events.ThermalStateChanged, map[string]any{
		"from":  change.Previous.String(),
		"to":    change.Current.String(),
		"value": change.Reading.Value,
		"trend": change.Trend.String(),
	}))

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
			continue
		default:
		}
		// drop the stale change, then deliver
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}

// Run samples until ctx is done. Sensor errors back off exponentially from
// the period up to twice the period and reset on the next good read.
func (m *Monitor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.Period
	bo.MaxInterval = 2 * m.cfg.Period
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	m.log.Debug().Dur("period", m.cfg.Period).Msg("Thermal monitor started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug().Msg("Thermal monitor stopped")
			return ctx.Err()
		case <-timer.C:
			wait := m.cfg.Period
			if _, err := m.Sample(ctx); err != nil {
				wait = bo.NextBackOff()
				m.log.Warn().
					Err(err).
					Int("failures", m.ConsecutiveFailures()).
					Dur("retry_in", wait).
					Msg("Thermal sensor read failed, keeping last state")
			} else {
				bo.Reset()
			}
			timer.Reset(wait)
		}
	}
}
