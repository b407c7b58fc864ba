package thermal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSensor struct {
	mu     sync.Mutex
	values []float64
	errs   []error
	i      int
}

func (s *scriptedSensor) Read(context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.i
	s.i++
	if i < len(s.errs) && s.errs[i] != nil {
		return Reading{}, s.errs[i]
	}
	if i >= len(s.values) {
		return Reading{Value: s.values[len(s.values)-1]}, nil
	}
	return Reading{Value: s.values[i]}, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestMonitor(t *testing.T, s Sensor, opts ...Option) *Monitor {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m, err := NewMonitor(DefaultConfig(), s, append([]Option{WithClock(clk.now)}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		value float64
		want  State
	}{
		{20, StateNormal},
		{34.9, StateNormal},
		{35, StateWarm},
		{44.9, StateWarm},
		{45, StateHot},
		{49.9, StateHot},
		{50, StateCritical},
		{90, StateCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.value))
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	base := time.Unix(0, 0)
	series := func(slope float64, n int) []Reading {
		out := make([]Reading, n)
		for i := range out {
			out[i] = Reading{Timestamp: base.Add(time.Duration(i) * time.Second), Value: 40 + slope*float64(i)}
		}
		return out
	}

	tests := []struct {
		name     string
		readings []Reading
		want     Trend
	}{
		{"too few samples", series(1, 2), TrendStable},
		{"flat", series(0, 10), TrendStable},
		{"below stable slope", series(0.01, 10), TrendStable},
		{"rising", series(0.05, 10), TrendRising},
		{"rising fast", series(0.5, 10), TrendRisingFast},
		{"falling", series(-0.05, 10), TrendFalling},
		{"falling fast", series(-0.5, 10), TrendFallingFast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrend(tt.readings, defaultStableSlope, defaultFastSlope))
		})
	}
}

func TestSlopeZeroSpread(t *testing.T) {
	ts := time.Unix(0, 0)
	assert.Zero(t, Slope([]Reading{{Timestamp: ts, Value: 1}, {Timestamp: ts, Value: 5}}))
	assert.InDelta(t, 2.0, Slope([]Reading{
		{Timestamp: ts, Value: 1},
		{Timestamp: ts.Add(time.Second), Value: 3},
		{Timestamp: ts.Add(2 * time.Second), Value: 5},
	}), 1e-9)
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := newHistory(3)
	for i := 1; i <= 5; i++ {
		h.push(Reading{Value: float64(i)})
	}
	got := h.last(10)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{got[0].Value, got[1].Value, got[2].Value})
	assert.Equal(t, 5.0, h.last(1)[0].Value)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Thresholds = Thresholds{Warm: 50, Hot: 45, Critical: 60}
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.TrendWindow = cfg.HistorySize + 1
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Period = 0
	assert.True(t, errors.HasCode(cfg.Validate(), errors.ErrInvalidInterval))
}

func TestMonitorEmitsOnlyOnStateChange(t *testing.T) {
	sink := events.NewMemorySink()
	s := &scriptedSensor{values: []float64{30, 31, 36, 37, 46, 51, 40}}
	m := newTestMonitor(t, s, WithSink(sink))
	sub := m.Subscribe()
	ctx := context.Background()

	var seen []StateChange
	for range s.values {
		_, err := m.Sample(ctx)
		require.NoError(t, err)
		select {
		case c := <-sub:
			seen = append(seen, c)
		default:
		}
	}

	require.Len(t, seen, 4)
	assert.Equal(t, StateNormal, seen[0].Previous)
	assert.Equal(t, StateWarm, seen[0].Current)
	assert.Equal(t, StateHot, seen[1].Current)
	assert.Equal(t, StateCritical, seen[2].Current)
	assert.Equal(t, StateWarm, seen[3].Current)
	assert.Len(t, sink.Names(), 4)
	assert.Equal(t, StateWarm, m.CurrentState())
	assert.Len(t, m.History(), len(s.values))
}

func TestMonitorSubscriptionCoalesces(t *testing.T) {
	s := &scriptedSensor{values: []float64{36, 46, 51}}
	m := newTestMonitor(t, s)
	sub := m.Subscribe()

	for range s.values {
		_, err := m.Sample(context.Background())
		require.NoError(t, err)
	}

	got := <-sub
	assert.Equal(t, StateCritical, got.Current)
	assert.Equal(t, StateHot, got.Previous)
	select {
	case extra := <-sub:
		t.Fatalf("unexpected extra change %+v", extra)
	default:
	}
}

func TestMonitorKeepsStateOnSensorFailure(t *testing.T) {
	boom := fmt.Errorf("i2c timeout")
	s := &scriptedSensor{values: []float64{46, 0, 0, 47}, errs: []error{nil, boom, boom}}
	m := newTestMonitor(t, s)
	ctx := context.Background()

	_, err := m.Sample(ctx)
	require.NoError(t, err)
	require.Equal(t, StateHot, m.CurrentState())

	_, err = m.Sample(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrSensorRead))
	_, err = m.Sample(ctx)
	require.Error(t, err)

	assert.Equal(t, StateHot, m.CurrentState())
	assert.Equal(t, 2, m.ConsecutiveFailures())
	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 46.0, latest.Value)

	_, err = m.Sample(ctx)
	require.NoError(t, err)
	assert.Zero(t, m.ConsecutiveFailures())
}

func TestMonitorRunSamplesUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Period = 5 * time.Millisecond
	s := &scriptedSensor{values: []float64{30, 36, 46}}
	m, err := NewMonitor(cfg, s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.CurrentState() == StateHot }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitorRejectsNilSensor(t *testing.T) {
	_, err := NewMonitor(DefaultConfig(), nil)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func writeZone(t *testing.T, root string, n int, typ string, milli int) {
	t.Helper()
	dir := filepath.Join(root, "class", "thermal", fmt.Sprintf("thermal_zone%d", n))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "type"), []byte(typ+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy"), []byte("step_wise\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte(fmt.Sprintf("%d\n", milli)), 0o644))
}

func TestSysfsSensor(t *testing.T) {
	root := t.TempDir()
	writeZone(t, root, 0, "acpitz", 41000)
	writeZone(t, root, 1, "x86_pkg_temp", 52500)

	s, err := NewSysfsSensor(root)
	require.NoError(t, err)
	r, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 52.5, r.Value, 1e-9)

	s, err = NewSysfsSensor(root, "acpitz")
	require.NoError(t, err)
	r, err = s.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 41.0, r.Value, 1e-9)

	s, err = NewSysfsSensor(root, "battery")
	require.NoError(t, err)
	_, err = s.Read(context.Background())
	assert.True(t, errors.HasCode(err, ErrNoThermalZones))
}
