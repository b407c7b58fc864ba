package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassFlagship, Classify(8, 16*gib))
	assert.Equal(t, ClassHigh, Classify(8, 8*gib))
	assert.Equal(t, ClassMidRange, Classify(4, 6*gib))
	assert.Equal(t, ClassBudget, Classify(4, 2*gib))
	assert.Equal(t, ClassBudget, Classify(2, 16*gib))
}

func TestDefaultThreadsStayWithinBounds(t *testing.T) {
	for cores := 1; cores <= 32; cores++ {
		for c := ClassBudget; c <= ClassFlagship; c++ {
			p := Profile{Cores: cores, Class: c}
			inf := DefaultInferenceThreads(p)
			bg := DefaultBackgroundThreads(p)
			assert.GreaterOrEqual(t, inf, 1)
			assert.LessOrEqual(t, inf, cores)
			assert.GreaterOrEqual(t, bg, 1)
			assert.LessOrEqual(t, bg, MaxBackgroundThreads(p))
		}
	}
	assert.Equal(t, 4, DefaultInferenceThreads(Profile{Cores: 4, Class: ClassMidRange}))
}

func TestParseClass(t *testing.T) {
	c, ok := ParseClass("MID_RANGE")
	require.True(t, ok)
	assert.Equal(t, ClassMidRange, c)
	_, ok = ParseClass("quantum")
	assert.False(t, ok)
}

func TestProfileCapabilities(t *testing.T) {
	p := Profile{Capabilities: CapGPU | CapFP16}
	assert.True(t, p.Has(CapFP16))
	assert.True(t, p.Has(CapGPU|CapFP16))
	assert.False(t, p.Has(CapINT8))
	assert.True(t, p.HasAccelerator())
	assert.False(t, Profile{Capabilities: CapINT8}.HasAccelerator())
}

func TestUtilisation(t *testing.T) {
	prev := procfs.CPUStat{User: 10, Idle: 90}
	cur := procfs.CPUStat{User: 40, Idle: 160}
	// 30 busy out of 100 elapsed
	assert.InDelta(t, 30.0, utilisation(prev, cur), 0.001)
	assert.Zero(t, utilisation(cur, cur))
}

func writeProc(t *testing.T, dir, stat string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o600))
	meminfo := "MemTotal:       8388608 kB\nMemFree:        1048576 kB\nMemAvailable:   2097152 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o600))
}

func TestProcSourceLoad(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, "cpu  100 0 100 800 0 0 0 0 0 0\ncpu0 50 0 50 400 0 0 0 0 0 0\ncpu1 50 0 50 400 0 0 0 0 0 0\n")

	src, err := NewProcSource(WithMountPoint(dir), WithCores(4), WithCapabilities(CapGPU|CapFP16, "test-gpu"))
	require.NoError(t, err)

	p := src.Profile()
	assert.Equal(t, 4, p.Cores)
	assert.Equal(t, uint64(8*gib), p.RAMBytes)
	assert.Equal(t, ClassHigh, Classify(8, p.RAMBytes))
	assert.Equal(t, ClassMidRange, p.Class)
	assert.Equal(t, "test-gpu", p.AcceleratorName)

	first, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, first.CPUPercent, 0.001)
	assert.Len(t, first.PerCore, 2)
	assert.InDelta(t, 0.75, first.MemoryPressure, 0.0001)

	// cpu0 fully busy, cpu1 idle over the next interval
	writeProc(t, dir, "cpu  200 0 100 900 0 0 0 0 0 0\ncpu0 150 0 50 400 0 0 0 0 0 0\ncpu1 50 0 50 500 0 0 0 0 0 0\n")
	second, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, second.CPUPercent, 0.001)
	require.Len(t, second.PerCore, 2)
	assert.InDelta(t, 100.0, second.PerCore[0], 0.001)
	assert.InDelta(t, 0.0, second.PerCore[1], 0.001)
}

func TestProcSourceClassOverride(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, "cpu  1 0 1 8 0 0 0 0 0 0\n")

	src, err := NewProcSource(WithMountPoint(dir), WithCores(2), WithClass(ClassFlagship))
	require.NoError(t, err)
	assert.Equal(t, ClassFlagship, src.Profile().Class)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(Profile{Cores: 4})
	src.SetLoad(Load{MemoryPressure: 0.5})
	l, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, l.MemoryPressure, 1e-9)
	assert.False(t, l.Timestamp.IsZero())

	src.SetError(assert.AnError)
	_, err = src.Load(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
