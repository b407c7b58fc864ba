package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopModel struct{}

func (nopModel) Generate(context.Context, string, GenerateParams, func(Token) error) (FinishReason, error) {
	return FinishStop, nil
}
func (nopModel) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (nopModel) Unload() error                                    { return nil }

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiny.gguf")
	require.NoError(t, os.WriteFile(path, []byte("GGUF"), 0o600))
	return path
}

func TestRegistryDispatchesByBackend(t *testing.T) {
	r := NewRegistry(logger.Nop())

	var got LoadParams
	r.Register("fake", func(_ context.Context, _ string, p LoadParams) (Model, error) {
		got = p
		return nopModel{}, nil
	})

	m, err := r.LoadModel(context.Background(), modelFile(t), "fake", LoadParams{ContextSize: 512})
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Equal(t, 512, got.ContextSize)
	assert.Equal(t, defaultThreads, got.Threads)
}

func TestRegistryRejectsBadInput(t *testing.T) {
	r := NewRegistry(logger.Nop())
	ctx := context.Background()

	_, err := r.LoadModel(ctx, "  ", BackendLlama, LoadParams{})
	assert.True(t, errors.HasCode(err, ErrEmptyPath))

	_, err = r.LoadModel(ctx, modelFile(t), "onnx", LoadParams{})
	assert.True(t, errors.HasCode(err, ErrUnknownBackend))
	assert.Equal(t, "onnx", errors.DataOf(err))

	_, err = r.LoadModel(ctx, filepath.Join(t.TempDir(), "missing.gguf"), BackendLlama, LoadParams{})
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))
}

func TestGPULayers(t *testing.T) {
	gpu := device.Profile{Cores: 8, Capabilities: device.CapGPU | device.CapFP16}

	tests := []struct {
		name  string
		class device.Class
		use   bool
		caps  device.Capability
		want  int
	}{
		{"no accelerator use", device.ClassFlagship, false, gpu.Capabilities, 0},
		{"cpu only", device.ClassFlagship, true, device.CapFP16, 0},
		{"flagship", device.ClassFlagship, true, gpu.Capabilities, AllLayers},
		{"high", device.ClassHigh, true, gpu.Capabilities, AllLayers},
		{"midrange", device.ClassMidRange, true, gpu.Capabilities, 16},
		{"budget", device.ClassBudget, true, gpu.Capabilities, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := gpu
			p.Class = tt.class
			p.Capabilities = tt.caps
			assert.Equal(t, tt.want, GPULayers(p, tt.use))
		})
	}
}
