//go:build !llama

package engine

import (
	"context"
	"testing"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestLlamaStubReportsMissingDependency(t *testing.T) {
	assert.False(t, LlamaAvailable())

	_, err := NewRegistry(logger.Nop()).LoadModel(context.Background(), modelFile(t), BackendLlama, LoadParams{})
	assert.True(t, errors.HasCode(err, errors.ErrDependencyMissing))
}
