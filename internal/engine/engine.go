package engine

import (
	"context"
	"os"
	"strings"
	"sync"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
)

const defaultThreads = 4

// Registry dispatches LoadModel to a Loader by backend.
type Registry struct {
	mu      sync.RWMutex
	loaders map[Backend]Loader
	log     logger.Logger
}

// NewRegistry returns a registry with the llama backend registered.
func NewRegistry(log logger.Logger) *Registry {
	r := &Registry{loaders: make(map[Backend]Loader), log: log}
	r.Register(BackendLlama, loadLlama)
	return r
}

func (r *Registry) Register(b Backend, l Loader) {
	r.mu.Lock()
	r.loaders[b] = l
	r.mu.Unlock()
}

func (r *Registry) LoadModel(ctx context.Context, path string, backend Backend, params LoadParams) (Model, error) {
	errFactory := errors.New()

	if strings.TrimSpace(path) == "" {
		return nil, errFactory.New(ErrEmptyPath)
	}
	if backend == "" {
		backend = BackendLlama
	}

	r.mu.RLock()
	load, ok := r.loaders[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, errFactory.WithData(ErrUnknownBackend, string(backend))
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errFactory.Wrap(errors.ErrResourceNotFound, err)
	}

	if params.Threads <= 0 {
		params.Threads = defaultThreads
	}

	r.log.Info().
		Str("path", path).
		Str("backend", string(backend)).
		Int("context_size", params.ContextSize).
		Int("threads", params.Threads).
		Int("gpu_layers", params.GPULayers).
		Msg("Loading model")

	return load(ctx, path, params)
}

// LlamaAvailable reports whether this binary carries the native runtime.
func LlamaAvailable() bool { return llamaBuilt }
