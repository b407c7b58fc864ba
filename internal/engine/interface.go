// Package engine is the boundary to the native inference runtime. Loaders are
// selected by backend name; the llama.cpp loader is real only in binaries
// built with the "llama" tag.
package engine

import "context"

// Backend names a native runtime.
type Backend string

const BackendLlama Backend = "llama"

// Descriptor identifies a model file and how to load it.
type Descriptor struct {
	ID          string
	Path        string
	Backend     Backend
	ContextSize int
}

// LoadParams configures a model instance.
type LoadParams struct {
	ContextSize int
	Threads     int
	GPULayers   int
	BatchSize   int
	// Seed < 0 selects a time-based seed.
	Seed       int
	Embeddings bool
}

// GenerateParams configures one generation.
type GenerateParams struct {
	MaxTokens     int
	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	Threads       int
	BatchSize     int
	Seed          int
	Stop          []string
}

// Token is one streamed piece of output.
type Token struct {
	Text       string
	Confidence float32
}

// FinishReason reports why a generation ended without error.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
)

// Engine loads models.
type Engine interface {
	LoadModel(ctx context.Context, path string, backend Backend, params LoadParams) (Model, error)
}

// Model is a loaded model instance. Generate and Embed may be called from
// different goroutines but a model serves one call at a time.
type Model interface {
	// Generate streams tokens to onToken until the model stops, MaxTokens is
	// reached, ctx is cancelled or onToken returns an error.
	Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(Token) error) (FinishReason, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Unload() error
}

// Loader loads models for one backend.
type Loader func(ctx context.Context, path string, params LoadParams) (Model, error)
