//go:build llama

package engine

import (
	"context"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	llama "github.com/go-skynet/go-llama.cpp"
)

var llamaBuilt = true

type llamaModel struct {
	lock    exclusive
	model   *llama.LLama
	threads int
	seed    int
}

func loadLlama(_ context.Context, path string, params LoadParams) (Model, error) {
	errFactory := errors.New()

	opts := []llama.ModelOption{
		llama.SetContext(params.ContextSize),
		llama.SetGPULayers(params.GPULayers),
	}
	if params.BatchSize > 0 {
		opts = append(opts, llama.SetNBatch(params.BatchSize))
	}
	if params.Embeddings {
		opts = append(opts, llama.EnableEmbeddings)
	}

	m, err := llama.New(path, opts...)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrModelLoad, err)
	}

	seed := params.Seed
	if seed < 0 {
		seed = int(time.Now().Unix())
	}

	return &llamaModel{lock: newExclusive(), model: m, threads: params.Threads, seed: seed}, nil
}

func (m *llamaModel) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(Token) error) (FinishReason, error) {
	errFactory := errors.New()

	if err := m.lock.acquire(ctx); err != nil {
		return FinishCancelled, err
	}
	defer m.lock.release()
	if m.model == nil {
		return "", errFactory.New(ErrModelFreed)
	}

	var (
		count   int
		stopErr error
		stopped bool
	)
	m.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			stopped = true
			return false
		}
		if err := onToken(Token{Text: tok, Confidence: 1}); err != nil {
			stopErr = err
			return false
		}
		count++
		return true
	})

	_, err := m.model.Predict(prompt, predictOptions(params, m.threads, m.seed)...)
	switch {
	case stopErr != nil:
		return "", stopErr
	case stopped || ctx.Err() != nil:
		return FinishCancelled, context.Cause(ctx)
	case err != nil:
		return "", errFactory.Wrap(errors.ErrGeneration, err)
	case params.MaxTokens > 0 && count >= params.MaxTokens:
		return FinishLength, nil
	default:
		return FinishStop, nil
	}
}

func (m *llamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	errFactory := errors.New()

	if err := m.lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.lock.release()
	if m.model == nil {
		return nil, errFactory.New(ErrModelFreed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emb, err := m.model.Embeddings(text, llama.SetThreads(m.threads))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrGeneration, err)
	}
	return emb, nil
}

// Unload waits for the running call, which callers cancel first.
func (m *llamaModel) Unload() error {
	if err := m.lock.acquire(context.Background()); err != nil {
		return err
	}
	defer m.lock.release()
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

func predictOptions(p GenerateParams, threads, seed int) []llama.PredictOption {
	if p.Threads > 0 {
		threads = p.Threads
	}
	if p.Seed != 0 {
		seed = p.Seed
	}
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(orFloat(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orInt(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orFloat(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orFloat(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetSeed(seed),
	}
	if p.BatchSize > 0 {
		po = append(po, llama.SetBatch(p.BatchSize))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
