//go:build !llama

package engine

import (
	"context"

	"codeberg.org/mutker/inferctl/internal/errors"
)

// Built without the "llama" tag: the backend is registered but refuses to
// load so CGO-free binaries never pretend to run inference.
var llamaBuilt = false

func loadLlama(context.Context, string, LoadParams) (Model, error) {
	return nil, errors.New().WithData(errors.ErrDependencyMissing, "llama support not built (missing 'llama' build tag)")
}
