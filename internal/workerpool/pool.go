// Package workerpool provides bounded worker pools that can be resized while
// work is in flight. A resize publishes a new pool version; the retired pool
// stops accepting work and drains what it already runs.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of pooled work.
type Task func(ctx context.Context) error

// pool is a single fixed-size generation.
type pool struct {
	version uint64
	size    int
	ctx     context.Context
	group   *errgroup.Group
	slots   *semaphore.Weighted

	mu      sync.Mutex
	retired bool
	active  int
	idle    chan struct{}
}

func newPool(ctx context.Context, version uint64, size int) *pool {
	return &pool{
		version: version,
		size:    size,
		ctx:     ctx,
		group:   &errgroup.Group{},
		slots:   semaphore.NewWeighted(int64(size)),
		idle:    make(chan struct{}),
	}
}

// submit waits for a worker slot or ctx. It reports false when the pool was
// retired before the task could be admitted.
func (p *pool) submit(ctx context.Context, task Task) (bool, error) {
	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		return false, nil
	}
	p.active++
	p.mu.Unlock()

	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.finish()
		return false, err
	}

	p.group.Go(func() error {
		defer p.finish()
		defer p.slots.Release(1)
		// errors are reported to the submitter; never cancel siblings
		_ = task(p.ctx)
		return nil
	})
	return true, nil
}

func (p *pool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.retired && p.active == 0 {
		close(p.idle)
	}
}

func (p *pool) retire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return
	}
	p.retired = true
	if p.active == 0 {
		close(p.idle)
	}
}

// drained is closed once the pool is retired and its last task returned.
func (p *pool) drained() <-chan struct{} { return p.idle }

// Pool is a resizable, versioned worker pool.
type Pool struct {
	name    string
	base    context.Context
	current atomic.Pointer[pool]
	nextVer atomic.Uint64
	closed  atomic.Bool

	mu      sync.Mutex
	retired []*pool
}

func New(ctx context.Context, name string, size int) (*Pool, error) {
	if size < 1 {
		return nil, errors.New().WithData(errors.ErrConfiguration, "pool size must be positive")
	}
	p := &Pool{name: name, base: ctx}
	p.current.Store(newPool(ctx, p.nextVer.Add(1), size))
	return p, nil
}

func (p *Pool) Name() string { return p.name }

func (p *Pool) Size() int { return p.current.Load().size }

func (p *Pool) Version() uint64 { return p.current.Load().version }

// Resize publishes a new pool generation of the given size and returns its
// version. Resizing to the current size is a no-op.
func (p *Pool) Resize(size int) (uint64, error) {
	errFactory := errors.New()
	if size < 1 {
		return 0, errFactory.WithData(errors.ErrConfiguration, "pool size must be positive")
	}
	if p.closed.Load() {
		return 0, errFactory.New(errors.ErrPoolClosed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.current.Load()
	if old.size == size {
		return old.version, nil
	}

	next := newPool(p.base, p.nextVer.Add(1), size)
	p.current.Store(next)
	old.retire()
	p.retired = append(p.retired, old)
	p.pruneLocked()

	return next.version, nil
}

// Submit runs task on the current generation, waiting while it is full. A
// wait abandoned through ctx returns the context's cause and never runs task.
// The result is delivered on the returned channel.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	errFactory := errors.New()
	res := make(chan error, 1)
	wrapped := func(ctx context.Context) error {
		err := task(ctx)
		res <- err
		return err
	}

	for {
		if p.closed.Load() {
			return nil, errFactory.New(errors.ErrPoolClosed)
		}
		// a concurrent Resize may retire cur; retry on the successor
		ok, err := p.current.Load().submit(ctx, wrapped)
		if err != nil {
			return nil, context.Cause(ctx)
		}
		if ok {
			return res, nil
		}
	}
}

// Do submits task and waits for its result or ctx.
func (p *Pool) Do(ctx context.Context, task Task) error {
	res, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retired returns the number of retired generations still draining.
func (p *Pool) Retired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.retired)
}

func (p *Pool) pruneLocked() {
	kept := p.retired[:0]
	for _, r := range p.retired {
		select {
		case <-r.drained():
		default:
			kept = append(kept, r)
		}
	}
	p.retired = kept
}

// Close stops accepting work and waits up to timeout for every generation to
// finish its in-flight tasks.
func (p *Pool) Close(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	cur := p.current.Load()
	cur.retire()
	all := append([]*pool{cur}, p.retired...)
	p.retired = nil
	p.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, g := range all {
		select {
		case <-g.drained():
		case <-deadline.C:
			return errors.New().WithData(errors.ErrTimeout, p.name)
		}
	}
	return nil
}
