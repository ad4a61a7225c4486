package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking generation calls run at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a pool of size workers. Size below 1 means 1.
func NewPool(size int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(max(1, size)))}
}

// Do runs fn on a worker and waits for it. When ctx ends first, Do returns
// ctx.Err() and fn keeps its slot until it returns.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer p.sem.Release(1)
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pooled routes a client's blocking calls through a pool. Calls that cannot
// get a worker before ctx ends return offline output.
type Pooled struct {
	Client
	pool    *Pool
	offline *Offline
}

// NewPooled wraps c. dims sizes offline vectors.
func NewPooled(c Client, pool *Pool, dims int) *Pooled {
	return &Pooled{Client: c, pool: pool, offline: NewOffline(dims)}
}

func (p *Pooled) Chat(ctx context.Context, msgs []Message, opts ChatOptions) string {
	var out string
	if err := p.pool.Do(ctx, func() { out = p.Client.Chat(ctx, msgs, opts) }); err != nil {
		return p.offline.Chat(ctx, msgs, opts)
	}
	return out
}

func (p *Pooled) Embed(ctx context.Context, text string) []float32 {
	var out []float32
	if err := p.pool.Do(ctx, func() { out = p.Client.Embed(ctx, text) }); err != nil {
		return p.offline.Embed(ctx, text)
	}
	return out
}
