package engine

import (
	"context"
	"sync"

	"github.com/hoppxi/umbra/pkg/brightness"
)

// await starts an operation and blocks until it completes or ctx ends. The
// operation itself keeps running when ctx ends first.
func await(ctx context.Context, start func(done func())) error {
	ch := make(chan struct{})
	var once sync.Once
	start(func() { once.Do(func() { close(ch) }) })

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) DimContext(ctx context.Context, target brightness.Value) error {
	return await(ctx, func(done func()) { e.Dim(target, done) })
}

func (e *Engine) UndimContext(ctx context.Context) error {
	return await(ctx, e.Undim)
}

func (e *Engine) SetCustomContext(ctx context.Context, level brightness.Value) error {
	return await(ctx, func(done func()) { e.SetCustom(level, done) })
}

func (e *Engine) RefreshMappingContext(ctx context.Context) error {
	return await(ctx, e.RefreshMapping)
}

func (e *Engine) CurrentBrightnessContext(ctx context.Context) ([]Reading, error) {
	ch := make(chan []Reading, 1)
	e.CurrentBrightness(func(r []Reading) { ch <- r })
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
