// Package lazy runs an expensive constructor at most once on success.
package lazy

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Value holds a lazily constructed T. Concurrent first callers share a single
// constructor call. A failed construction is not cached, so the next Get
// tries again.
type Value[T any] struct {
	init  func(context.Context) (T, error)
	group singleflight.Group

	mu    sync.RWMutex
	val   T
	ready bool
}

func New[T any](init func(context.Context) (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the value, constructing it on first use.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if val, ok := v.loaded(); ok {
		return val, nil
	}
	res, err, _ := v.group.Do("init", func() (any, error) {
		if val, ok := v.loaded(); ok {
			return val, nil
		}
		// The first caller's cancellation must not fail everyone waiting on it.
		val, err := v.init(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.val, v.ready = val, true
		v.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Ready reports whether construction has completed.
func (v *Value[T]) Ready() bool {
	_, ok := v.loaded()
	return ok
}

func (v *Value[T]) loaded() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val, v.ready
}
