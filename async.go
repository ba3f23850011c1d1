// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import "context"

// Future is the pending result of an asynchronous call
//
// Each *Async method starts the blocking method on its own goroutine, so an
// asynchronous call behaves exactly like its blocking counterpart. Cancel the
// context passed to the *Async method to abandon the call itself; the context
// passed to Wait only bounds the wait.
//
// Example:
//
//	devices := client.GetAsync(ctx, "Device", nil)
//	users := client.GetAsync(ctx, "User", nil)
//
//	d, err := devices.Wait(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	u, err := users.Wait(ctx)
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on a new goroutine and returns its Future
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

// Done is closed when the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// CallAsync is the asynchronous form of Call
func (c *Client) CallAsync(ctx context.Context, method string, params map[string]any, mods ...func(*Req)) *Future[any] {
	return Go(func() (any, error) {
		return c.Call(ctx, method, params, mods...)
	})
}

// MultiCallAsync is the asynchronous form of MultiCall
func (c *Client) MultiCallAsync(ctx context.Context, calls []MethodCall, mods ...func(*Req)) *Future[[]any] {
	return Go(func() ([]any, error) {
		return c.MultiCall(ctx, calls, mods...)
	})
}

// GetAsync is the asynchronous form of Get
func (c *Client) GetAsync(ctx context.Context, typeName string, params map[string]any, mods ...func(*Req)) *Future[[]Entity] {
	return Go(func() ([]Entity, error) {
		return c.Get(ctx, typeName, params, mods...)
	})
}

// AddAsync is the asynchronous form of Add
func (c *Client) AddAsync(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) *Future[string] {
	return Go(func() (string, error) {
		return c.Add(ctx, typeName, entity, mods...)
	})
}

// SetAsync is the asynchronous form of Set
func (c *Client) SetAsync(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		return struct{}{}, c.Set(ctx, typeName, entity, mods...)
	})
}

// RemoveAsync is the asynchronous form of Remove
func (c *Client) RemoveAsync(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		return struct{}{}, c.Remove(ctx, typeName, entity, mods...)
	})
}

// AuthenticateAsync is the asynchronous form of Authenticate
func (c *Client) AuthenticateAsync(ctx context.Context) *Future[Credentials] {
	return Go(func() (Credentials, error) {
		return c.Authenticate(ctx)
	})
}
