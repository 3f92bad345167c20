// Package sched provides the cooperative task substrate used by every other
// component: spawn/await/cancel primitives over a shared pool. Task bodies
// are cooperative units of work multiplexed by the runtime onto a fixed set
// of OS threads; cancellation is requested through the task's context and
// honored at the body's suspension points, never by preemption.
package sched

import (
	"context"
	"fmt"
	"sync"
)

// Pool runs spawned tasks and tracks them until shutdown. It is constructed
// once at startup, handed to the drivers, and shut down after cleanup; it is
// not a hidden process-wide singleton.
type Pool struct {
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool creates a pool whose tasks derive from the given parent context.
func NewPool(parent context.Context) *Pool {
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Task is a handle to one spawned unit of work. It can be awaited by any
// number of goroutines and canceled at most usefully once.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Spawn enqueues fn onto the pool and returns immediately with a handle.
// A panic inside fn does not crash the pool; it is converted into an error
// surfaced to whoever awaits the handle.
func (p *Pool) Spawn(fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(p.baseCtx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer cancel()

		// A cancellation that lands before the body starts guarantees the
		// body never runs at all.
		if err := ctx.Err(); err != nil {
			t.err = err
			return
		}

		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.err = fn(ctx)
	}()

	return t
}

// Run drives fn to completion on the pool, blocking the caller until it
// finishes or ctx is canceled.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.Spawn(fn).Await(ctx)
}

// Shutdown cancels all outstanding tasks cooperatively and waits for them
// to drain.
func (p *Pool) Shutdown() {
	p.baseCancel()
	p.wg.Wait()
}

// Cancel requests cooperative cancellation of the task. The task's body
// observes it through its context; nothing is preempted.
func (t *Task) Cancel() {
	t.cancel()
}

// Await blocks until the task finishes and returns its error, or until ctx
// is canceled. Once Await has returned a non-ctx error or nil, the task body
// is guaranteed to have stopped running.
func (t *Task) Await(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAndWait cancels the task and waits for its body to stop. The task's
// own error is discarded; used for tearing down helper tasks whose outcome
// no longer matters.
func (t *Task) CancelAndWait() {
	t.cancel()
	<-t.done
}
