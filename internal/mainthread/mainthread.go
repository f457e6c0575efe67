// Package mainthread runs closures on a single locked OS thread.
//
// The host virtualization API must only be driven from one thread. A Loop
// owns that thread for the life of the process and drains a FIFO of closures
// submitted with Do or Call.
package mainthread

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrStopped is returned by Do after the loop has stopped.
var ErrStopped = errors.New("mainthread: loop stopped")

// Executor runs fn on the privileged thread and waits for it to return.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

type task struct {
	fn   func()
	done chan error
}

// Loop is an Executor backed by the goroutine that calls Run.
type Loop struct {
	tasks chan task
	quit  chan struct{}
	once  sync.Once
}

// New returns a loop that does nothing until Run is called.
func New() *Loop {
	return &Loop{
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}
}

// Run locks the calling goroutine to its OS thread and processes tasks until
// Stop. Call it from the goroutine that must own the host API, usually main.
func (l *Loop) Run() {
	runtime.LockOSThread()
	for {
		select {
		case t := <-l.tasks:
			t.done <- l.exec(t.fn)
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) exec(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mainthread: panic: %v", r)
		}
	}()
	fn()
	return nil
}

// Stop makes Run return after the task in progress, if any.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
}

// Do submits fn and blocks until it has run. A panic in fn is returned as an
// error. If ctx ends before fn is accepted, fn never runs; once accepted, Do
// waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case l.tasks <- t:
	case <-l.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.done
}

// Call runs fn on the executor and returns its results.
func Call[T any](ctx context.Context, e Executor, fn func() (T, error)) (T, error) {
	var (
		v    T
		ferr error
	)
	if err := e.Do(ctx, func() { v, ferr = fn() }); err != nil {
		var zero T
		return zero, err
	}
	return v, ferr
}

// Inline is an Executor that runs closures on the calling goroutine. Tests
// use it where thread affinity does not matter.
type Inline struct{}

func (Inline) Do(ctx context.Context, fn func()) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mainthread: panic: %v", r)
		}
	}()
	fn()
	return nil
}
