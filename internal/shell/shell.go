// Package shell models the host application around the VM: the exit request
// raised when the user quits, the terminating flag, and the window that is
// promoted when the application is reactivated.
package shell

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Window is the application's main window.
type Window interface {
	Show()
	RequestFocus()
}

// Options configures a Shell.
type Options struct {
	// OnReply is called once with the answer to a deferred exit request.
	OnReply func(ok bool)

	// OnTerminate is called once to quit the application.
	OnTerminate func()

	Logger zerolog.Logger
}

// Shell is the explicit home for application-level state. The CLI owns one
// per process.
type Shell struct {
	onReply     func(bool)
	onTerminate func()
	log         zerolog.Logger

	terminating atomic.Bool
	exitCh      chan struct{}
	exitOnce    sync.Once
	replyOnce   sync.Once
	termOnce    sync.Once

	mu     sync.Mutex
	window Window
}

// New returns a shell with no window registered.
func New(opts Options) *Shell {
	return &Shell{
		onReply:     opts.OnReply,
		onTerminate: opts.OnTerminate,
		log:         opts.Logger.With().Str("component", "shell").Logger(),
		exitCh:      make(chan struct{}),
	}
}

// ShouldTerminate handles a quit request from the user or the OS. The
// first request marks the shell terminating, signals ExitRequested and
// returns true, meaning the answer is deferred until ReplyToTerminate. Later
// requests return false: quit now.
func (s *Shell) ShouldTerminate() (later bool) {
	if s.SetTerminating() {
		return false
	}
	s.exitOnce.Do(func() { close(s.exitCh) })
	s.log.Debug().Msg("exit requested")
	return true
}

// ExitRequested is closed by the first ShouldTerminate.
func (s *Shell) ExitRequested() <-chan struct{} {
	return s.exitCh
}

// SetTerminating marks the shell terminating and reports whether it already
// was.
func (s *Shell) SetTerminating() (was bool) {
	return s.terminating.Swap(true)
}

// Terminating reports whether termination has begun.
func (s *Shell) Terminating() bool {
	return s.terminating.Load()
}

// ReplyToTerminate answers a deferred exit request. Only the first reply is
// delivered.
func (s *Shell) ReplyToTerminate(ok bool) {
	s.replyOnce.Do(func() {
		s.log.Debug().Bool("ok", ok).Msg("reply to exit request")
		if s.onReply != nil {
			s.onReply(ok)
		}
	})
}

// Terminate quits the application. Only the first call has an effect.
func (s *Shell) Terminate() {
	s.termOnce.Do(func() {
		s.log.Debug().Msg("terminate")
		if s.onTerminate != nil {
			s.onTerminate()
		}
	})
}

// RegisterWindow records the main window once it exists.
func (s *Shell) RegisterWindow(w Window) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
}

// Promote brings the registered window to the front. It does nothing when no
// window is registered.
func (s *Shell) Promote() {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.Show()
	w.RequestFocus()
}
