// Package shutdown decides how a run ends. It waits for the first of the
// host application's exit request, a guest-initiated stop or an interrupt,
// then drives the VM through a cooperative or forced stop.
package shutdown

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"github.com/javanstorm/vermuda/internal/vm"
)

// Trigger is what started shutdown.
type Trigger int

const (
	TriggerCtrlC Trigger = iota + 1
	TriggerAppExit
	TriggerGuestStop
	TriggerSignalStreamClosed
)

func (t Trigger) String() string {
	switch t {
	case TriggerCtrlC:
		return "ctrl-c"
	case TriggerAppExit:
		return "app-exit"
	case TriggerGuestStop:
		return "guest-stop"
	case TriggerSignalStreamClosed:
		return "signal-stream-closed"
	default:
		return "unknown"
	}
}

// ExitCodeForced is the exit code after the user forced shutdown with a
// second interrupt.
const ExitCodeForced = 130

// VM is the part of the controller the coordinator drives.
type VM interface {
	RequestShutdown(ctx context.Context) error
	ForceStop(ctx context.Context) error
}

// Shell is the host application the coordinator answers.
type Shell interface {
	ExitRequested() <-chan struct{}
	ReplyToTerminate(ok bool)
	SetTerminating() (was bool)
	Terminate()
}

// Config wires a Coordinator.
type Config struct {
	VM    VM
	Shell Shell

	// Shutdown must be subscribed before the VM starts so an early guest
	// stop is not missed.
	Shutdown *vm.Subscription[struct{}]

	// Interrupts delivers each SIGINT.
	Interrupts <-chan os.Signal

	Logger zerolog.Logger
}

// Result describes how the run ended.
type Result struct {
	Trigger  Trigger
	ExitCode int

	// Forced is set when the VM was stopped without the guest's cooperation.
	Forced bool
}

// Coordinator runs the shutdown sequence once.
type Coordinator struct {
	vm         VM
	shell      Shell
	sub        *vm.Subscription[struct{}]
	interrupts <-chan os.Signal
	log        zerolog.Logger
}

var (
	errUserForced   = errors.New("user forced shutdown")
	errSignalClosed = errors.New("signal stream closed")
)

// New returns a coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		vm:         cfg.VM,
		shell:      cfg.Shell,
		sub:        cfg.Shutdown,
		interrupts: cfg.Interrupts,
		log:        cfg.Logger.With().Str("component", "shutdown").Logger(),
	}
}

// Run waits for a trigger, stops the VM accordingly and answers the shell.
func (c *Coordinator) Run(ctx context.Context) Result {
	trigger := c.race(ctx)
	// Stopping must finish even if the caller's context is gone.
	ctx = context.WithoutCancel(ctx)
	c.log.Info().Stringer("trigger", trigger).Msg("shutting down")

	res := Result{Trigger: trigger}
	var err error
	switch trigger {
	case TriggerGuestStop:
	case TriggerAppExit:
		res.Forced = true
		err = c.vm.ForceStop(ctx)
	default:
		if trigger == TriggerCtrlC {
			c.log.Info().Msg("press Ctrl-C again to force quit")
		}
		err = c.cooperative(ctx)
	}

	switch {
	case errors.Is(err, errUserForced):
		c.log.Warn().Msg("force shutdown initiated")
		res.ExitCode = ExitCodeForced
		res.Forced = true
		if err := c.vm.ForceStop(ctx); err != nil {
			c.log.Error().Err(err).Msg("force stop failed")
		}
	case err != nil:
		c.log.Error().Err(err).Msg("graceful shutdown failed")
		res.Forced = true
		if err := c.vm.ForceStop(ctx); err != nil {
			c.log.Error().Err(err).Msg("force stop also failed")
		}
	}

	if trigger == TriggerAppExit {
		c.shell.ReplyToTerminate(true)
	} else if !c.shell.SetTerminating() {
		c.shell.Terminate()
	}
	return res
}

func (c *Coordinator) race(ctx context.Context) Trigger {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var subc chan error
	if c.sub != nil {
		subc = make(chan error, 1)
		go func() {
			_, err := c.sub.Recv(rctx)
			subc <- err
		}()
	}

	select {
	case <-c.shell.ExitRequested():
		return TriggerAppExit
	case err := <-subc:
		if err == nil || errors.Is(err, vm.ErrLagged) {
			return TriggerGuestStop
		}
		return TriggerSignalStreamClosed
	case _, ok := <-c.interrupts:
		if ok {
			return TriggerCtrlC
		}
		// A closed channel would win every later select.
		c.interrupts = nil
		return TriggerSignalStreamClosed
	case <-ctx.Done():
		return TriggerSignalStreamClosed
	}
}

// cooperative asks the guest to stop and waits, unless a second interrupt
// arrives first.
func (c *Coordinator) cooperative(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- c.vm.RequestShutdown(cctx) }()

	select {
	case err := <-errc:
		return err
	case _, ok := <-c.interrupts:
		if ok {
			return errUserForced
		}
		c.interrupts = nil
		return errSignalClosed
	}
}
