package testutil

import (
	"sync"

	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// FakeMachine is a scriptable hypervisor.Machine. Completions are delivered
// on a separate goroutine, like the real host.
type FakeMachine struct {
	// StartErr, RequestStopErr and StopErr are returned by the
	// corresponding operations.
	StartErr       error
	RequestStopErr error
	StopErr        error

	// GuestStopsOnRequest makes RequestStop report a guest stop through the
	// delegate shortly after it returns.
	GuestStopsOnRequest bool

	// HoldStop, when non-nil, delays the Stop completion until it is closed.
	HoldStop chan struct{}

	mu             sync.Mutex
	canStart       bool
	canRequestStop bool
	delegate       hypervisor.Delegate
	calls          map[string]int
	config         *hypervisor.VMConfig
}

// NewFakeMachine returns a machine that can start and accept stop requests.
func NewFakeMachine() *FakeMachine {
	return &FakeMachine{
		canStart:       true,
		canRequestStop: true,
		calls:          make(map[string]int),
	}
}

// Builder returns a hypervisor.Builder that records cfg and yields f.
func (f *FakeMachine) Builder() hypervisor.Builder {
	return func(cfg *hypervisor.VMConfig) (hypervisor.Machine, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.config = cfg
		f.mu.Unlock()
		return f, nil
	}
}

// Config returns the configuration passed to the builder.
func (f *FakeMachine) Config() *hypervisor.VMConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

func (f *FakeMachine) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

// Calls returns how many times the named method ran.
func (f *FakeMachine) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *FakeMachine) SetCanStart(v bool) {
	f.mu.Lock()
	f.canStart = v
	f.mu.Unlock()
}

func (f *FakeMachine) SetCanRequestStop(v bool) {
	f.mu.Lock()
	f.canRequestStop = v
	f.mu.Unlock()
}

func (f *FakeMachine) CanStart() bool {
	f.record("CanStart")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canStart
}

func (f *FakeMachine) Start(done func(error)) {
	f.record("Start")
	err := f.StartErr
	go done(err)
}

func (f *FakeMachine) CanRequestStop() bool {
	f.record("CanRequestStop")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canRequestStop
}

func (f *FakeMachine) RequestStop() error {
	f.record("RequestStop")
	if f.RequestStopErr != nil {
		return f.RequestStopErr
	}
	if f.GuestStopsOnRequest {
		go f.StopGuest()
	}
	return nil
}

func (f *FakeMachine) Stop(done func(error)) {
	f.record("Stop")
	err, hold := f.StopErr, f.HoldStop
	go func() {
		if hold != nil {
			<-hold
		}
		done(err)
	}()
}

func (f *FakeMachine) SetDelegate(d hypervisor.Delegate) {
	f.record("SetDelegate")
	f.mu.Lock()
	f.delegate = d
	f.mu.Unlock()
}

func (f *FakeMachine) currentDelegate() hypervisor.Delegate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delegate
}

// StopGuest simulates the guest powering itself off.
func (f *FakeMachine) StopGuest() {
	if d := f.currentDelegate(); d != nil {
		d.GuestDidStop()
	}
}

// FailGuest simulates the host reporting a fatal error.
func (f *FakeMachine) FailGuest(err error) {
	if d := f.currentDelegate(); d != nil {
		d.DidStopWithError(err)
	}
}

// DisconnectNetwork simulates the host detaching the network device.
func (f *FakeMachine) DisconnectNetwork(device string, err error) {
	if d := f.currentDelegate(); d != nil {
		d.NetworkAttachmentDisconnected(device, err)
	}
}
