package vm

import (
	"sync"

	infinity "github.com/Code-Hex/go-infinity-channel"
)

// EventKind identifies a host notification.
type EventKind int

const (
	EventGuestDidStop EventKind = iota + 1
	EventDidStopWithError
	EventNetworkDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventGuestDidStop:
		return "guest-did-stop"
	case EventDidStopWithError:
		return "did-stop-with-error"
	case EventNetworkDisconnected:
		return "network-disconnected"
	default:
		return "unknown"
	}
}

// Event is one host notification carried from the delegate to the
// controller's listener.
type Event struct {
	Kind   EventKind
	Err    error  // DidStopWithError and NetworkDisconnected
	Device string // NetworkDisconnected
}

// The host delegate has no way to carry a receiver, so the current relay
// lives in a process-wide slot. One VM runs per process.
var (
	relayMu sync.Mutex
	relayCh *infinity.Channel[Event]
)

// Relay queues host notifications without bounding or blocking the host's
// callback thread.
type Relay struct {
	ch   *infinity.Channel[Event]
	once sync.Once
}

// NewRelay creates a relay and installs it as the current one, replacing any
// previous relay.
func NewRelay() *Relay {
	r := &Relay{ch: infinity.NewChannel[Event]()}
	relayMu.Lock()
	relayCh = r.ch
	relayMu.Unlock()
	return r
}

// Events yields notifications in the order they were delivered. The channel
// is closed after Close once queued events are drained.
func (r *Relay) Events() <-chan Event {
	return r.ch.Out()
}

// Pending returns the number of queued events. It must be called before
// Close.
func (r *Relay) Pending() int {
	return r.ch.Len()
}

// Close uninstalls the relay and closes its queue.
func (r *Relay) Close() {
	r.once.Do(func() {
		relayMu.Lock()
		if relayCh == r.ch {
			relayCh = nil
		}
		relayMu.Unlock()
		r.ch.Close()
	})
}

func dispatch(ev Event) {
	relayMu.Lock()
	defer relayMu.Unlock()
	if relayCh == nil {
		return
	}
	relayCh.In() <- ev
}

// RelayDelegate is the hypervisor.Delegate that feeds the current Relay.
// Events arriving with no relay installed are dropped.
type RelayDelegate struct{}

func (RelayDelegate) GuestDidStop() {
	dispatch(Event{Kind: EventGuestDidStop})
}

func (RelayDelegate) DidStopWithError(err error) {
	dispatch(Event{Kind: EventDidStopWithError, Err: err})
}

func (RelayDelegate) NetworkAttachmentDisconnected(device string, err error) {
	dispatch(Event{Kind: EventNetworkDisconnected, Device: device, Err: err})
}
