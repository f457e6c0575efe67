// Package hostnet is the boundary to the host network capability: a source
// and sink of raw Ethernet frames that the packet bridge moves to and from
// the VM.
package hostnet

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Backend modes.
const (
	ModeBridged  = "bridged"
	ModeUnixgram = "unixgram"
)

// DefaultMTU is the Ethernet payload size assumed when none is configured.
const DefaultMTU = 1500

var (
	// ErrNoData is returned by ReadPacket when no frame is pending.
	ErrNoData = errors.New("hostnet: no data")

	// ErrUnsupported is returned when a backend is not available on this
	// platform.
	ErrUnsupported = errors.New("hostnet: backend not supported on this platform")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("hostnet: closed")
)

// Interface reads and writes whole Ethernet frames.
type Interface interface {
	// ReadPacket copies one pending frame into buf and returns its length.
	// It returns ErrNoData when nothing is pending.
	ReadPacket(buf []byte) (int, error)

	// WritePacket sends one frame.
	WritePacket(frame []byte) (int, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Mode is ModeBridged or ModeUnixgram. Empty means DefaultMode().
	Mode string

	// Interface is the host interface name for ModeBridged.
	Interface string

	// Socket is the peer datagram socket path for ModeUnixgram.
	Socket string

	// ReadTimeout bounds how long ReadPacket waits for a frame. Zero polls.
	ReadTimeout time.Duration

	// MTU of the host link. Zero means DefaultMTU.
	MTU int
}

// Supported reports whether the backend for mode is available on this
// platform.
func Supported(mode string) bool {
	switch mode {
	case ModeBridged:
		return bridgedSupported
	case ModeUnixgram:
		return unixgramSupported
	}
	return false
}

// DefaultMode is bridged where AF_PACKET exists and unixgram elsewhere.
func DefaultMode() string {
	if bridgedSupported {
		return ModeBridged
	}
	return ModeUnixgram
}

func (o Options) mtu() int {
	if o.MTU <= 0 {
		return DefaultMTU
	}
	return o.MTU
}

// Open starts the backend named by opts.Mode and wraps it in a Locked
// interface.
func Open(opts Options) (*Locked, error) {
	var (
		iface Interface
		err   error
	)
	mode := opts.Mode
	if mode == "" {
		mode = DefaultMode()
	}
	switch mode {
	case ModeBridged:
		if opts.Interface == "" {
			return nil, fmt.Errorf("hostnet: bridged mode requires an interface name")
		}
		iface, err = openBridged(opts)
	case ModeUnixgram:
		if opts.Socket == "" {
			return nil, fmt.Errorf("hostnet: unixgram mode requires a socket path")
		}
		iface, err = openUnixgram(opts)
	default:
		return nil, fmt.Errorf("hostnet: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return NewLocked(iface), nil
}

// Locked serializes every call to the wrapped Interface. Both bridge
// forwarders share one Locked value.
type Locked struct {
	mu     sync.Mutex
	iface  Interface
	closed bool
}

// NewLocked wraps iface.
func NewLocked(iface Interface) *Locked {
	return &Locked{iface: iface}
}

func (l *Locked) ReadPacket(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.iface.ReadPacket(buf)
}

func (l *Locked) WritePacket(frame []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.iface.WritePacket(frame)
}

// Close closes the wrapped interface once.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.iface.Close()
}
