// Package hypervisor is the boundary to the host virtualization capability.
// Platform-specific builders (Virtualization.framework on macOS) return a
// Machine; everything above this package talks to that interface only.
package hypervisor

import "io"

// Machine is one virtual machine instance owned by the host.
//
// Implementations are not safe for concurrent use. Callers serialize every
// method call onto a single privileged thread. Completion callbacks may be
// invoked on any goroutine.
type Machine interface {
	// CanStart reports whether Start is currently permitted.
	CanStart() bool

	// Start boots the VM asynchronously. done is called exactly once with
	// nil on success or the host-provided error.
	Start(done func(error))

	// CanRequestStop reports whether the guest can currently accept a
	// cooperative stop request.
	CanRequestStop() bool

	// RequestStop asks the guest to shut down. Completion is observed only
	// through Delegate.GuestDidStop or Delegate.DidStopWithError.
	RequestStop() error

	// Stop terminates the VM immediately. done is called exactly once.
	Stop(done func(error))

	// SetDelegate installs the receiver of asynchronous host notifications.
	SetDelegate(d Delegate)
}

// Delegate receives host notifications about a running Machine.
// Methods may be called on any goroutine and must not block.
type Delegate interface {
	GuestDidStop()
	DidStopWithError(err error)
	NetworkAttachmentDisconnected(device string, err error)
}

// Consoler is implemented by machines that expose a serial console.
type Consoler interface {
	// Console returns the writer feeding guest input and the reader
	// carrying guest output.
	Console() (in io.WriteCloser, out io.Reader, err error)
}

// Builder constructs a Machine from a hardware configuration.
// It validates the configuration host-side before constructing the VM.
type Builder func(cfg *VMConfig) (Machine, error)

// Capabilities describes what the platform builder supports.
type Capabilities struct {
	Networking bool // file-handle network attachment
	Console    bool // serial console pipes
	EFI        bool // EFI boot with variable store
}
