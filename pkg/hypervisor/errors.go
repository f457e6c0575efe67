package hypervisor

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be at least 1")
	ErrInsufficientMemory = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingBootSource  = errors.New("hypervisor: EFI variable store or kernel path is required")
	ErrInvalidMACAddress  = errors.New("hypervisor: invalid MAC address")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
)

// HostError wraps a failure reported by the host for one operation.
type HostError struct {
	Op  string
	Err error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("hypervisor: %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }
