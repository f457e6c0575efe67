package hypervisor

import (
	"net"
	"os"
)

// VMConfig holds the hardware configuration handed to a Builder.
type VMConfig struct {
	// CPUs is the number of virtual CPUs.
	CPUs int

	// MemoryMB is the amount of memory in megabytes.
	MemoryMB int

	// EFIVariableStore is the path to the EFI variable store. It is created
	// when missing. Either this or Kernel must be set.
	EFIVariableStore string

	// Kernel, Initrd and Cmdline select direct Linux boot instead of EFI.
	Kernel  string
	Initrd  string
	Cmdline string

	// BootDisk is an optional read-only boot image, attached only when the
	// file exists.
	BootDisk string

	// RootDisk is the writable root disk image.
	RootDisk string

	// BlockDevices are raw block devices attached on an NVMe controller.
	BlockDevices []string

	// ISO is an optional installer image attached as USB mass storage.
	ISO string

	// Network, when non-nil, attaches a virtio network device backed by a
	// datagram socket file.
	Network *NetworkConfig

	// Console attaches a virtio serial console backed by pipes.
	Console bool
}

// NetworkConfig configures the VM network device.
type NetworkConfig struct {
	// File is the VM-facing end of a datagram socket pair. The builder only
	// borrows it; the caller keeps it open for the VM's lifetime.
	File *os.File

	// MACAddress is optional. Empty means a random locally-administered
	// address.
	MACAddress string
}

// Validate performs basic validation of the configuration.
func (c *VMConfig) Validate() error {
	if c.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if c.MemoryMB < 128 {
		return ErrInsufficientMemory
	}
	if c.EFIVariableStore == "" && c.Kernel == "" {
		return ErrMissingBootSource
	}
	if c.Network != nil && c.Network.MACAddress != "" {
		if _, err := net.ParseMAC(c.Network.MACAddress); err != nil {
			return ErrInvalidMACAddress
		}
	}
	return nil
}
