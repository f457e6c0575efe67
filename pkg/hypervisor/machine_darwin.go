//go:build darwin

package hypervisor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/Code-Hex/vz/v3"
)

// vzMachine implements Machine using macOS Virtualization.framework.
type vzMachine struct {
	vm *vz.VirtualMachine

	mu       sync.Mutex
	delegate Delegate
	watching bool

	// forced is set before Stop so the state watcher does not report the
	// resulting transition as a guest-initiated stop.
	forced atomic.Bool

	consoleIn  *os.File // write to send to the VM
	consoleOut *os.File // read to get VM output
	diskFiles  []*os.File
}

// PlatformCapabilities reports what the vz builder supports.
func PlatformCapabilities() Capabilities {
	return Capabilities{Networking: true, Console: true, EFI: true}
}

// Build creates a vz-backed Machine. It must be called on the privileged
// thread.
func Build(cfg *VMConfig) (Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &vzMachine{}
	vmCfg, err := m.configure(cfg)
	if err != nil {
		m.closeFiles()
		return nil, err
	}

	ok, err := vmCfg.Validate()
	if !ok || err != nil {
		m.closeFiles()
		if err == nil {
			err = errors.New("configuration rejected")
		}
		return nil, &HostError{Op: "validate configuration", Err: err}
	}

	vm, err := vz.NewVirtualMachine(vmCfg)
	if err != nil {
		m.closeFiles()
		return nil, &HostError{Op: "create VM", Err: err}
	}
	m.vm = vm
	return m, nil
}

func (m *vzMachine) configure(cfg *VMConfig) (*vz.VirtualMachineConfiguration, error) {
	bootLoader, err := newBootLoader(cfg)
	if err != nil {
		return nil, err
	}

	vmCfg, err := vz.NewVirtualMachineConfiguration(
		bootLoader,
		uint(cfg.CPUs),
		uint64(cfg.MemoryMB)*1024*1024,
	)
	if err != nil {
		return nil, fmt.Errorf("vz: create VM config: %w", err)
	}

	machineID, err := vz.NewGenericMachineIdentifier()
	if err != nil {
		return nil, fmt.Errorf("vz: create machine identifier: %w", err)
	}
	platform, err := vz.NewGenericPlatformConfiguration(vz.WithGenericMachineIdentifier(machineID))
	if err != nil {
		return nil, fmt.Errorf("vz: create platform config: %w", err)
	}
	vmCfg.SetPlatformVirtualMachineConfiguration(platform)

	entropy, err := vz.NewVirtioEntropyDeviceConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vz: create entropy device: %w", err)
	}
	vmCfg.SetEntropyDevicesVirtualMachineConfiguration([]*vz.VirtioEntropyDeviceConfiguration{entropy})

	if err := m.attachStorage(cfg, vmCfg); err != nil {
		return nil, err
	}
	if err := attachNetwork(cfg.Network, vmCfg); err != nil {
		return nil, err
	}
	if cfg.Console {
		if err := m.attachConsole(vmCfg); err != nil {
			return nil, err
		}
	}

	keyboard, err := vz.NewUSBKeyboardConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vz: create keyboard: %w", err)
	}
	vmCfg.SetKeyboardsVirtualMachineConfiguration([]vz.KeyboardConfiguration{keyboard})

	return vmCfg, nil
}

func newBootLoader(cfg *VMConfig) (vz.BootLoader, error) {
	if cfg.Kernel != "" {
		var opts []vz.LinuxBootLoaderOption
		if cfg.Cmdline != "" {
			opts = append(opts, vz.WithCommandLine(cfg.Cmdline))
		}
		if cfg.Initrd != "" {
			opts = append(opts, vz.WithInitrd(cfg.Initrd))
		}
		bl, err := vz.NewLinuxBootLoader(cfg.Kernel, opts...)
		if err != nil {
			return nil, fmt.Errorf("vz: create linux boot loader: %w", err)
		}
		return bl, nil
	}

	var storeOpts []vz.NewEFIVariableStoreOption
	if _, err := os.Stat(cfg.EFIVariableStore); errors.Is(err, os.ErrNotExist) {
		storeOpts = append(storeOpts, vz.WithCreatingEFIVariableStore())
	}
	store, err := vz.NewEFIVariableStore(cfg.EFIVariableStore, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("vz: open EFI variable store %s: %w", cfg.EFIVariableStore, err)
	}
	bl, err := vz.NewEFIBootLoader(vz.WithEFIVariableStore(store))
	if err != nil {
		return nil, fmt.Errorf("vz: create EFI boot loader: %w", err)
	}
	return bl, nil
}

func (m *vzMachine) attachStorage(cfg *VMConfig, vmCfg *vz.VirtualMachineConfiguration) error {
	var devices []vz.StorageDeviceConfiguration

	if cfg.BootDisk != "" {
		if _, err := os.Stat(cfg.BootDisk); err == nil {
			dev, err := newVirtioDisk(cfg.BootDisk, true)
			if err != nil {
				return err
			}
			devices = append(devices, dev)
		}
	}

	if cfg.RootDisk != "" {
		dev, err := newVirtioDisk(cfg.RootDisk, false)
		if err != nil {
			return err
		}
		devices = append(devices, dev)
	}

	if cfg.ISO != "" {
		attachment, err := vz.NewDiskImageStorageDeviceAttachment(cfg.ISO, true)
		if err != nil {
			return fmt.Errorf("vz: attach ISO %s: %w", cfg.ISO, err)
		}
		usb, err := vz.NewUSBMassStorageDeviceConfiguration(attachment)
		if err != nil {
			return fmt.Errorf("vz: create USB mass storage: %w", err)
		}
		devices = append(devices, usb)
	}

	for _, path := range cfg.BlockDevices {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("vz: open block device %s: %w", path, err)
		}
		m.diskFiles = append(m.diskFiles, f)

		attachment, err := vz.NewDiskBlockDeviceStorageDeviceAttachment(f, false, vz.DiskSynchronizationModeFull)
		if err != nil {
			return fmt.Errorf("vz: attach block device %s: %w", path, err)
		}
		nvme, err := vz.NewNVMExpressControllerDeviceConfiguration(attachment)
		if err != nil {
			return fmt.Errorf("vz: create NVMe controller for %s: %w", path, err)
		}
		devices = append(devices, nvme)
	}

	if len(devices) > 0 {
		vmCfg.SetStorageDevicesVirtualMachineConfiguration(devices)
	}
	return nil
}

func newVirtioDisk(path string, readOnly bool) (*vz.VirtioBlockDeviceConfiguration, error) {
	attachment, err := vz.NewDiskImageStorageDeviceAttachmentWithCacheAndSync(
		path, readOnly, vz.DiskImageCachingModeCached, vz.DiskImageSynchronizationModeFull,
	)
	if err != nil {
		return nil, fmt.Errorf("vz: attach disk %s: %w", path, err)
	}
	dev, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
	if err != nil {
		return nil, fmt.Errorf("vz: create block device %s: %w", path, err)
	}
	return dev, nil
}

func attachNetwork(cfg *NetworkConfig, vmCfg *vz.VirtualMachineConfiguration) error {
	if cfg == nil {
		return nil
	}
	if cfg.File == nil {
		return fmt.Errorf("vz: network configured without a socket file")
	}

	attachment, err := vz.NewFileHandleNetworkDeviceAttachment(cfg.File)
	if err != nil {
		return fmt.Errorf("vz: create file handle attachment: %w", err)
	}
	netCfg, err := vz.NewVirtioNetworkDeviceConfiguration(attachment)
	if err != nil {
		return fmt.Errorf("vz: create network config: %w", err)
	}

	var mac *vz.MACAddress
	if cfg.MACAddress != "" {
		hwAddr, err := net.ParseMAC(cfg.MACAddress)
		if err != nil {
			return ErrInvalidMACAddress
		}
		mac, err = vz.NewMACAddress(hwAddr)
		if err != nil {
			return fmt.Errorf("vz: create MAC address: %w", err)
		}
	} else {
		mac, err = vz.NewRandomLocallyAdministeredMACAddress()
		if err != nil {
			return fmt.Errorf("vz: generate random MAC: %w", err)
		}
	}
	netCfg.SetMACAddress(mac)

	vmCfg.SetNetworkDevicesVirtualMachineConfiguration([]*vz.VirtioNetworkDeviceConfiguration{netCfg})
	return nil
}

func (m *vzMachine) attachConsole(vmCfg *vz.VirtualMachineConfiguration) error {
	// inputReader is read by the VM, outputWriter is written by the VM.
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("vz: create input pipe: %w", err)
	}
	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		inputReader.Close()
		inputWriter.Close()
		return fmt.Errorf("vz: create output pipe: %w", err)
	}

	attachment, err := vz.NewFileHandleSerialPortAttachment(inputReader, outputWriter)
	if err != nil {
		return fmt.Errorf("vz: create serial attachment: %w", err)
	}
	serialCfg, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(attachment)
	if err != nil {
		return fmt.Errorf("vz: create serial config: %w", err)
	}
	vmCfg.SetSerialPortsVirtualMachineConfiguration([]*vz.VirtioConsoleDeviceSerialPortConfiguration{serialCfg})

	m.consoleIn = inputWriter
	m.consoleOut = outputReader
	return nil
}

func (m *vzMachine) closeFiles() {
	for _, f := range m.diskFiles {
		f.Close()
	}
	m.diskFiles = nil
	if m.consoleIn != nil {
		m.consoleIn.Close()
	}
	if m.consoleOut != nil {
		m.consoleOut.Close()
	}
}

func (m *vzMachine) CanStart() bool { return m.vm.CanStart() }

func (m *vzMachine) Start(done func(error)) {
	m.watch()
	// vz waits for the completion handler internally; run it off the
	// calling thread so the privileged queue keeps draining.
	go func() {
		if err := m.vm.Start(); err != nil {
			done(&HostError{Op: "start", Err: err})
			return
		}
		done(nil)
	}()
}

func (m *vzMachine) CanRequestStop() bool { return m.vm.CanRequestStop() }

func (m *vzMachine) RequestStop() error {
	ok, err := m.vm.RequestStop()
	if err != nil {
		return &HostError{Op: "request stop", Err: err}
	}
	if !ok {
		return &HostError{Op: "request stop", Err: errors.New("request was not accepted")}
	}
	return nil
}

func (m *vzMachine) Stop(done func(error)) {
	m.forced.Store(true)
	go func() {
		if err := m.vm.Stop(); err != nil {
			m.forced.Store(false)
			done(&HostError{Op: "stop", Err: err})
			return
		}
		done(nil)
	}()
}

func (m *vzMachine) SetDelegate(d Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
}

func (m *vzMachine) Console() (io.WriteCloser, io.Reader, error) {
	if m.consoleIn == nil || m.consoleOut == nil {
		return nil, nil, fmt.Errorf("vz: console not configured")
	}
	return m.consoleIn, m.consoleOut, nil
}

// watch translates vz state notifications into Delegate callbacks.
// vz has no delegate API of its own.
func (m *vzMachine) watch() {
	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return
	}
	m.watching = true
	m.mu.Unlock()

	go func() {
		for state := range m.vm.StateChangedNotify() {
			m.mu.Lock()
			d := m.delegate
			m.mu.Unlock()

			switch state {
			case vz.VirtualMachineStateStopped:
				if !m.forced.Load() && d != nil {
					d.GuestDidStop()
				}
				m.closeFiles()
				return
			case vz.VirtualMachineStateError:
				if d != nil {
					d.DidStopWithError(errors.New("virtual machine entered error state"))
				}
				m.closeFiles()
				return
			}
		}
	}()
}
