//go:build darwin || linux

package netbridge

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	hostSendBuffer = 1 << 20 // 1 MiB
	recvBuffer     = 4 << 20 // 4 MiB
)

// Link is a connected pair of datagram sockets. The host end is owned by the
// bridge; a duplicate of the VM end is handed to the network device.
type Link struct {
	hostFD int
	vmFD   int
	vmFile *os.File

	once     sync.Once
	closeErr error
}

// Open creates the socket pair and sizes its buffers.
func Open() (*Link, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netbridge: socketpair: %w", err)
	}
	hostFD, vmFD := fds[0], fds[1]
	unix.CloseOnExec(hostFD)
	unix.CloseOnExec(vmFD)

	fail := func(err error) (*Link, error) {
		unix.Close(hostFD)
		unix.Close(vmFD)
		return nil, err
	}

	if err := unix.SetsockoptInt(hostFD, unix.SOL_SOCKET, unix.SO_SNDBUF, hostSendBuffer); err != nil {
		return fail(fmt.Errorf("netbridge: set host send buffer: %w", err))
	}
	if err := unix.SetsockoptInt(hostFD, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBuffer); err != nil {
		return fail(fmt.Errorf("netbridge: set host receive buffer: %w", err))
	}
	if err := unix.SetNonblock(hostFD, true); err != nil {
		return fail(fmt.Errorf("netbridge: set host non-blocking: %w", err))
	}
	if err := unix.SetsockoptInt(vmFD, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBuffer); err != nil {
		return fail(fmt.Errorf("netbridge: set vm receive buffer: %w", err))
	}

	dup, err := unix.Dup(vmFD)
	if err != nil {
		return fail(fmt.Errorf("netbridge: dup vm end: %w", err))
	}
	unix.CloseOnExec(dup)

	return &Link{
		hostFD: hostFD,
		vmFD:   vmFD,
		vmFile: os.NewFile(uintptr(dup), "vermuda-net"),
	}, nil
}

// VMFile returns the VM-facing duplicate. It stays open after Close; the
// holder closes it once the VM no longer needs it.
func (l *Link) VMFile() *os.File {
	return l.vmFile
}

func (l *Link) readHost(p []byte) (int, error) {
	return unix.Read(l.hostFD, p)
}

func (l *Link) writeHost(p []byte) (int, error) {
	return unix.Write(l.hostFD, p)
}

// Close closes the bridge's descriptors.
func (l *Link) Close() error {
	l.once.Do(func() {
		err1 := unix.Close(l.hostFD)
		err2 := unix.Close(l.vmFD)
		if err1 != nil {
			l.closeErr = fmt.Errorf("netbridge: close host end: %w", err1)
		} else if err2 != nil {
			l.closeErr = fmt.Errorf("netbridge: close vm end: %w", err2)
		}
	})
	return l.closeErr
}
