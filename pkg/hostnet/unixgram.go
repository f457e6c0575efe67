//go:build darwin || linux

package hostnet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// vfkitMagic is sent once after connecting so that gvproxy-style peers
// learn the client address.
var vfkitMagic = []byte("VFKT")

// unixgram exchanges frames with a peer datagram socket, one frame per
// datagram.
type unixgram struct {
	fd        int
	localPath string
	timeout   time.Duration
}

const unixgramSupported = true

func openUnixgram(opts Options) (Interface, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("hostnet: socket: %w", err)
	}
	unix.CloseOnExec(fd)

	local := filepath.Join(os.TempDir(), fmt.Sprintf("vermuda-%d.sock", os.Getpid()))
	_ = os.Remove(local)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: local}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostnet: bind %s: %w", local, err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: opts.Socket}); err != nil {
		unix.Close(fd)
		os.Remove(local)
		return nil, fmt.Errorf("hostnet: connect %s: %w", opts.Socket, err)
	}

	u := &unixgram{fd: fd, localPath: local, timeout: opts.ReadTimeout}
	if _, err := unix.Write(fd, vfkitMagic); err != nil {
		u.Close()
		return nil, fmt.Errorf("hostnet: handshake with %s: %w", opts.Socket, err)
	}
	if u.timeout > 0 {
		tv := unix.NsecToTimeval(u.timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			u.Close()
			return nil, fmt.Errorf("hostnet: set receive timeout: %w", err)
		}
	}
	return u, nil
}

func (u *unixgram) ReadPacket(buf []byte) (int, error) {
	flags := 0
	if u.timeout <= 0 {
		flags = unix.MSG_DONTWAIT
	}
	n, _, err := unix.Recvfrom(u.fd, buf, flags)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return 0, ErrNoData
		}
		return 0, err
	}
	return n, nil
}

func (u *unixgram) WritePacket(frame []byte) (int, error) {
	return unix.Write(u.fd, frame)
}

func (u *unixgram) Close() error {
	err := unix.Close(u.fd)
	os.Remove(u.localPath)
	return err
}
