//go:build linux

package hostnet

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/packet"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// bridged exchanges frames with a host interface over an AF_PACKET socket.
type bridged struct {
	conn    *packet.Conn
	timeout time.Duration
}

func openBridged(opts Options) (Interface, error) {
	link, err := netlink.LinkByName(opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("hostnet: lookup %s: %w", opts.Interface, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("hostnet: interface %s is down", opts.Interface)
	}

	ifi, err := net.InterfaceByIndex(attrs.Index)
	if err != nil {
		return nil, fmt.Errorf("hostnet: interface %s: %w", opts.Interface, err)
	}

	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return nil, fmt.Errorf("hostnet: listen on %s: %w", opts.Interface, err)
	}
	return &bridged{conn: conn, timeout: opts.ReadTimeout}, nil
}

const bridgedSupported = true

func (b *bridged) ReadPacket(buf []byte) (int, error) {
	if b.timeout <= 0 {
		return b.poll(buf)
	}
	if err := b.conn.SetReadDeadline(time.Now().Add(b.timeout)); err != nil {
		return 0, err
	}
	n, _, err := b.conn.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, ErrNoData
		}
		return 0, err
	}
	return n, nil
}

// poll reads one frame without waiting. An expired deadline would fail in
// the runtime poller before reaching the socket, so the read goes straight
// to recvfrom.
func (b *bridged) poll(buf []byte) (int, error) {
	rc, err := b.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		n       int
		readErr error
	)
	err = rc.Read(func(fd uintptr) bool {
		n, _, readErr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, err
	}
	if readErr != nil {
		if errors.Is(readErr, unix.EAGAIN) || errors.Is(readErr, unix.EINTR) {
			return 0, ErrNoData
		}
		return 0, readErr
	}
	return n, nil
}

func (b *bridged) WritePacket(frame []byte) (int, error) {
	if len(frame) < 14 {
		return 0, fmt.Errorf("hostnet: short frame (%d bytes)", len(frame))
	}
	return b.conn.WriteTo(frame, &packet.Addr{HardwareAddr: net.HardwareAddr(frame[0:6])})
}

func (b *bridged) Close() error {
	return b.conn.Close()
}
