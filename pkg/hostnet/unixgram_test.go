//go:build darwin || linux

package hostnet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestUnixgramExchange(t *testing.T) {
	dir, err := os.MkdirTemp("", "hn")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	serverPath := filepath.Join(dir, "peer.sock")
	server, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(server) })
	require.NoError(t, unix.Bind(server, &unix.SockaddrUnix{Name: serverPath}))

	l, err := Open(Options{Mode: ModeUnixgram, Socket: serverPath})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	buf := make([]byte, 2048)
	n, from, err := unix.Recvfrom(server, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, vfkitMagic, buf[:n])

	_, err = l.ReadPacket(buf)
	assert.ErrorIs(t, err, ErrNoData)

	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0, 0, 0, 0, 1, 0x08, 0x06, 0xaa}
	require.NoError(t, unix.Sendto(server, frame, 0, from))

	n, err = l.ReadPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf[:n])

	_, err = l.WritePacket(frame[:14])
	require.NoError(t, err)
	n, _, err = unix.Recvfrom(server, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, frame[:14], buf[:n])
}
