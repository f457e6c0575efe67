//go:build linux

package hostnet

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openLoopback opens the bridged backend on lo, skipping without
// CAP_NET_RAW.
func openLoopback(t *testing.T, timeout time.Duration) *Locked {
	t.Helper()
	l, err := Open(Options{Mode: ModeBridged, Interface: "lo", ReadTimeout: timeout})
	if errors.Is(err, os.ErrPermission) || (err != nil && os.Geteuid() != 0) {
		t.Skipf("AF_PACKET on lo unavailable: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func loopbackFrame(marker byte) []byte {
	frame := make([]byte, 60)
	// Broadcast destination, locally administered source, experimental
	// ethertype.
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0x00, 0x5e, 0x10, 0x20, 0x30})
	frame[12], frame[13] = 0x88, 0xb5
	for i := 14; i < len(frame); i++ {
		frame[i] = marker
	}
	return frame
}

func TestBridgedReadWithoutTimeoutDelivers(t *testing.T) {
	for _, timeout := range []time.Duration{0, 10 * time.Millisecond} {
		t.Run(timeout.String(), func(t *testing.T) {
			rx := openLoopback(t, timeout)
			tx := openLoopback(t, 0)

			want := loopbackFrame(0xa5)
			buf := make([]byte, 2048)
			noData := 0
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				_, err := tx.WritePacket(want)
				require.NoError(t, err)

				for {
					n, err := rx.ReadPacket(buf)
					if errors.Is(err, ErrNoData) {
						noData++
						break
					}
					require.NoError(t, err)
					if bytes.Equal(buf[:n], want) {
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
			t.Fatalf("no frame read from lo (%d empty reads)", noData)
		})
	}
}

func TestBridgedPollReportsNoData(t *testing.T) {
	l := openLoopback(t, 0)
	buf := make([]byte, 2048)

	// Drain whatever lo carries right now, then expect an empty poll.
	start := time.Now()
	for {
		_, err := l.ReadPacket(buf)
		if errors.Is(err, ErrNoData) {
			break
		}
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second, "poll must not block")
}

func TestBridgedMissingInterface(t *testing.T) {
	_, err := Open(Options{Mode: ModeBridged, Interface: "vermuda-nope0"})
	assert.Error(t, err)
}
