//go:build darwin || linux

package netbridge

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/javanstorm/vermuda/internal/testutil"
)

func openLink(t *testing.T) *Link {
	t.Helper()
	link, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		link.Close()
		link.VMFile().Close()
	})
	return link
}

func testFrame(i int) []byte {
	f := make([]byte, 60)
	copy(f[0:6], []byte{0x02, 0, 0, 0, 0, 0x01})
	copy(f[6:12], []byte{0x02, 0, 0, 0, 0, 0x02})
	f[12], f[13] = 0x08, 0x00
	copy(f[14:], fmt.Sprintf("frame-%03d", i))
	return f
}

func TestBridgeHostToVM(t *testing.T) {
	link := openLink(t)
	host := &testutil.FakeHost{}
	metrics := NewMetrics(nil)

	const count = 20
	for i := 0; i < count; i++ {
		host.Push(testFrame(i))
	}

	b := Start(link, host, Options{Metrics: metrics, Logger: zerolog.Nop()})
	defer b.Close()

	vm := link.VMFile()
	buf := make([]byte, 2048)
	for i := 0; i < count; i++ {
		n, err := vm.Read(buf)
		require.NoError(t, err, "frame %d", i)
		assert.True(t, bytes.Equal(testFrame(i), buf[:n]), "frame %d differs", i)
	}

	assert.Equal(t, float64(count), promtest.ToFloat64(metrics.Forwarded.WithLabelValues(DirHostToVM)))
}

func TestBridgeVMToHost(t *testing.T) {
	link := openLink(t)
	host := &testutil.FakeHost{}

	b := Start(link, host, Options{Logger: zerolog.Nop()})
	defer b.Close()

	const count = 20
	vm := link.VMFile()
	for i := 0; i < count; i++ {
		_, err := vm.Write(testFrame(i))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(host.Written()) == count }, 2*time.Second, 5*time.Millisecond)
	for i, got := range host.Written() {
		assert.True(t, bytes.Equal(testFrame(i), got), "frame %d differs", i)
	}
}

func TestBridgeRetryBound(t *testing.T) {
	link := openLink(t)
	host := &testutil.FakeHost{}
	host.Push(testFrame(0))
	metrics := NewMetrics(nil)

	b := newBridge(link, host, Options{
		Retry:   RetryPolicy{MaxAttempts: 5},
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	})
	var attempts atomic.Int64
	b.writeVM = func(p []byte) (int, error) {
		attempts.Add(1)
		return 0, unix.ENOBUFS
	}
	b.run()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.Dropped.WithLabelValues(DirHostToVM)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())

	assert.Equal(t, int64(5), attempts.Load())
	assert.Equal(t, float64(4), promtest.ToFloat64(metrics.Retries.WithLabelValues(DirHostToVM)))
}

func TestBridgeNonTransientErrorDropsImmediately(t *testing.T) {
	link := openLink(t)
	host := &testutil.FakeHost{}
	host.Push(testFrame(0))

	b := newBridge(link, host, Options{Logger: zerolog.Nop()})
	var attempts atomic.Int64
	b.writeVM = func(p []byte) (int, error) {
		attempts.Add(1)
		return 0, unix.EBADF
	}
	b.run()

	require.Eventually(t, func() bool { return host.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
	assert.Equal(t, int64(1), attempts.Load())
}

func TestBridgeRetryRecovers(t *testing.T) {
	link := openLink(t)
	host := &testutil.FakeHost{}
	host.Push(testFrame(0))
	metrics := NewMetrics(nil)

	b := newBridge(link, host, Options{
		Retry:   RetryPolicy{MaxAttempts: 10, Backoff: time.Millisecond},
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	})
	var attempts atomic.Int64
	b.writeVM = func(p []byte) (int, error) {
		if attempts.Add(1) < 3 {
			return 0, unix.EAGAIN
		}
		return len(p), nil
	}
	b.run()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.Forwarded.WithLabelValues(DirHostToVM)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.Dropped.WithLabelValues(DirHostToVM)))
}

func TestBridgeCloseJoinsForwarders(t *testing.T) {
	link := openLink(t)
	gate := make(chan struct{})
	host := &testutil.FakeHost{Gate: gate}

	b := Start(link, host, Options{Logger: zerolog.Nop()})
	require.Eventually(t, func() bool { return host.InFlight() == 1 }, 2*time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- b.Close() }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned while a host read was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the host read was released")
	}
	assert.Zero(t, host.InFlight(), "host read still running after Close")

	reads := host.Reads()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, reads, host.Reads(), "forwarder kept reading after Close")

	// The VM's duplicate outlives the bridge's descriptors.
	var st unix.Stat_t
	assert.NoError(t, unix.Fstat(int(link.VMFile().Fd()), &st))

	// Idempotent.
	require.NoError(t, b.Close())
}

func TestLinkVMFileIsSeparateDescriptor(t *testing.T) {
	link := openLink(t)
	fd := int(link.VMFile().Fd())
	assert.NotEqual(t, link.vmFD, fd)
	assert.NotEqual(t, link.hostFD, fd)

	flags, err := unix.FcntlInt(uintptr(link.hostFD), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "host end must be non-blocking")
}
