// Package netbridge moves raw Ethernet frames between a host network
// capability and the VM's datagram socket.
package netbridge

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/javanstorm/vermuda/pkg/hostnet"
)

// frameSlack covers link-layer headers on top of the MTU.
const frameSlack = 128

// RetryPolicy bounds resends of a frame to the VM when socket buffers are
// exhausted.
type RetryPolicy struct {
	// MaxAttempts is the total number of send attempts per frame.
	MaxAttempts int

	// Backoff is the wait between attempts. Zero yields the thread instead.
	Backoff time.Duration
}

// DefaultRetryPolicy returns 100 attempts with no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 100}
}

// Options configures a Bridge.
type Options struct {
	Retry   RetryPolicy
	MTU     int
	Metrics *Metrics
	Logger  zerolog.Logger
}

// Bridge runs the two forwarders. The host→VM forwarder reads from the host
// capability and writes to the link; the VM→host forwarder does the reverse.
type Bridge struct {
	link    *Link
	host    hostnet.Interface
	retry   RetryPolicy
	mtu     int
	metrics *Metrics
	log     zerolog.Logger

	// Overridden in tests.
	writeVM func([]byte) (int, error)
	readVM  func([]byte) (int, error)

	stop atomic.Bool
	wg   sync.WaitGroup
	once sync.Once
	err  error
}

// Start launches both forwarders and returns immediately.
func Start(link *Link, host hostnet.Interface, opts Options) *Bridge {
	b := newBridge(link, host, opts)
	b.run()
	return b
}

func newBridge(link *Link, host hostnet.Interface, opts Options) *Bridge {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.MTU <= 0 {
		opts.MTU = hostnet.DefaultMTU
	}
	return &Bridge{
		link:    link,
		host:    host,
		retry:   opts.Retry,
		mtu:     opts.MTU,
		metrics: opts.Metrics,
		log:     opts.Logger.With().Str("component", "netbridge").Logger(),
		writeVM: link.writeHost,
		readVM:  link.readHost,
	}
}

func (b *Bridge) run() {
	b.wg.Add(2)
	go b.hostToVM()
	go b.vmToHost()
	b.log.Debug().Int("max_attempts", b.retry.MaxAttempts).Dur("backoff", b.retry.Backoff).Msg("bridge started")
}

func (b *Bridge) hostToVM() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer b.wg.Done()

	buf := make([]byte, b.mtu+frameSlack)
	for !b.stop.Load() {
		n, err := b.host.ReadPacket(buf)
		if err != nil || n == 0 {
			runtime.Gosched()
			continue
		}
		frame := buf[:n]
		b.trace(DirHostToVM, frame)

		if b.sendToVM(frame) {
			b.metrics.forwarded(DirHostToVM)
		} else {
			b.metrics.dropped(DirHostToVM)
		}
	}
}

func (b *Bridge) sendToVM(frame []byte) bool {
	for attempt := 1; ; attempt++ {
		_, err := b.writeVM(frame)
		if err == nil {
			return true
		}
		if !transient(err) || attempt >= b.retry.MaxAttempts || b.stop.Load() {
			b.log.Debug().Err(err).Int("attempts", attempt).Msg("dropping frame to vm")
			return false
		}
		b.metrics.retried(DirHostToVM)
		if b.retry.Backoff > 0 {
			time.Sleep(b.retry.Backoff)
		} else {
			runtime.Gosched()
		}
	}
}

func (b *Bridge) vmToHost() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer b.wg.Done()

	buf := make([]byte, b.mtu+frameSlack)
	for !b.stop.Load() {
		n, err := b.readVM(buf)
		if err != nil || n <= 0 {
			if err != nil && !transient(err) {
				b.log.Debug().Err(err).Msg("read from vm")
			}
			runtime.Gosched()
			continue
		}
		frame := buf[:n]
		b.trace(DirVMToHost, frame)

		if _, err := b.host.WritePacket(frame); err != nil {
			b.metrics.dropped(DirVMToHost)
			continue
		}
		b.metrics.forwarded(DirVMToHost)
	}
}

func (b *Bridge) trace(dir string, frame []byte) {
	if e := b.log.Trace(); e.Enabled() {
		e.Str("dir", dir).Str("frame", Summarize(frame)).Msg("frame")
	}
}

// Close stops both forwarders, waits for them to exit, then closes the
// link. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		b.stop.Store(true)
		b.wg.Wait()
		b.err = b.link.Close()
		b.log.Debug().Msg("bridge stopped")
	})
	return b.err
}

// transient reports errors caused by temporarily full or empty socket
// buffers.
func transient(err error) bool {
	return errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
