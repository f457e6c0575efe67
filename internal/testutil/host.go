package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/javanstorm/vermuda/pkg/hostnet"
)

// FakeHost is an in-memory hostnet.Interface.
type FakeHost struct {
	// Gate, when non-nil, holds every ReadPacket until it is closed.
	Gate chan struct{}

	// WriteErr, when set, fails every WritePacket.
	WriteErr error

	mu      sync.Mutex
	inbound [][]byte
	written [][]byte
	closed  bool

	reads    atomic.Int64
	inflight atomic.Int64
}

// Push queues a frame to be returned by ReadPacket.
func (h *FakeHost) Push(frame []byte) {
	h.mu.Lock()
	h.inbound = append(h.inbound, append([]byte(nil), frame...))
	h.mu.Unlock()
}

func (h *FakeHost) ReadPacket(buf []byte) (int, error) {
	h.inflight.Add(1)
	defer h.inflight.Add(-1)
	h.reads.Add(1)

	if h.Gate != nil {
		<-h.Gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inbound) == 0 {
		return 0, hostnet.ErrNoData
	}
	frame := h.inbound[0]
	h.inbound = h.inbound[1:]
	return copy(buf, frame), nil
}

func (h *FakeHost) WritePacket(frame []byte) (int, error) {
	if h.WriteErr != nil {
		return 0, h.WriteErr
	}
	h.mu.Lock()
	h.written = append(h.written, append([]byte(nil), frame...))
	h.mu.Unlock()
	return len(frame), nil
}

func (h *FakeHost) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Written returns copies of the frames passed to WritePacket, in order.
func (h *FakeHost) Written() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.written))
	copy(out, h.written)
	return out
}

// Pending returns the number of queued inbound frames.
func (h *FakeHost) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inbound)
}

// Closed reports whether Close was called.
func (h *FakeHost) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Reads returns the number of ReadPacket calls so far.
func (h *FakeHost) Reads() int64 { return h.reads.Load() }

// InFlight returns the number of ReadPacket calls currently running.
func (h *FakeHost) InFlight() int64 { return h.inflight.Load() }
