package cli

import (
	"context"
	"io"
	"sync"

	"github.com/javanstorm/vermuda/internal/vm"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// streamConsole attaches the guest serial console to the process's standard
// streams when no window is configured.
type streamConsole struct {
	stdin  io.Reader
	stdout io.Writer
}

func (s streamConsole) open(ctx context.Context, m hypervisor.Machine) (vm.Display, error) {
	c, ok := m.(hypervisor.Consoler)
	if !ok {
		return nil, nil
	}
	in, out, err := c.Console()
	if err != nil {
		return nil, err
	}

	a := &attached{in: in, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		_, _ = io.Copy(s.stdout, out)
	}()
	if s.stdin != nil {
		// Blocks in Read until the next line; it exits on the first write
		// after in is closed.
		go func() { _, _ = io.Copy(in, s.stdin) }()
	}
	return a, nil
}

type attached struct {
	in   io.WriteCloser
	done chan struct{}
	once sync.Once
}

// Close releases guest input. Output keeps draining until the machine
// closes its end.
func (a *attached) Close() {
	a.once.Do(func() { _ = a.in.Close() })
}
