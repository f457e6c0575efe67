package vm

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/javanstorm/vermuda/internal/mainthread"
	"github.com/javanstorm/vermuda/internal/netbridge"
	"github.com/javanstorm/vermuda/pkg/hostnet"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// Display is a window showing the running VM.
type Display interface {
	Close()
}

// DisplayOpener opens a display for m once it is running.
type DisplayOpener func(ctx context.Context, m hypervisor.Machine) (Display, error)

// NetworkOptions enables the packet bridge.
type NetworkOptions struct {
	// Host selects the host network backend.
	Host hostnet.Options

	// OpenHost overrides hostnet.Open. Tests use it to inject a fake.
	OpenHost func(hostnet.Options) (hostnet.Interface, error)

	// MACAddress is passed to the VM network device.
	MACAddress string

	Retry   netbridge.RetryPolicy
	Metrics *netbridge.Metrics
}

// Options configures a Controller.
type Options struct {
	Executor mainthread.Executor
	Builder  hypervisor.Builder
	Config   *hypervisor.VMConfig

	// Network is nil when the VM has no network device.
	Network *NetworkOptions

	// Display is optional.
	Display DisplayOpener

	Logger zerolog.Logger
}

// Controller owns one Machine and reconciles its lifecycle.
type Controller struct {
	exec    mainthread.Executor
	machine hypervisor.Machine
	log     zerolog.Logger

	mu    sync.Mutex
	state State

	// startMu serializes Start so the machine is started at most once.
	startMu sync.Mutex

	relay        *Relay
	shutdown     *Broadcaster[struct{}]
	listenerDone chan struct{}

	// Networking; all nil when disabled.
	netOpts *NetworkOptions
	host    hostnet.Interface
	link    *netbridge.Link

	bridgeMu   sync.Mutex
	bridge     *netbridge.Bridge
	bridgeDown bool

	opener    DisplayOpener
	displayMu sync.Mutex
	display   Display

	closeOnce sync.Once
	closeErr  error
}

// New builds the machine on the privileged thread and starts listening for
// host notifications.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Executor == nil || opts.Builder == nil || opts.Config == nil {
		return nil, newError(KindValidationFailed, nil, "executor, builder and config are required")
	}

	c := &Controller{
		exec:         opts.Executor,
		log:          opts.Logger.With().Str("component", "vm").Logger(),
		state:        StateCreated,
		shutdown:     NewBroadcaster[struct{}](4),
		listenerDone: make(chan struct{}),
		netOpts:      opts.Network,
		opener:       opts.Display,
	}

	cfg := *opts.Config
	if opts.Network != nil {
		if err := c.openNetwork(); err != nil {
			return nil, err
		}
		cfg.Network = &hypervisor.NetworkConfig{
			File:       c.link.VMFile(),
			MACAddress: opts.Network.MACAddress,
		}
	}

	c.relay = NewRelay()
	machine, err := mainthread.Call(ctx, c.exec, func() (hypervisor.Machine, error) {
		m, err := opts.Builder(&cfg)
		if err != nil {
			return nil, newError(KindVirtualization, err, "build virtual machine")
		}
		if !m.CanStart() {
			return nil, newError(KindVirtualization, nil, "virtual machine cannot start with this configuration")
		}
		m.SetDelegate(RelayDelegate{})
		return m, nil
	})
	if err != nil {
		c.relay.Close()
		c.closeNetwork()
		var vmErr *Error
		if !errors.As(err, &vmErr) {
			err = newError(KindVirtualization, err, "build virtual machine")
		}
		return nil, err
	}
	c.machine = machine

	go c.listen()

	c.log.Debug().Int("cpus", cfg.CPUs).Int("memory_mb", cfg.MemoryMB).Bool("network", cfg.Network != nil).Msg("virtual machine created")
	return c, nil
}

func (c *Controller) openNetwork() error {
	open := c.netOpts.OpenHost
	if open == nil {
		open = func(o hostnet.Options) (hostnet.Interface, error) { return hostnet.Open(o) }
	}
	host, err := open(c.netOpts.Host)
	if err != nil {
		return newError(KindResourceUnavailable, err, "open host network")
	}
	link, err := netbridge.Open()
	if err != nil {
		host.Close()
		return newError(KindIO, err, "open bridge socket pair")
	}
	c.host = host
	c.link = link
	return nil
}

// closeNetwork releases the host interface and the VM's socket duplicate.
func (c *Controller) closeNetwork() error {
	c.stopBridge()
	var err error
	if c.host != nil {
		if err = c.host.Close(); err != nil {
			err = newError(KindIO, err, "close host network")
		}
	}
	if c.link != nil {
		c.link.VMFile().Close()
	}
	return err
}

func (c *Controller) listen() {
	defer close(c.listenerDone)
	for ev := range c.relay.Events() {
		switch ev.Kind {
		case EventGuestDidStop:
			c.setState(StateStopped)
			c.log.Info().Msg("guest stopped")
			c.shutdown.Send(struct{}{})
		case EventDidStopWithError:
			c.setState(StateError)
			c.log.Error().Err(ev.Err).Msg("virtual machine stopped with error")
			c.shutdown.Send(struct{}{})
		case EventNetworkDisconnected:
			c.log.Warn().Err(ev.Err).Str("device", ev.Device).Msg("network attachment disconnected")
		}
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("state change")
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Machine returns the underlying machine.
func (c *Controller) Machine() hypervisor.Machine {
	return c.machine
}

// SubscribeShutdown returns a subscription that receives a value when the
// VM stops on its own or with an error.
func (c *Controller) SubscribeShutdown() *Subscription[struct{}] {
	return c.shutdown.Subscribe()
}

// Start boots the VM and waits for the host to confirm. Then it starts the
// packet bridge and opens the display.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	switch st := c.State(); {
	case st == StateRunning:
		return nil
	case st.Terminal():
		return newError(KindOperationFailed, nil, "cannot start from state %s", st)
	}

	done := make(chan error, 1)
	canStart := false
	err := c.exec.Do(ctx, func() {
		if !c.machine.CanStart() {
			return
		}
		canStart = true
		c.machine.Start(func(err error) {
			select {
			case done <- err:
			default:
			}
		})
	})
	if err != nil {
		return execError(err, "start")
	}
	if !canStart {
		return newError(KindValidationFailed, nil, "virtual machine cannot start")
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return newError(KindVirtualization, err, "start failed")
	}

	c.mu.Lock()
	if c.state == StateCreated {
		c.state = StateRunning
	}
	c.mu.Unlock()
	c.log.Info().Msg("virtual machine started")

	c.startBridge()
	c.openDisplay(ctx)
	return nil
}

func (c *Controller) startBridge() {
	if c.link == nil {
		return
	}
	c.bridgeMu.Lock()
	defer c.bridgeMu.Unlock()
	if c.bridge != nil || c.bridgeDown {
		return
	}
	c.bridge = netbridge.Start(c.link, c.host, netbridge.Options{
		Retry:   c.netOpts.Retry,
		MTU:     c.netOpts.Host.MTU,
		Metrics: c.netOpts.Metrics,
		Logger:  c.log,
	})
}

// stopBridge joins the forwarders and closes the bridge's descriptors. The
// bridge is never restarted afterwards.
func (c *Controller) stopBridge() {
	if c.link == nil {
		return
	}
	c.bridgeMu.Lock()
	defer c.bridgeMu.Unlock()
	if c.bridgeDown {
		return
	}
	c.bridgeDown = true

	var err error
	if c.bridge != nil {
		err = c.bridge.Close()
	} else {
		err = c.link.Close()
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("close packet bridge")
	}
}

func (c *Controller) openDisplay(ctx context.Context) {
	if c.opener == nil {
		return
	}
	d, err := c.opener(ctx, c.machine)
	if err != nil {
		c.log.Warn().Err(err).Msg("open display")
		return
	}
	c.displayMu.Lock()
	c.display = d
	c.displayMu.Unlock()
}

func (c *Controller) closeDisplay() {
	c.displayMu.Lock()
	d := c.display
	c.display = nil
	c.displayMu.Unlock()
	if d != nil {
		d.Close()
	}
}

// RequestShutdown asks the guest to stop and waits until it does.
func (c *Controller) RequestShutdown(ctx context.Context) error {
	if c.State() == StateStopped {
		return nil
	}

	// Subscribe first so a stop racing the request is not missed.
	sub := c.shutdown.Subscribe()
	defer sub.Unsubscribe()

	canRequest := false
	var reqErr error
	err := c.exec.Do(ctx, func() {
		if !c.machine.CanRequestStop() {
			return
		}
		canRequest = true
		reqErr = c.machine.RequestStop()
	})
	if err != nil {
		return execError(err, "request stop")
	}
	if !canRequest {
		return newError(KindOperationFailed, nil, "virtual machine cannot accept a stop request")
	}
	if reqErr != nil {
		return newError(KindVirtualization, reqErr, "request stop failed")
	}
	c.log.Info().Msg("stop requested, waiting for guest")

	_, err = sub.Recv(ctx)
	switch {
	case err == nil, errors.Is(err, ErrLagged):
		return nil
	case errors.Is(err, ErrClosed):
		return newError(KindOperationFailed, err, "shutdown notifications closed")
	default:
		return err
	}
}

// ForceStop stops the VM immediately. It is a no-op once Stopped.
func (c *Controller) ForceStop(ctx context.Context) error {
	c.closeDisplay()
	if c.State() == StateStopped {
		return nil
	}

	done := make(chan error, 1)
	err := c.exec.Do(ctx, func() {
		c.machine.Stop(func(err error) {
			select {
			case done <- err:
			default:
			}
		})
	})
	if err != nil {
		return execError(err, "stop")
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		c.setState(StateError)
	} else {
		c.setState(StateStopped)
	}
	c.stopBridge()

	if err != nil {
		return newError(KindVirtualization, err, "stop failed")
	}
	c.log.Info().Msg("virtual machine stopped")
	return nil
}

// Close stops the bridge, releases the host network and ends the listener.
// The machine itself is left to the host.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closeDisplay()
		c.closeErr = c.closeNetwork()
		if n := c.relay.Pending(); n > 0 {
			c.log.Debug().Int("pending", n).Msg("draining host events")
		}
		c.relay.Close()
		<-c.listenerDone
		c.shutdown.Close()
	})
	return c.closeErr
}

func execError(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return newError(KindOperationFailed, err, "%s on privileged thread", op)
}
