package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/vermuda/internal/config"
	"github.com/javanstorm/vermuda/internal/display"
	"github.com/javanstorm/vermuda/internal/logging"
	"github.com/javanstorm/vermuda/internal/mainthread"
	"github.com/javanstorm/vermuda/internal/netbridge"
	"github.com/javanstorm/vermuda/internal/shell"
	"github.com/javanstorm/vermuda/internal/shutdown"
	"github.com/javanstorm/vermuda/internal/timing"
	"github.com/javanstorm/vermuda/internal/vm"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Boot the VM (default command)",
		Long: `Boot the VM described by the configuration and stay attached until it
stops.

The first Ctrl-C asks the guest to shut down. A second Ctrl-C while waiting
forces the VM off and exits with status 130. SIGTERM or closing the console
window stops the VM without waiting for the guest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}
}

// session holds everything one run needs once configuration is settled.
type session struct {
	paths *config.Paths
	cfg   *config.Config
	log   zerolog.Logger
	timer *timing.Timer

	exec    mainthread.Executor
	shell   *shell.Shell
	opener  vm.DisplayOpener
	metrics *netbridge.Metrics
	records *vm.StateFile

	interrupts <-chan os.Signal
}

func runRun(cmd *cobra.Command, flags *globalFlags) error {
	timer := timing.New()

	paths, loader, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, runID, err := logging.Setup(cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}
	log.Debug().Str("run_id", runID).Str("config", loader.ConfigFileUsed()).Msg("configuration loaded")
	timer.Mark("config_load")

	caps := hypervisor.PlatformCapabilities()
	if errs := config.ValidateConfig(cfg, caps); len(errs) > 0 {
		fmt.Fprint(os.Stderr, config.FormatValidationErrors(errs))
		if config.HasFatal(errs) {
			return errors.New("invalid configuration")
		}
	}
	if cfg.Network != nil && !caps.Networking {
		cfg.Network = nil
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create VM home: %w", err)
	}
	lock := flock.New(paths.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", paths.Home, err)
	}
	if !locked {
		return fmt.Errorf("another vermuda is already running in %s", paths.Home)
	}
	defer func() { _ = lock.Unlock() }()

	if err := prepareDisks(paths, cfg, log); err != nil {
		return err
	}
	timer.Mark("disk_prepare")

	loader.Watch(func(e fsnotify.Event) {
		log.Warn().Str("file", e.Name).Msg("configuration changed on disk, restart to apply")
	})

	s := &session{
		paths:   paths,
		cfg:     cfg,
		log:     log,
		timer:   timer,
		records: vm.NewStateFile(paths.Home),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = netbridge.NewMetrics(reg)

	// The window, when configured, owns the main goroutine; otherwise the
	// privileged loop does.
	var ui *display.App
	s.shell = shell.New(shell.Options{
		OnReply: func(ok bool) {
			log.Debug().Bool("ok", ok).Msg("exit request answered")
			if ok && ui != nil {
				ui.Quit()
			}
		},
		OnTerminate: func() {
			if ui != nil {
				ui.Quit()
			}
		},
		Logger: log,
	})
	if cfg.Display != nil {
		ui = display.New(s.shell, display.Options{
			Title:  "vermuda",
			Width:  cfg.Display.Width,
			Height: cfg.Display.Height,
			Logger: log,
		})
		s.opener = ui.Opener()
	} else {
		s.opener = streamConsole{stdin: os.Stdin, stdout: os.Stdout}.open
	}

	sigint := make(chan os.Signal, 4)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)
	s.interrupts = sigint

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGTERM)
	defer signal.Stop(sigterm)

	loop := mainthread.New()
	s.exec = loop

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var result shutdown.Result
	g.Go(func() (err error) {
		defer loop.Stop()
		defer cancel()
		defer func() {
			if ui != nil {
				ui.Quit()
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("runtime panicked")
				err = fmt.Errorf("runtime panic: %v", r)
			}
		}()
		result, err = s.run(gctx)
		return err
	})
	if addr := cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			serveMetrics(gctx, addr, reg, log)
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-sigterm:
				if s.shell.Terminating() {
					log.Warn().Msg("SIGTERM during shutdown, quitting now")
				} else {
					log.Info().Msg("SIGTERM received")
				}
				if !s.shell.ShouldTerminate() {
					s.shell.Terminate()
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	if ui != nil {
		go loop.Run()
		ui.Run()
	} else {
		loop.Run()
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("run failed")
		return &exitError{code: 1}
	}
	log.Info().Stringer("trigger", result.Trigger).Int("exit_code", result.ExitCode).Msg("vermuda finished")
	if result.ExitCode != 0 {
		return &exitError{code: result.ExitCode}
	}
	return nil
}

// run creates the controller, boots the VM and waits for shutdown.
func (s *session) run(ctx context.Context) (shutdown.Result, error) {
	opts := vm.Options{
		Executor: s.exec,
		Builder:  hypervisor.Build,
		Config:   s.cfg.VMConfig(s.paths),
		Display:  s.opener,
		Logger:   s.log,
	}
	if host := s.cfg.HostNetwork(); host != nil {
		opts.Network = &vm.NetworkOptions{
			Host:       *host,
			MACAddress: s.cfg.Network.MACAddress,
			Retry: netbridge.RetryPolicy{
				MaxAttempts: s.cfg.Network.Retry.MaxAttempts,
				Backoff:     s.cfg.Network.Retry.Backoff,
			},
			Metrics: s.metrics,
		}
	}

	ctrl, err := vm.New(ctx, opts)
	if err != nil {
		return shutdown.Result{}, fmt.Errorf("create VM: %w", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			s.log.Warn().Err(err).Msg("release VM resources")
		}
	}()
	s.timer.Mark("vm_create")

	// Subscribe before starting so a guest that stops at once is seen.
	sub := ctrl.SubscribeShutdown()
	defer sub.Unsubscribe()

	if err := ctrl.Start(ctx); err != nil {
		return shutdown.Result{}, fmt.Errorf("start VM: %w", err)
	}
	s.timer.Mark("vm_start")
	if timing.Enabled() {
		s.timer.Report(os.Stderr)
	}
	s.timer.Log(s.log)

	var rootSize int64
	if s.cfg.Root != nil {
		rootSize = s.cfg.Root.Size.Bytes()
	}
	if err := s.records.RecordBoot(rootSize); err != nil {
		s.log.Warn().Err(err).Msg("record boot")
	}

	res := shutdown.New(shutdown.Config{
		VM:         ctrl,
		Shell:      s.shell,
		Shutdown:   sub,
		Interrupts: s.interrupts,
		Logger:     s.log,
	}).Run(ctx)

	if err := s.records.RecordShutdown(res.Trigger.String(), !res.Forced); err != nil {
		s.log.Warn().Err(err).Msg("record shutdown")
	}
	return res, nil
}

// prepareDisks creates the root disk on first use.
func prepareDisks(paths *config.Paths, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Root == nil {
		return nil
	}
	images := vm.NewImageManager(paths.Home)
	path, created, err := images.EnsureDisk(cfg.RootPath(paths), cfg.Root.Size.Bytes())
	if err != nil {
		return fmt.Errorf("prepare root disk: %w", err)
	}
	if created {
		log.Info().Str("path", path).Str("size", cfg.Root.Size.Human()).Msg("created root disk")
	}
	return nil
}

// serveMetrics exposes reg on addr until ctx ends. Failures are logged; the
// VM keeps running without metrics.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("serving metrics")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
