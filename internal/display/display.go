// Package display provides the console window shown while the VM runs.
package display

import (
	"context"
	"errors"
	"io"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	fyneterm "github.com/fyne-io/terminal"
	"github.com/rs/zerolog"

	"github.com/javanstorm/vermuda/internal/shell"
	"github.com/javanstorm/vermuda/internal/vm"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// ErrNoConsole is returned when the machine exposes no serial console.
var ErrNoConsole = errors.New("machine has no console")

// Options configures the console window.
type Options struct {
	Title  string
	Width  int
	Height int
	Logger zerolog.Logger
}

// App owns the fyne application. Run must be called on the main goroutine.
type App struct {
	app   fyne.App
	shell *shell.Shell
	opts  Options
	log   zerolog.Logger
	quit  func()
}

// New creates the application and hooks reactivation to sh.Promote.
func New(sh *shell.Shell, opts Options) *App {
	return newApp(app.NewWithID("io.vermuda"), sh, opts)
}

func newApp(fa fyne.App, sh *shell.Shell, opts Options) *App {
	if opts.Title == "" {
		opts.Title = "vermuda"
	}
	a := &App{
		app:   fa,
		shell: sh,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "display").Logger(),
		quit:  fa.Quit,
	}
	fa.Lifecycle().SetOnEnteredForeground(sh.Promote)
	return a
}

// Run blocks in the fyne event loop until Quit.
func (a *App) Run() {
	a.app.Run()
}

// Quit stops the event loop. Safe from any goroutine.
func (a *App) Quit() {
	fyne.Do(a.quit)
}

// closeRequested is the window's close intercept. The first close defers
// to the shutdown coordinator; a second one quits at once.
func (a *App) closeRequested() {
	if a.shell.ShouldTerminate() {
		a.log.Info().Msg("window closed, shutting down guest")
		return
	}
	a.quit()
}

// Opener returns a vm.DisplayOpener that shows the machine console.
func (a *App) Opener() vm.DisplayOpener {
	return func(ctx context.Context, m hypervisor.Machine) (vm.Display, error) {
		c, ok := m.(hypervisor.Consoler)
		if !ok {
			return nil, ErrNoConsole
		}
		in, out, err := c.Console()
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return a.open(in, out), nil
	}
}

func (a *App) open(in io.WriteCloser, out io.Reader) *consoleWindow {
	cw := &consoleWindow{in: in}
	fyne.DoAndWait(func() {
		w := a.app.NewWindow(a.opts.Title)
		w.SetPadded(false)
		if a.opts.Width > 0 && a.opts.Height > 0 {
			w.Resize(fyne.NewSize(float32(a.opts.Width), float32(a.opts.Height)))
		}

		t := fyneterm.New()
		w.SetContent(t)
		w.SetCloseIntercept(a.closeRequested)
		w.Show()
		w.Canvas().Focus(t)

		cw.win = w
		cw.term = t
	})
	a.shell.RegisterWindow(window{cw.win})

	go func() {
		err := cw.term.RunWithConnection(in, out)
		a.log.Debug().Err(err).Msg("console connection ended")
	}()
	return cw
}

// consoleWindow is the vm.Display for one run.
type consoleWindow struct {
	in   io.WriteCloser
	win  fyne.Window
	term *fyneterm.Terminal
	once sync.Once
}

// Close hides the window and releases the guest input pipe.
func (c *consoleWindow) Close() {
	c.once.Do(func() {
		fyne.Do(c.win.Hide)
		_ = c.in.Close()
	})
}

// window adapts fyne.Window to shell.Window, hopping to the UI goroutine.
type window struct {
	w fyne.Window
}

func (w window) Show()         { fyne.Do(w.w.Show) }
func (w window) RequestFocus() { fyne.Do(w.w.RequestFocus) }
