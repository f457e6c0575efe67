package display

import (
	"context"
	"errors"
	"testing"

	"fyne.io/fyne/v2/test"
	"github.com/rs/zerolog"

	"github.com/javanstorm/vermuda/internal/shell"
	"github.com/javanstorm/vermuda/internal/testutil"
)

func newTestApp(t *testing.T) (*App, *shell.Shell, *int) {
	t.Helper()
	sh := shell.New(shell.Options{Logger: zerolog.Nop()})
	a := newApp(test.NewTempApp(t), sh, Options{Logger: zerolog.Nop()})
	quits := 0
	a.quit = func() { quits++ }
	return a, sh, &quits
}

func TestCloseDefersThenQuits(t *testing.T) {
	a, sh, quits := newTestApp(t)

	a.closeRequested()
	if *quits != 0 {
		t.Fatal("first close should defer to shutdown")
	}
	select {
	case <-sh.ExitRequested():
	default:
		t.Fatal("first close should request exit")
	}

	a.closeRequested()
	if *quits != 1 {
		t.Errorf("second close should quit, got %d quits", *quits)
	}
}

func TestOpenerRequiresConsole(t *testing.T) {
	a, _, _ := newTestApp(t)

	_, err := a.Opener()(context.Background(), testutil.NewFakeMachine())
	if !errors.Is(err, ErrNoConsole) {
		t.Errorf("Opener() error = %v, want ErrNoConsole", err)
	}
}

func TestDefaultTitle(t *testing.T) {
	a, _, _ := newTestApp(t)
	if a.opts.Title != "vermuda" {
		t.Errorf("Title = %q, want vermuda", a.opts.Title)
	}
}
