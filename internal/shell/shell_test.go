package shell

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestShouldTerminateDefersFirstRequest(t *testing.T) {
	s := New(Options{})

	assert.False(t, closed(s.ExitRequested()))
	assert.True(t, s.ShouldTerminate(), "first request is deferred")
	assert.True(t, closed(s.ExitRequested()))
	assert.True(t, s.Terminating())

	assert.False(t, s.ShouldTerminate(), "second request quits now")
}

func TestSetTerminatingReportsPrevious(t *testing.T) {
	s := New(Options{})
	assert.False(t, s.SetTerminating())
	assert.True(t, s.SetTerminating())

	// Once terminating, quit requests are not deferred and raise no exit
	// request.
	assert.False(t, s.ShouldTerminate())
	assert.False(t, closed(s.ExitRequested()))
}

func TestShouldTerminateConcurrent(t *testing.T) {
	s := New(Options{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		deferred int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ShouldTerminate() {
				mu.Lock()
				deferred++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, deferred)
}

func TestReplyAndTerminateOnce(t *testing.T) {
	var replies []bool
	terminated := 0
	s := New(Options{
		OnReply:     func(ok bool) { replies = append(replies, ok) },
		OnTerminate: func() { terminated++ },
	})

	s.ReplyToTerminate(true)
	s.ReplyToTerminate(false)
	s.Terminate()
	s.Terminate()

	assert.Equal(t, []bool{true}, replies)
	assert.Equal(t, 1, terminated)
}

type fakeWindow struct{ shown, focused int }

func (w *fakeWindow) Show()         { w.shown++ }
func (w *fakeWindow) RequestFocus() { w.focused++ }

func TestPromote(t *testing.T) {
	s := New(Options{})
	s.Promote() // no window yet

	w := &fakeWindow{}
	s.RegisterWindow(w)
	s.Promote()

	assert.Equal(t, 1, w.shown)
	assert.Equal(t, 1, w.focused)
}
