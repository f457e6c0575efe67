package mainthread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	t.Cleanup(func() {
		l.Stop()
		<-done
	})
	return l
}

func TestDoPreservesOrder(t *testing.T) {
	l := startLoop(t)
	ctx := context.Background()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, l.Do(ctx, func() { got = append(got, i) }))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDoRecoversPanic(t *testing.T) {
	l := startLoop(t)

	err := l.Do(context.Background(), func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The loop keeps serving after a panic.
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestDoAfterStop(t *testing.T) {
	l := New()
	l.Stop()
	err := l.Do(context.Background(), func() { t.Fatal("must not run") })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDoContextCanceledBeforeAccept(t *testing.T) {
	l := New() // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Do(ctx, func() { t.Fatal("must not run") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCall(t *testing.T) {
	l := startLoop(t)
	ctx := context.Background()

	v, err := Call(ctx, l, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	want := errors.New("nope")
	_, err = Call(ctx, l, func() (string, error) { return "", want })
	assert.ErrorIs(t, err, want)

	_, err = Call(ctx, Inline{}, func() (int, error) { panic("inline") })
	assert.Error(t, err)
}
