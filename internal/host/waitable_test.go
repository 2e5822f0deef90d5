package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, l *Loop, h Handler) *Event {
	t.Helper()
	var ev *Event
	require.NoError(t, l.Invoke(context.Background(), func(m *Main) error {
		var err error
		ev, err = m.NewEvent(h)
		return err
	}))
	return ev
}

func TestWaitableCallReturnsResult(t *testing.T) {
	l := startLoop(t, WithDocument("model.rvt"))
	w := NewWaitable("double", func(m *Main, arg any) (any, error) {
		return arg.(int) * 2, nil
	})
	ev := newEvent(t, l, w)

	v, err := w.Call(context.Background(), ev, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWaitableCallPropagatesErrorsAndPanics(t *testing.T) {
	l := startLoop(t, WithDocument("model.rvt"))
	sentinel := errors.New("transaction rolled back")
	w := NewWaitable("flaky", func(m *Main, arg any) (any, error) {
		if arg == "panic" {
			panic("bad element id")
		}
		return nil, sentinel
	})
	ev := newEvent(t, l, w)

	_, err := w.Call(context.Background(), ev, "fail")
	assert.ErrorIs(t, err, sentinel)

	_, err = w.Call(context.Background(), ev, "panic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad element id")
}

func TestWaitableCallSerializes(t *testing.T) {
	l := startLoop(t, WithDocument("model.rvt"))
	var count int
	w := NewWaitable("count", func(m *Main, arg any) (any, error) {
		count++
		return count, nil
	})
	ev := newEvent(t, l, w)

	var wg sync.WaitGroup
	results := make(chan int, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := w.Call(context.Background(), ev, nil)
			if assert.NoError(t, err) {
				results <- v.(int)
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for v := range results {
		assert.False(t, seen[v], "duplicate result %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, 16)
}

func TestWaitableRejectsForeignEvent(t *testing.T) {
	l := startLoop(t, WithDocument("model.rvt"))
	a := NewWaitable("a", func(*Main, any) (any, error) { return nil, nil })
	b := NewWaitable("b", func(*Main, any) (any, error) { return nil, nil })
	ev := newEvent(t, l, a)

	_, err := b.Call(context.Background(), ev, nil)
	assert.ErrorIs(t, err, ErrHandlerMismatch)
}

func TestWaitableCallTimesOut(t *testing.T) {
	l := startLoop(t, WithDocument("model.rvt"))
	release := make(chan struct{})
	w := NewWaitable("stuck", func(*Main, any) (any, error) {
		<-release
		return nil, nil
	})
	ev := newEvent(t, l, w)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Call(ctx, ev, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
