package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func immediateTick() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestRunInvokesAnalyzeUntilCancelled(t *testing.T) {
	var calls int32
	w := New(60, 60, zap.NewNop(), func(ctx context.Context, windowSec int) (int, int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, 0, nil
	})
	w.tick = immediateTick

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop promptly after cancellation")
	}
}

func TestRunContinuesAfterAnalyzeError(t *testing.T) {
	var calls int32
	w := New(60, 60, zap.NewNop(), func(ctx context.Context, windowSec int) (int, int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, 0, require.AnError
		}
		return 0, 0, nil
	})
	w.tick = immediateTick

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop promptly after cancellation")
	}
}

func TestRunStopsPromptlyWithoutWaitingForInterval(t *testing.T) {
	w := New(3600, 3600, zap.NewNop(), func(ctx context.Context, windowSec int) (int, int, error) {
		return 0, 0, nil
	})
	w.tick = immediateTick

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker should stop immediately when ctx is already cancelled")
	}
}
