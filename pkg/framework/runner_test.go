package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRunnerCancelsSiblings(t *testing.T) {
	failure := errors.New("boom")
	r := NewRunner().Go(
		NamedRun("blocker", RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
		RunFunc(func(ctx context.Context) error {
			return failure
		}),
	)
	done := make(chan error, 1)
	go func() { done <- r.Wait() }()
	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, errors.Is(err, failure))
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerWaitIgnoresCancel(t *testing.T) {
	r := NewRunner().Go(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	r.Stop()
	require.NoError(t, r.Wait())
}

func TestRunWithContextCloser(t *testing.T) {
	unblock := make(chan struct{})
	closed := 0
	closer := closerFunc(func() error {
		closed++
		close(unblock)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := RunWithContextCloser(ctx, closer, func() error {
		<-unblock
		return errors.New("closed")
	})
	require.Equal(t, context.Canceled, err)
	require.Equal(t, 1, closed)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	first, second := errors.New("first"), errors.New("second")
	err := errs.Add(first, nil, second).Aggregate()
	require.Equal(t, "multiple errors:\nfirst\nsecond", err.Error())
	require.True(t, errors.Is(err, second))
}
