package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) Name() string                  { return j.name }

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 1s", funcJob{"tick", func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_FailureAndPanicDoNotStopSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("* * * * * *", funcJob{"flaky", func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("upstream down")
		case 2:
			panic("bug")
		}
		return nil
	}}))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 6*time.Second, 50*time.Millisecond)
}

func TestScheduler_RunNowAndStopCancels(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	var canceled atomic.Bool
	s.RunNow(funcJob{"blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}})
	s.Start()

	<-started
	s.Stop()
	assert.True(t, canceled.Load())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("every now and then", funcJob{"bad", func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestSafeRun_RecoversPanic(t *testing.T) {
	err := safeRun(context.Background(), funcJob{"p", func(context.Context) error { panic("x") }})
	assert.ErrorContains(t, err, "panic")
}

func TestScheduler_RunNowDoesNotOverlapTicks(t *testing.T) {
	s := New(zerolog.Nop())
	var running, maxRunning, runs atomic.Int32
	job := funcJob{"slow", func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(2500 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	s.RunNow(job)

	time.Sleep(3500 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestScheduler_SecondRunNowSkippedWhileRunning(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	job := funcJob{"once", func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}

	s.RunNow(job)
	<-started
	s.RunNow(job)
	time.Sleep(100 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), runs.Load())
}
