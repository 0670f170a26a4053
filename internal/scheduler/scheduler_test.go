package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_InvalidSchedule(t *testing.T) {
	s := New(discard())
	err := s.Register("every now and then", "bad", func(context.Context) (int64, error) { return 0, nil })
	assert.ErrorContains(t, err, "schedule bad")
}

func TestRun_FiresJobsUntilCancelled(t *testing.T) {
	s := New(discard())
	var calls atomic.Int32
	require.NoError(t, s.Register("@every 1s", "tick", func(context.Context) (int64, error) {
		calls.Add(1)
		return 1, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	s := New(slog.New(slog.NewTextHandler(&buf, nil)))

	s.run("purge", func(context.Context) (int64, error) { return 0, errors.New("db gone") })
	assert.Contains(t, buf.String(), "job failed")
	assert.Contains(t, buf.String(), "db gone")
}

type purgerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f purgerFunc) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

func TestPurgeSentOutbox_UsesRetention(t *testing.T) {
	var cutoff time.Time
	job := PurgeSentOutbox(purgerFunc(func(_ context.Context, before time.Time) (int64, error) {
		cutoff = before
		return 7, nil
	}), 24*time.Hour)

	n, err := job(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
}
