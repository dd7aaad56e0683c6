package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manila(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	return loc
}

func TestRegister_ValidatesSchedule(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, r.Register("reminders", "0 8 * * *", noop))
	require.NoError(t, r.Register("cleanup", "@hourly", noop))
	require.NoError(t, r.Register("manual", "", noop))

	assert.Error(t, r.Register("bad", "every tuesday", noop))
	assert.Error(t, r.Register("reminders", "0 9 * * *", noop), "duplicate names are rejected")
	assert.Equal(t, []string{"cleanup", "manual", "reminders"}, r.Names())
}

func TestRunOnce(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	calls := 0
	require.NoError(t, r.Register("count", "", func(ctx context.Context) error {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "runs are bounded by a timeout")
		return nil
	}))

	require.NoError(t, r.RunOnce(context.Background(), "count"))
	assert.Equal(t, 1, calls)

	err := r.RunOnce(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunOnce_ReturnsJobError(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	boom := errors.New("boom")
	require.NoError(t, r.Register("fail", "", func(context.Context) error { return boom }))
	assert.ErrorIs(t, r.RunOnce(context.Background(), "fail"), boom)
}

func TestRunOnce_Timeout(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	r.SetTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register("slow", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.ErrorIs(t, r.RunOnce(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestNext_UsesClinicTimezone(t *testing.T) {
	loc := manila(t)
	r := NewRunner(loc, zerolog.Nop())
	require.NoError(t, r.Register("reminders", "0 8 * * *", func(context.Context) error { return nil }))

	// 2026-10-19 09:00 Manila is past today's run.
	now := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
	next, err := r.Next("reminders", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 8, 0, 0, 0, loc), next)

	_, err = r.Next("nope", now)
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStartStop(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	require.NoError(t, r.Register("noop", "@every 1h", func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	r.Stop(stopCtx)
	assert.NoError(t, stopCtx.Err(), "stop should not wait for the deadline")
}
