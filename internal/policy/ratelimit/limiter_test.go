package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTime drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeTime struct {
	current time.Time
	slept   []time.Duration
}

func (f *fakeTime) now() time.Time { return f.current }

func (f *fakeTime) sleep(_ context.Context, d time.Duration) error {
	f.slept = append(f.slept, d)
	f.current = f.current.Add(d)
	return nil
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeTime) {
	ft := &fakeTime{current: time.Unix(1_700_000_000, 0)}
	l := New(Config{Limit: limit, Window: window})
	l.now = ft.now
	l.sleep = ft.sleep
	return l, ft
}

func TestThirdCallWaitsForWindowRemainder(t *testing.T) {
	t.Parallel()

	l, ft := newTestLimiter(2, 60*time.Second)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	require.Empty(t, ft.slept, "first two calls admitted immediately")

	// Window is full; the third call must queue until the oldest admission
	// ages out, not fail or run immediately.
	require.NoError(t, l.Wait(ctx))
	require.NotEmpty(t, ft.slept)

	var total time.Duration
	for _, d := range ft.slept {
		total += d
	}
	require.GreaterOrEqual(t, total, 60*time.Second)
}

func TestCapacityFreesAsStampsExpire(t *testing.T) {
	t.Parallel()

	l, ft := newTestLimiter(1, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	ft.current = ft.current.Add(11 * time.Second)
	require.NoError(t, l.Wait(ctx))
	require.Empty(t, ft.slept, "expired stamp should free capacity without sleeping")
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 1, Window: time.Hour})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentWaitersAllAdmitted(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 3, Window: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() { done <- l.Wait(ctx) }()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-done)
	}
}
