package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SerializesWithMinInterval(t *testing.T) {
	const interval = 50 * time.Millisecond
	g := New(interval)
	ctx := context.Background()

	_, release1, err := g.Acquire(ctx)
	require.NoError(t, err)

	var secondStart time.Time
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, release2, err2 := g.Acquire(ctx)
		assert.NoError(t, err2)
		secondStart = time.Now()
		release2()
	}()

	time.Sleep(10 * time.Millisecond) // let the second caller queue up
	firstRelease := time.Now()
	release1()
	wg.Wait()

	assert.GreaterOrEqual(t, secondStart.Sub(firstRelease), interval,
		"second call must start at least min interval after the first release")
}

func TestGate_ReleaseIdempotent(t *testing.T) {
	g := New(time.Millisecond)
	_, release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release() // second call must not double-free the slot

	_, release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGate_ContextCancelWhileQueued(t *testing.T) {
	g := New(time.Millisecond)
	_, release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, acquireErr := g.Acquire(ctx)
		errCh <- acquireErr
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queued Acquire did not observe cancellation")
	}
}

func TestGate_AbortWithFreeSlotRejectsDeterministically(t *testing.T) {
	g := New(time.Millisecond)
	g.AbortAll("test shutdown")

	// The slot is free, so Acquire's select can pick it over the abort
	// signal; the post-slot re-check must still turn every attempt away.
	for i := 0; i < 100; i++ {
		_, _, err := g.Acquire(context.Background())
		require.ErrorIs(t, err, ErrAborted)
	}
}

func TestGate_AbortDuringIntervalWaitThenReset(t *testing.T) {
	g := New(100 * time.Millisecond)
	_, release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release() // arm the inter-call interval

	errCh := make(chan error, 1)
	go func() {
		_, _, acquireErr := g.Acquire(context.Background())
		errCh <- acquireErr
	}()
	time.Sleep(10 * time.Millisecond)
	g.AbortAll("test shutdown")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("interval wait did not observe abort")
	}

	// The aborted waiter returned its token, so a reset gate admits again.
	g.Reset()
	_, release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGate_ReleaseAfterResetDoesNotBlock(t *testing.T) {
	g := New(time.Millisecond)
	_, release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	// Reset refills the slot while the token is still held; the late
	// release must not block on the full channel.
	g.AbortAll("test shutdown")
	g.Reset()

	done := make(chan struct{})
	go func() {
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("release blocked after reset refilled the slot")
	}

	_, release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGate_ResetIsNoOpWhileLive(t *testing.T) {
	g := New(time.Millisecond)
	_, release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	g.Reset() // must not hand out a second token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()
}

func TestGate_AbortAllFailsWaitersAndInFlight(t *testing.T) {
	g := New(time.Millisecond)
	callCtx, release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, _, acquireErr := g.Acquire(context.Background())
		errCh <- acquireErr
	}()

	time.Sleep(10 * time.Millisecond)
	g.AbortAll("test shutdown")

	// The queued waiter fails.
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("queued Acquire did not observe abort")
	}

	// The in-flight call context is cancelled with the abort cause.
	select {
	case <-callCtx.Done():
		assert.ErrorIs(t, context.Cause(callCtx), ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("in-flight context not cancelled by abort")
	}
	release()

	// Until reset, new acquisitions keep failing.
	_, _, err = g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAborted)

	g.Reset()
	_, release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
