// Package gate serializes calls to the external transformation provider.
// The provider enforces request-rate and concurrency limits that, when
// violated, return errors indistinguishable from content errors, so every
// call in the process goes through a single-slot admission queue with a
// minimum interval between a release and the next start.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultMinInterval is the minimum delay between releasing the slot and
// admitting the next call. Tunable heuristic.
const DefaultMinInterval = 650 * time.Millisecond

// ErrAborted is returned by Acquire after AbortAll.
var ErrAborted = eris.New("gate: aborted")

// Gate admits at most one in-flight provider call at a time.
type Gate struct {
	minInterval time.Duration

	slot chan struct{}

	mu          sync.Mutex
	lastRelease time.Time
	abortCtx    context.Context
	abortCancel context.CancelCauseFunc
}

// New creates a Gate with the given minimum inter-call interval.
// minInterval <= 0 falls back to DefaultMinInterval.
func New(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	g := &Gate{
		minInterval: minInterval,
		slot:        make(chan struct{}, 1),
	}
	g.slot <- struct{}{}
	g.abortCtx, g.abortCancel = context.WithCancelCause(context.Background())
	return g
}

// Acquire blocks until the slot is free and the minimum interval since the
// previous release has elapsed. It returns a call context that is cancelled
// by AbortAll, and a release function that must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (context.Context, func(), error) {
	select {
	case <-g.aborted().Done():
		return nil, nil, g.abortErr()
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-g.slot:
	}

	// The slot case can win the select against a concurrent abort, so re-check
	// after taking the token: an aborted gate must never admit a call.
	if err := g.Aborted(); err != nil {
		g.returnSlot()
		return nil, nil, err
	}

	// Hold the slot through the interval wait so queued callers stay ordered.
	if wait := g.intervalWait(); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-g.aborted().Done():
			timer.Stop()
			g.returnSlot()
			return nil, nil, g.abortErr()
		case <-ctx.Done():
			timer.Stop()
			g.returnSlot()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(g.aborted(), func() {
		cancel(g.abortErr())
	})

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			cancel(nil)
			g.mu.Lock()
			g.lastRelease = time.Now()
			g.mu.Unlock()
			g.returnSlot()
		})
	}
	return callCtx, release, nil
}

// AbortAll cancels the in-flight call and fails every queued waiter. The gate
// must be Reset before further use; a new run re-arms it on start.
func (g *Gate) AbortAll(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abortCancel(eris.Wrap(ErrAborted, reason))
}

// Reset re-arms an aborted gate. A gate that was never aborted is untouched,
// so calling it at the start of every run is safe while other runs share the
// gate.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.abortCtx.Done():
	default:
		return
	}
	g.abortCtx, g.abortCancel = context.WithCancelCause(context.Background())
	select {
	case g.slot <- struct{}{}:
	default:
	}
}

// returnSlot hands the admission token back. Reset may have refilled the slot
// after an abort, so the push must never block.
func (g *Gate) returnSlot() {
	select {
	case g.slot <- struct{}{}:
	default:
	}
}

// Aborted reports the abort error without blocking, nil when the gate is
// live. Callers use it to tell a torn-down run apart from an ordinary
// provider failure.
func (g *Gate) Aborted() error {
	select {
	case <-g.aborted().Done():
		return g.abortErr()
	default:
		return nil
	}
}

func (g *Gate) intervalWait() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastRelease.IsZero() {
		return 0
	}
	return g.minInterval - time.Since(g.lastRelease)
}

func (g *Gate) aborted() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.abortCtx
}

func (g *Gate) abortErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cause := context.Cause(g.abortCtx); cause != nil {
		return cause
	}
	return ErrAborted
}
