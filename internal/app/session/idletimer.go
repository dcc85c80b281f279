package session

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// IdleStages are the countdown offsets, measured from the moment idleness is
// detected. The warnings announce the time remaining until disconnect.
type IdleStages struct {
	Warn1Min   time.Duration
	Warn30Sec  time.Duration
	Disconnect time.Duration
}

// DefaultIdleStages gives listeners five minutes to come back, with warnings
// at one minute and thirty seconds before disconnect.
func DefaultIdleStages() IdleStages {
	return IdleStages{
		Warn1Min:   4 * time.Minute,
		Warn30Sec:  4*time.Minute + 30*time.Second,
		Disconnect: 5 * time.Minute,
	}
}

// idleHooks connect the countdown to the owning session. stillIdle is
// re-evaluated before every stage so a late resume or returning listener
// aborts the countdown even if the cancel raced the stage timer.
type idleHooks struct {
	stillIdle  func() bool
	warn       func(ctx context.Context, remaining time.Duration) (messageRef, bool)
	disconnect func(ctx context.Context)
}

type messageRef struct {
	channelID string
	messageID string
}

// idleTimer runs the staged auto-disconnect countdown. Stages fire on an
// absolute grid anchored at Schedule time, so a slow warning post does not
// push the disconnect later.
type idleTimer struct {
	stages        IdleStages
	deleteWarning func(ref messageRef)

	mu       sync.Mutex
	cancel   context.CancelFunc
	warnings []messageRef
}

func newIdleTimer(stages IdleStages, deleteWarning func(ref messageRef)) *idleTimer {
	return &idleTimer{stages: stages, deleteWarning: deleteWarning}
}

// Active reports whether a countdown is currently running.
func (it *idleTimer) Active() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cancel != nil
}

// Schedule starts the countdown. No-op when one is already running, so the
// anchor of the first detection wins.
func (it *idleTimer) Schedule(h idleHooks) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	it.cancel = cancel
	anchor := time.Now()

	go it.run(ctx, anchor, h)
}

// Cancel stops the countdown and removes any posted warning messages.
// Safe to call repeatedly.
func (it *idleTimer) Cancel() {
	it.mu.Lock()
	cancel := it.cancel
	it.cancel = nil
	warnings := it.warnings
	it.warnings = nil
	it.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, ref := range warnings {
		it.deleteWarning(ref)
	}
}

func (it *idleTimer) run(ctx context.Context, anchor time.Time, h idleHooks) {
	type stage struct {
		offset    time.Duration
		remaining time.Duration // 0 means disconnect
	}
	stages := []stage{
		{offset: it.stages.Warn1Min, remaining: it.stages.Disconnect - it.stages.Warn1Min},
		{offset: it.stages.Warn30Sec, remaining: it.stages.Disconnect - it.stages.Warn30Sec},
		{offset: it.stages.Disconnect},
	}

	for _, st := range stages {
		if !it.sleepUntil(ctx, anchor.Add(st.offset)) {
			return
		}
		if !h.stillIdle() {
			zlog.Debug().Msgf("idle countdown aborted, session active again")
			it.Cancel()
			return
		}

		if st.remaining > 0 {
			if ref, ok := h.warn(ctx, st.remaining); ok {
				it.mu.Lock()
				it.warnings = append(it.warnings, ref)
				it.mu.Unlock()
			}
			continue
		}

		// Cancel kills ctx, so the disconnect runs on its own deadline.
		it.Cancel()
		dctx, done := context.WithTimeout(context.Background(), cleanupTimeout)
		h.disconnect(dctx)
		done()
		return
	}
}

func (it *idleTimer) sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
