// Package timer models the two hardware timers the original firmware drove
// directly (a half-bit tick and a backoff one-shot) as goroutine-driven
// wall-clock timers, guarded by the same init/already-init/not-running
// bookkeeping the source firmware kept in static flags.
package timer

import (
	"sync"
	"time"

	"github.com/grantwilk/busnode/internal/buserr"
)

// HalfBit is a free-running periodic tick, analogous to TIM4 in the
// original firmware: once started it fires InstallTick's callback every
// period until stopped.
type HalfBit struct {
	mu      sync.Mutex
	period  time.Duration
	ticker  *time.Ticker
	running bool
	init    bool
	cb      func()
	stopCh  chan struct{}
}

// NewHalfBit constructs an uninitialized half-bit timer.
func NewHalfBit() *HalfBit { return &HalfBit{} }

// Init sets the tick period. Calling Init a second time is an error,
// mirroring hb_timer_init's already-initialized guard.
func (t *HalfBit) Init(period time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.init {
		return buserr.New(buserr.HBTimerAlreadyInit, "")
	}
	t.period = period
	t.init = true
	return nil
}

// InstallTick registers the callback invoked on every tick. It runs on an
// internal goroutine, never concurrently with itself.
func (t *HalfBit) InstallTick(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

// Start begins ticking at the configured period if not already running.
func (t *HalfBit) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.HBTimerNotInit, "")
	}
	if t.running {
		return nil
	}
	t.ticker = time.NewTicker(t.period)
	t.stopCh = make(chan struct{})
	t.running = true
	ticker, stopCh, cb := t.ticker, t.stopCh, t.cb
	go func() {
		for {
			select {
			case <-ticker.C:
				if cb != nil {
					cb()
				}
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

// Stop halts ticking. Safe to call when not running.
func (t *HalfBit) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.HBTimerNotInit, "")
	}
	if !t.running {
		return nil
	}
	t.ticker.Stop()
	close(t.stopCh)
	t.running = false
	return nil
}

// IsRunning reports whether the timer is currently ticking.
func (t *HalfBit) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// ResetAndStart restarts ticking from a fresh phase, mirroring
// halfbit_timer_reset_and_start: if already running it is stopped and
// restarted so the next tick is exactly one period away; if stopped it is
// simply started.
func (t *HalfBit) ResetAndStart() error {
	if t.IsRunning() {
		if err := t.Stop(); err != nil {
			return err
		}
	}
	return t.Start()
}

// ccFraction is the point within the period at which the capture-compare
// fires, grounded on the original firmware's TIM3->CCR1 = 750 against an
// ARR corresponding to 1100us (the idle/activity timeout), approximately
// 7/8 of the full period.
const ccFraction = 7.0 / 8.0

// Backoff is a restartable one-shot timer serving double duty, exactly as
// the original firmware's single idle/backoff timer did: while BUSY it
// times the idle/activity window (a short, fixed period) and fires a
// capture-compare partway through for the RX mid-sample repush; after a
// COLLISION it is reconfigured with a randomized, much longer period and
// used purely as the backoff delay. It fires its installed expiry callback
// once after the configured period, then stops itself, matching the
// original TIM5_IRQHandler's backoff_stop()-then-retry shape.
type Backoff struct {
	mu      sync.Mutex
	period  time.Duration
	timer   *time.Timer
	ccTimer *time.Timer
	running bool
	init    bool
	expire  func()
	capture func()
}

// NewBackoff constructs an uninitialized backoff timer.
func NewBackoff() *Backoff { return &Backoff{} }

// Init sets the one-shot period in an initial, not-yet-running state.
func (t *Backoff) Init(period time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.init {
		return buserr.New(buserr.BackoffTimerAlreadyInit, "")
	}
	t.period = period
	t.init = true
	return nil
}

// SetPeriod changes the backoff period for the next Start.
func (t *Backoff) SetPeriod(period time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.BackoffTimerNotInit, "")
	}
	t.period = period
	return nil
}

// InstallExpire registers the callback fired when the full period elapses.
func (t *Backoff) InstallExpire(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expire = cb
}

// InstallCaptureCompare registers the callback fired partway (~7/8) through
// the period, used to repush the RX engine's last sampled bit when no edge
// has arrived to do it naturally.
func (t *Backoff) InstallCaptureCompare(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capture = cb
}

// Start arms the one-shot, plus its capture-compare. Starting an
// already-running backoff timer is an error, mirroring backoff_start's
// already-running guard.
func (t *Backoff) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.BackoffTimerNotInit, "")
	}
	if t.running {
		return buserr.New(buserr.BackoffTimerAlreadyRunning, "")
	}
	t.running = true
	expire, capture := t.expire, t.capture
	t.timer = time.AfterFunc(t.period, func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		if expire != nil {
			expire()
		}
	})
	if capture != nil {
		ccAt := time.Duration(float64(t.period) * ccFraction)
		t.ccTimer = time.AfterFunc(ccAt, capture)
	}
	return nil
}

// Stop cancels a pending one-shot. Stopping an already-stopped backoff
// timer is an error, mirroring backoff_stop's not-running guard.
func (t *Backoff) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.BackoffTimerNotInit, "")
	}
	if !t.running {
		return buserr.New(buserr.BackoffTimerNotRunning, "")
	}
	t.timer.Stop()
	if t.ccTimer != nil {
		t.ccTimer.Stop()
	}
	t.running = false
	return nil
}

// Reset cancels any pending countdown without the not-running error,
// mirroring backoff_reset (TIM5->CNT = 0), which is always legal once
// initialized.
func (t *Backoff) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.init {
		return buserr.New(buserr.BackoffTimerNotInit, "")
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ccTimer != nil {
		t.ccTimer.Stop()
	}
	t.running = false
	return nil
}

// IsRunning reports whether the one-shot is currently armed.
func (t *Backoff) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
