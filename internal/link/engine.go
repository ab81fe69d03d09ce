package link

import (
	"time"

	"github.com/grantwilk/busnode/internal/buserr"
	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/linestate"
	"github.com/grantwilk/busnode/internal/metrics"
)

// onHalfBitTick is the TX engine (spec §4.9): it drives one Manchester
// symbol bit per tick from the head of the TX queue. A level change fires
// every edge callback synchronously, this Link's own onLineEdge included,
// and that takes mu, so mu is released around each line drive.
func (l *Link) onHalfBitTick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CanTransmit() {
		_ = l.hbTimer.Stop()
		l.txByteIdx, l.txBitIdx = 0, 0
		l.mu.Unlock()
		l.line.SetHigh()
		l.mu.Lock()
		return
	}
	if l.txBuf == nil {
		_ = l.hbTimer.Stop()
		return
	}
	if l.txByteIdx >= len(l.txBuf) {
		_ = l.hbTimer.Stop()
		_, _ = l.tx.Pop()
		l.txBuf = nil
		l.txByteIdx, l.txBitIdx = 0, 0
		metrics.SetTXQueueDepth(l.tx.Count())
		l.mu.Unlock()
		l.line.SetHigh()
		l.mu.Lock()
		return
	}

	bit := (l.txBuf[l.txByteIdx] >> uint(7-l.txBitIdx)) & 1
	l.mu.Unlock()
	if bit == 1 {
		l.line.SetHigh()
	} else {
		l.line.SetLow()
	}
	l.mu.Lock()
	l.txBitIdx++
	if l.txBitIdx == 8 {
		l.txBitIdx = 0
		l.txByteIdx++
	}
}

// onLineEdge is half of the RX engine (spec §4.10): every edge pushes the
// post-edge line level as one bit, resets the idle/activity timeout, and
// starts it if it wasn't already running.
func (l *Link) onLineEdge(highAfterEdge bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	running := l.boTimer.IsRunning()
	wasCollision := l.state.State() == linestate.COLLISION
	l.state.OnEdge(running, !highAfterEdge)

	// Every edge resets the idle/activity window and ensures it is running,
	// regardless of whether it already was — but only outside COLLISION,
	// where the same timer object is serving as the backoff delay and must
	// not be reconfigured back to the idle period by incidental line noise.
	if !wasCollision {
		_ = l.boTimer.Reset()
		_ = l.boTimer.SetPeriod(l.idleTimeout)
		_ = l.boTimer.Start()
	}

	bit := byte(0)
	if highAfterEdge {
		bit = 1
	}
	if err := l.rx.PushBit(bit); err != nil {
		buserr.Warn(buserr.New(buserr.PopFailure, err.Error()))
	}
}

// onMidSample is the other half of the RX engine: the capture-compare
// fixed-offset repush, extending a steady level across the Manchester
// center sample when no edge arrives to do it naturally.
func (l *Link) onMidSample() {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.rx.GetLastBit()
	if err := l.rx.PushBit(last); err != nil {
		buserr.Warn(buserr.New(buserr.PopFailure, err.Error()))
	}
}

// onTimeout fires when the shared idle/backoff timer's full period elapses.
// The same timer serves two roles depending on the current line state: in
// BUSY it is the idle/activity timeout (finalize or discard the RX slot);
// in COLLISION it is the backoff delay (retry or rearm).
func (l *Link) onTimeout() {
	l.mu.Lock()
	defer l.mu.Unlock()

	lineHigh := l.line.IsHigh()

	if l.state.State() == linestate.COLLISION {
		l.onBackoffExpiry(lineHigh)
		return
	}

	finalize, discard, armBackoff := l.state.OnTimeout(lineHigh)
	switch {
	case finalize:
		if err := l.rx.Finalize(); err != nil {
			buserr.Warn(buserr.New(buserr.PopFailure, err.Error()))
		}
		metrics.SetRXQueueDepth(l.rx.Count())
		l.tryStartTX()
	case discard:
		l.rx.Discard()
		if armBackoff {
			l.armBackoff()
		}
	}
}

func (l *Link) onBackoffExpiry(lineHigh bool) {
	if l.state.OnBackoffExpiry(lineHigh) {
		l.tryStartTX()
		return
	}
	l.armBackoff()
}

// armBackoff reconfigures the shared timer with a freshly chosen randomized
// backoff period and restarts it.
func (l *Link) armBackoff() {
	period := l.randomBackoffPeriod()
	_ = l.boTimer.SetPeriod(period)
	_ = l.boTimer.Start()
}

// randomBackoffPeriod picks uniformly among backoffSteps discrete
// durations, the smallest equal to one frame's maximum on-air time at the
// Manchester bit rate (spec §4.9's only pinned constraint).
func (l *Link) randomBackoffPeriod() time.Duration {
	maxOnAir := time.Duration(frame.MaxFrame*2*8) * l.halfBitPeriod
	idx := l.rng.IntN(backoffSteps)
	return maxOnAir * time.Duration(idx+1)
}
