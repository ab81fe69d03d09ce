package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHalfBitTicksUntilStopped(t *testing.T) {
	hb := NewHalfBit()
	if err := hb.Init(2 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	var ticks int64
	hb.InstallTick(func() { atomic.AddInt64(&ticks, 1) })
	if err := hb.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if err := hb.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if atomic.LoadInt64(&ticks) == 0 {
		t.Fatalf("expected at least one tick")
	}
	if hb.IsRunning() {
		t.Fatalf("expected stopped after Stop")
	}
}

func TestHalfBitResetAndStartFromEitherState(t *testing.T) {
	hb := NewHalfBit()
	if err := hb.Init(2 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := hb.ResetAndStart(); err != nil {
		t.Fatalf("reset-and-start from stopped: %v", err)
	}
	if !hb.IsRunning() {
		t.Fatalf("expected running after reset-and-start")
	}
	if err := hb.ResetAndStart(); err != nil {
		t.Fatalf("reset-and-start while running: %v", err)
	}
	if !hb.IsRunning() {
		t.Fatalf("expected still running after a second reset-and-start")
	}
	_ = hb.Stop()
}

func TestHalfBitDoubleInitErrors(t *testing.T) {
	hb := NewHalfBit()
	if err := hb.Init(time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := hb.Init(time.Millisecond); err == nil {
		t.Fatalf("expected error on double init")
	}
}

func TestHalfBitNotInitErrors(t *testing.T) {
	hb := NewHalfBit()
	if err := hb.Start(); err == nil {
		t.Fatalf("expected error starting uninitialized timer")
	}
}

func TestBackoffFiresOnceThenStops(t *testing.T) {
	b := NewBackoff()
	if err := b.Init(2 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	fired := make(chan struct{}, 1)
	b.InstallExpire(func() { fired <- struct{}{} })
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("backoff never fired")
	}
	time.Sleep(5 * time.Millisecond)
	if b.IsRunning() {
		t.Fatalf("expected backoff to self-stop after firing")
	}
}

func TestBackoffCaptureCompareFiresBeforeExpiry(t *testing.T) {
	b := NewBackoff()
	if err := b.Init(40 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	var ccAt, expireAt time.Time
	done := make(chan struct{})
	b.InstallCaptureCompare(func() { ccAt = time.Now() })
	b.InstallExpire(func() { expireAt = time.Now(); close(done) })
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("backoff never expired")
	}
	if ccAt.IsZero() {
		t.Fatalf("capture-compare never fired")
	}
	if !ccAt.Before(expireAt) {
		t.Fatalf("capture-compare fired at %v, expected before expiry at %v", ccAt, expireAt)
	}
}

func TestBackoffDoubleStartErrors(t *testing.T) {
	b := NewBackoff()
	if err := b.Init(50 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()
	if err := b.Start(); err == nil {
		t.Fatalf("expected error on double start")
	}
}

func TestBackoffStopNotRunningErrors(t *testing.T) {
	b := NewBackoff()
	if err := b.Init(50 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := b.Stop(); err == nil {
		t.Fatalf("expected error stopping a non-running backoff timer")
	}
}

func TestBackoffResetAlwaysLegal(t *testing.T) {
	b := NewBackoff()
	if err := b.Init(50 * time.Millisecond); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("reset before start should be legal: %v", err)
	}
}
