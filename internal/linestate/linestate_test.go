package linestate

import (
	"testing"

	"github.com/grantwilk/busnode/internal/led"
)

type noopLEDs struct{}

func (noopLEDs) Clear()                        {}
func (noopLEDs) Set(which led.Indicator, on bool) {}

func TestInitialStateIsIdle(t *testing.T) {
	m := New(noopLEDs{})
	if m.State() != IDLE {
		t.Fatalf("initial state = %v, want IDLE", m.State())
	}
}

func TestFallingEdgeTransitionsToBusy(t *testing.T) {
	m := New(noopLEDs{})
	start := m.OnEdge(false, true)
	if !start {
		t.Fatalf("expected OnEdge to request timeout start when not running")
	}
	if m.State() != BUSY {
		t.Fatalf("state after falling edge = %v, want BUSY", m.State())
	}
}

func TestRisingEdgeDoesNotChangeState(t *testing.T) {
	m := New(noopLEDs{})
	m.OnEdge(false, true) // -> BUSY
	m.OnEdge(true, false) // rising, timeout already running
	if m.State() != BUSY {
		t.Fatalf("state after rising edge = %v, want BUSY (unchanged)", m.State())
	}
}

func TestTimeoutHighGoesIdleAndFinalizes(t *testing.T) {
	m := New(noopLEDs{})
	m.OnEdge(false, true)
	finalize, discard, arm := m.OnTimeout(true)
	if !finalize || discard || arm {
		t.Fatalf("OnTimeout(high) = (%v,%v,%v), want (true,false,false)", finalize, discard, arm)
	}
	if m.State() != IDLE {
		t.Fatalf("state after idle timeout = %v, want IDLE", m.State())
	}
}

func TestTimeoutLowGoesCollisionAndDiscards(t *testing.T) {
	m := New(noopLEDs{})
	m.OnEdge(false, true)
	finalize, discard, arm := m.OnTimeout(false)
	if finalize || !discard || !arm {
		t.Fatalf("OnTimeout(low) = (%v,%v,%v), want (false,true,true)", finalize, discard, arm)
	}
	if m.State() != COLLISION {
		t.Fatalf("state after collision timeout = %v, want COLLISION", m.State())
	}
}

func TestBackoffExpiryTransitions(t *testing.T) {
	m := New(noopLEDs{})
	m.OnEdge(false, true)
	m.OnTimeout(false) // -> COLLISION
	if m.OnBackoffExpiry(false) {
		t.Fatalf("expected rearm (stay COLLISION) when line still low")
	}
	if m.State() != COLLISION {
		t.Fatalf("state = %v, want COLLISION", m.State())
	}
	if !m.OnBackoffExpiry(true) {
		t.Fatalf("expected transition to IDLE when line high")
	}
	if m.State() != IDLE {
		t.Fatalf("state = %v, want IDLE", m.State())
	}
}

func TestFallingEdgeDuringCollisionDoesNotLeaveCollision(t *testing.T) {
	m := New(noopLEDs{})
	m.OnEdge(false, true)
	m.OnTimeout(false) // -> COLLISION
	m.OnEdge(true, true)
	if m.State() != COLLISION {
		t.Fatalf("state after falling edge during COLLISION = %v, want COLLISION (only OnBackoffExpiry may exit)", m.State())
	}
}

func TestCanTransmitAndCanStartTX(t *testing.T) {
	m := New(noopLEDs{})
	if !m.CanTransmit() || !m.CanStartTX() {
		t.Fatalf("IDLE should allow transmit and starting a new TX")
	}
	m.OnEdge(false, true)
	if !m.CanTransmit() || m.CanStartTX() {
		t.Fatalf("BUSY should allow transmit but not starting a new TX")
	}
	m.OnTimeout(false) // -> COLLISION
	if m.CanTransmit() {
		t.Fatalf("COLLISION must never allow transmit")
	}
}

// TestReachableSuccessorsAreSound walks every (state, event) pair and checks
// the resulting state is always one of the three known states — the
// "soundness" property from the specification's test matrix.
func TestReachableSuccessorsAreSound(t *testing.T) {
	valid := func(s State) bool { return s == IDLE || s == BUSY || s == COLLISION }

	m := New(noopLEDs{})
	if !valid(m.State()) {
		t.Fatalf("invalid initial state %v", m.State())
	}
	for _, falling := range []bool{true, false} {
		for _, running := range []bool{true, false} {
			m := New(noopLEDs{})
			m.OnEdge(running, falling)
			if !valid(m.State()) {
				t.Fatalf("OnEdge(%v,%v) produced invalid state %v", running, falling, m.State())
			}
		}
	}
	for _, lineHigh := range []bool{true, false} {
		m := New(noopLEDs{})
		m.OnEdge(false, true)
		m.OnTimeout(lineHigh)
		if !valid(m.State()) {
			t.Fatalf("OnTimeout(%v) produced invalid state %v", lineHigh, m.State())
		}
	}
	for _, lineHigh := range []bool{true, false} {
		m := New(noopLEDs{})
		m.OnEdge(false, true)
		m.OnTimeout(false)
		m.OnBackoffExpiry(lineHigh)
		if !valid(m.State()) {
			t.Fatalf("OnBackoffExpiry(%v) produced invalid state %v", lineHigh, m.State())
		}
	}
}
