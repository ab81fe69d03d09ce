// Package linestate implements the bus line's three-state machine: IDLE,
// BUSY, COLLISION, driven purely by line-edge and timeout events. It owns
// no timers or line I/O itself — link.Link feeds it events and acts on its
// return values (start/stop timers, drive the line, finalize or discard the
// RX under-construction slot).
package linestate

import (
	"github.com/grantwilk/busnode/internal/led"
	"github.com/grantwilk/busnode/internal/metrics"
)

// State is one of the three reachable bus-line states.
type State int

const (
	IDLE State = iota
	BUSY
	COLLISION
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case BUSY:
		return "BUSY"
	case COLLISION:
		return "COLLISION"
	default:
		return "UNKNOWN"
	}
}

// Machine holds the current state and drives LED side effects. The zero
// value is not usable; construct with New.
type Machine struct {
	state State
	leds  led.Driver
}

// New creates a state machine in the initial IDLE state, lighting the green
// indicator.
func New(leds led.Driver) *Machine {
	m := &Machine{state: IDLE, leds: leds}
	led.SetOnly(m.leds, led.Green)
	metrics.SetLineState(metrics.StateIdle)
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) set(s State) {
	m.state = s
	switch s {
	case IDLE:
		led.SetOnly(m.leds, led.Green)
		metrics.SetLineState(metrics.StateIdle)
	case BUSY:
		led.SetOnly(m.leds, led.Yellow)
		metrics.SetLineState(metrics.StateBusy)
	case COLLISION:
		led.SetOnly(m.leds, led.Red)
		metrics.SetLineState(metrics.StateCollision)
	}
}

// OnEdge handles a line-edge event. timeoutRunning reports whether the
// idle/activity timeout is currently running; the boolean return reports
// whether the caller must start it (it always resets the timeout's elapsed
// counter, regardless). falling reports whether the edge was the line going
// low.
func (m *Machine) OnEdge(timeoutRunning bool, falling bool) (startTimeout bool) {
	if falling && m.state != COLLISION {
		m.set(BUSY)
	}
	return !timeoutRunning
}

// OnTimeout handles the idle/activity timeout elapsing. lineHigh is the
// sampled line level at that instant. It reports whether the RX
// under-construction slot should be finalized (line went idle) or
// discarded (a collision was detected), and whether a backoff should be
// armed.
func (m *Machine) OnTimeout(lineHigh bool) (finalize, discard, armBackoff bool) {
	if lineHigh {
		m.set(IDLE)
		return true, false, false
	}
	m.set(COLLISION)
	metrics.IncCollision()
	metrics.IncBackoff()
	return false, true, true
}

// OnBackoffExpiry handles the backoff timer elapsing while in COLLISION.
// lineHigh is the sampled line level at that instant: if high, the bus
// transitions to IDLE and a new TX may be attempted; otherwise COLLISION
// rearms (the caller is expected to restart the backoff timer).
func (m *Machine) OnBackoffExpiry(lineHigh bool) (toIdle bool) {
	if lineHigh {
		m.set(IDLE)
		return true
	}
	m.set(COLLISION)
	metrics.IncBackoff()
	return false
}

// CanTransmit reports whether a half-bit tick may drive the line: any state
// other than COLLISION.
func (m *Machine) CanTransmit() bool { return m.state != COLLISION }

// CanStartTX reports whether a new transmission may begin: only from IDLE.
func (m *Machine) CanStartTX() bool { return m.state == IDLE }
