// Package led abstracts the node's status indicators. The specification
// calls for exactly one lit indicator matching the current bus state; the
// hardware LED driver is an external collaborator (out of the core link
// layer), so this package only defines the narrow contract and a
// log-backed default implementation.
package led

import "github.com/grantwilk/busnode/internal/logging"

// Indicator names one of the three status LEDs.
type Indicator int

const (
	Green Indicator = iota
	Yellow
	Red
)

func (i Indicator) String() string {
	switch i {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Driver is the narrow contract the line state machine drives: clear all
// indicators, then light exactly one.
type Driver interface {
	Clear()
	Set(which Indicator, on bool)
}

// LoggingDriver reports indicator changes through the structured logger
// instead of driving real hardware. It is the default driver and the only
// one this repository ships, since nothing in the retrieval pack grounds a
// real GPIO LED backend (see DESIGN.md).
type LoggingDriver struct{}

func (LoggingDriver) Clear() { logging.L().Debug("led_clear") }

func (LoggingDriver) Set(which Indicator, on bool) {
	logging.L().Debug("led_set", "indicator", which.String(), "on", on)
}

// SetOnly clears all indicators and lights exactly one, the pattern every
// line-state transition follows.
func SetOnly(d Driver, which Indicator) {
	d.Clear()
	d.Set(which, true)
}
