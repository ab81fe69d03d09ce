// Package buserr defines the node's stable error code space and the two
// severities the specification distinguishes: non-fatal (logged, execution
// continues) and fatal (logged, process halts). It mirrors the teacher's
// sentinel-error-plus-classifier pattern rather than its wrapped-error one,
// since the underlying system here enumerates a fixed code space instead of
// wrapping arbitrary causes.
package buserr

import (
	"errors"
	"fmt"
	"os"

	"github.com/grantwilk/busnode/internal/logging"
)

// Code identifies one member of the stable error code space. Values are
// never renumbered; new codes are appended.
type Code int

const (
	NoError Code = iota
	Unknown
	Memory

	SerialNotInit
	SerialAlreadyInit
	SerialTimeout

	HBTimerNotInit
	HBTimerAlreadyInit
	HBTimerNotRunning
	HBTimerAlreadyRunning

	BackoffTimerNotInit
	BackoffTimerAlreadyInit
	BackoffTimerNotRunning
	BackoffTimerAlreadyRunning

	LEDNotInit
	LEDAlreadyInit
	SetUnknownState

	NetworkNotInit
	NetworkAlreadyInit
	TXQueueFull
	PopFailure

	InvalidManchester
	MalformedMessage
	WrongVersion
	InvalidUserInput
)

var names = map[Code]string{
	NoError:                   "no_error",
	Unknown:                   "unknown",
	Memory:                    "memory",
	SerialNotInit:             "serial_uart_not_init",
	SerialAlreadyInit:         "serial_uart_already_init",
	SerialTimeout:             "serial_uart_timeout",
	HBTimerNotInit:            "hb_timer_not_init",
	HBTimerAlreadyInit:        "hb_timer_already_init",
	HBTimerNotRunning:         "hb_timer_not_running",
	HBTimerAlreadyRunning:     "hb_timer_already_running",
	BackoffTimerNotInit:       "backoff_timer_not_init",
	BackoffTimerAlreadyInit:   "backoff_timer_already_init",
	BackoffTimerNotRunning:    "backoff_timer_not_running",
	BackoffTimerAlreadyRunning: "backoff_timer_already_running",
	LEDNotInit:                "led_not_init",
	LEDAlreadyInit:            "led_already_init",
	SetUnknownState:           "set_unknown_state",
	NetworkNotInit:            "network_not_init",
	NetworkAlreadyInit:        "network_already_init",
	TXQueueFull:               "network_tx_queue_full",
	PopFailure:                "network_pop_failure",
	InvalidManchester:         "invalid_manchester",
	MalformedMessage:          "malformed_message",
	WrongVersion:              "wrong_version",
	InvalidUserInput:          "invalid_user_input",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown"
}

// Error wraps a Code with optional free-form context, satisfying the error
// interface so call sites can use errors.As/errors.Is against Code values.
type Error struct {
	Code    Code
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Context)
}

// New constructs an *Error for the given code with optional context.
func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error, otherwise
// Unknown.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return Unknown
}

// Warn logs a non-fatal condition and lets the caller continue. Recoverable
// conditions — a full queue, a malformed frame, invalid Manchester, a
// version mismatch, a CRC failure — are always reported this way.
func Warn(err error) {
	if err == nil {
		return
	}
	logging.L().Warn("non_fatal", "code", CodeOf(err).String(), "err", err)
}

// Fatal logs a fatal condition and halts the process. Reserved for
// initialization failures; interrupt-style handlers must never call this —
// they report through Warn and continue, per the specification's
// handler-never-propagates rule.
func Fatal(err error) {
	if err == nil {
		return
	}
	logging.L().Error("fatal", "code", CodeOf(err).String(), "err", err)
	os.Exit(1)
}
