package lineio

import (
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/grantwilk/busnode/internal/buserr"
	"github.com/grantwilk/busnode/internal/logging"
)

// levelHigh and levelLow are the single bytes UARTLine writes to signal the
// line's level across the wire to a peer adapter (e.g. a bit-bang
// transceiver on the other end of the serial cable).
const (
	levelHigh = 0xFF
	levelLow  = 0x00
)

// port narrows *serial.Port to what UARTLine needs, matching the teacher's
// internal/serial.Port seam for testability.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// UARTLine drives the bus line over a real serial port using
// github.com/tarm/serial, the teacher's own serial transport dependency.
// Each level change is written as a single sentinel byte; a background
// reader goroutine decodes incoming sentinel bytes back into edges.
type UARTLine struct {
	p port

	mu   sync.Mutex
	high bool
	edge func(bool)

	done chan struct{}
}

// OpenUART opens name at baud and starts the background reader.
func OpenUART(name string, baud int) (*UARTLine, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: 100 * time.Millisecond}
	sp, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, buserr.New(buserr.SerialNotInit, err.Error())
	}
	l := &UARTLine{p: sp, high: true, done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *UARTLine) readLoop() {
	buf := make([]byte, 1)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		n, err := l.p.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		var high bool
		switch buf[0] {
		case levelHigh:
			high = true
		case levelLow:
			high = false
		default:
			continue
		}
		l.mu.Lock()
		changed := l.high != high
		l.high = high
		cb := l.edge
		l.mu.Unlock()
		if changed && cb != nil {
			cb(high)
		}
	}
}

func (l *UARTLine) write(b byte) {
	if _, err := l.p.Write([]byte{b}); err != nil {
		buserr.Warn(buserr.New(buserr.SerialTimeout, err.Error()))
	}
}

func (l *UARTLine) SetHigh() {
	l.mu.Lock()
	l.high = true
	l.mu.Unlock()
	l.write(levelHigh)
}

func (l *UARTLine) SetLow() {
	l.mu.Lock()
	l.high = false
	l.mu.Unlock()
	l.write(levelLow)
}

func (l *UARTLine) IsHigh() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *UARTLine) InstallEdge(cb func(highAfterEdge bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edge = cb
}

// Close stops the reader goroutine and closes the underlying port.
func (l *UARTLine) Close() error {
	close(l.done)
	logging.L().Debug("uart_line_closed")
	return l.p.Close()
}
