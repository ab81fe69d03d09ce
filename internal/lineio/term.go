package lineio

import (
	"sync"

	"github.com/pkg/term"

	"github.com/grantwilk/busnode/internal/buserr"
	"github.com/grantwilk/busnode/internal/logging"
)

// TermLine is an alternative Line backend opening the raw terminal device
// directly via github.com/pkg/term instead of tarm/serial, grounded on the
// samoyed source's serial_port_open/serial_port_write/serial_port_get1
// trio. Useful on platforms or devices tarm/serial doesn't support cleanly.
type TermLine struct {
	fd *term.Term

	mu   sync.Mutex
	high bool
	edge func(bool)

	done chan struct{}
}

// OpenTerm opens devicename in raw mode at baud and starts the background
// reader, mirroring serial_port_open's speed-validation fallback to 4800
// baud on an unsupported rate.
func OpenTerm(devicename string, baud int) (*TermLine, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, buserr.New(buserr.SerialNotInit, err.Error())
	}
	switch baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		_ = fd.SetSpeed(baud)
	default:
		logging.L().Warn("term_line_unsupported_baud", "requested", baud, "using", 4800)
		_ = fd.SetSpeed(4800)
	}
	l := &TermLine{fd: fd, high: true, done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *TermLine) readLoop() {
	buf := make([]byte, 1)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		n, err := l.fd.Read(buf)
		if n != 1 || err != nil {
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

func (l *TermLine) write(b byte) {
	written, err := l.fd.Write([]byte{b})
	if written != 1 || err != nil {
		buserr.Warn(buserr.New(buserr.SerialTimeout, "term line write"))
	}
}

func (l *TermLine) SetHigh() {
	l.mu.Lock()
	l.high = true
	l.mu.Unlock()
	l.write(levelHigh)
}

func (l *TermLine) SetLow() {
	l.mu.Lock()
	l.high = false
	l.mu.Unlock()
	l.write(levelLow)
}

func (l *TermLine) IsHigh() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *TermLine) InstallEdge(cb func(highAfterEdge bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edge = cb
}

// Close stops the reader goroutine and closes the underlying device.
func (l *TermLine) Close() error {
	close(l.done)
	return l.fd.Close()
}
